// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embeddings

import (
	"sync"
	"sync/atomic"

	"github.com/deadash/cnclip/lib/backends"
)

// fakeSession records its inputs and answers with a caller-supplied function.
type fakeSession struct {
	inputs []backends.TensorInfo
	fn     func(in backends.NamedTensor) ([]backends.NamedTensor, error)

	mu     sync.Mutex
	last   []backends.NamedTensor
	calls  atomic.Int32
	closed atomic.Bool
}

func newFakeSession(input string, fn func(in backends.NamedTensor) ([]backends.NamedTensor, error)) *fakeSession {
	return &fakeSession{
		inputs: []backends.TensorInfo{{Name: input}},
		fn:     fn,
	}
}

func (s *fakeSession) Run(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
	if s.closed.Load() {
		return nil, backends.ErrSessionClosed
	}
	s.calls.Add(1)
	s.mu.Lock()
	s.last = inputs
	s.mu.Unlock()
	return s.fn(inputs[0])
}

func (s *fakeSession) lastInput() backends.NamedTensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[0]
}

func (s *fakeSession) InputInfo() []backends.TensorInfo  { return s.inputs }
func (s *fakeSession) OutputInfo() []backends.TensorInfo { return nil }
func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// constOutput always returns vec as a (1, len(vec)) float32 tensor.
func constOutput(vec ...float32) func(backends.NamedTensor) ([]backends.NamedTensor, error) {
	return func(backends.NamedTensor) ([]backends.NamedTensor, error) {
		return []backends.NamedTensor{{
			Name:  "unnorm_image_features",
			Shape: []int64{1, int64(len(vec))},
			Data:  append([]float32(nil), vec...),
		}}, nil
	}
}

// runeTokenizer emits one id per rune, bracketed by 101 and 102.
type runeTokenizer struct {
	closed atomic.Bool
}

func (t *runeTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	ids := []int{}
	if addSpecialTokens {
		ids = append(ids, 101)
	}
	for _, r := range text {
		ids = append(ids, int(r))
	}
	if addSpecialTokens {
		ids = append(ids, 102)
	}
	return ids, nil
}

func (t *runeTokenizer) Close() error {
	t.closed.Store(true)
	return nil
}
