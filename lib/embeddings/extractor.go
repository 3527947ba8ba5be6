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

// Package embeddings turns images and text into unit-length Chinese-CLIP
// feature vectors. Extractors own one inference session each, created at
// construction and reused by every Extract call.
package embeddings

import (
	"context"
	"fmt"

	"github.com/deadash/cnclip/lib/backends"
	"go.uber.org/zap"
)

// Encoder input names declared by the exported Chinese-CLIP towers.
const (
	ImageInputName = "image"
	TextInputName  = "text"
)

// Option configures an extractor.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	modelBackends []string
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithModelBackends restricts which backends may open the model
// (e.g. "onnx", "go"). The default allows every available backend.
func WithModelBackends(names ...string) Option {
	return func(o *options) {
		o.modelBackends = names
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// encoder runs one tower and normalizes its first output.
type encoder struct {
	session   backends.Session
	backend   backends.BackendType
	inputName string
	logger    *zap.Logger
}

// openSession creates the session for modelPath through sm.
func openSession(sm *backends.SessionManager, modelPath string, o *options) (backends.Session, backends.BackendType, error) {
	if sm == nil {
		return nil, "", fmt.Errorf("%w: session manager is required", ErrEngine)
	}
	session, backend, err := sm.CreateSession(modelPath, o.modelBackends)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w: %w", modelPath, ErrEngine, err)
	}
	return session, backend, nil
}

// checkInput verifies the session declares the input the tower is fed by.
// Sessions that report no inputs are not checked.
func checkInput(session backends.Session, name string) error {
	infos := session.InputInfo()
	if len(infos) == 0 {
		return nil
	}
	for _, info := range infos {
		if info.Name == name {
			return nil
		}
	}
	declared := make([]string, len(infos))
	for i, info := range infos {
		declared[i] = info.Name
	}
	return fmt.Errorf("%w: model has no input %q (inputs: %v)", ErrEngine, name, declared)
}

// run feeds one tensor to the session and returns the normalized first output.
func (e *encoder) run(ctx context.Context, shape []int64, data any) (FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := backends.NamedTensor{Name: e.inputName, Shape: shape, Data: data}
	if n := backends.Shape(shape).NumElements(); n != int64(in.Len()) {
		return nil, fmt.Errorf("%w: %s input shape %v holds %d elements, got %d",
			ErrShape, e.inputName, backends.Shape(shape), n, in.Len())
	}

	outputs, err := e.session.Run([]backends.NamedTensor{in})
	if err != nil {
		return nil, fmt.Errorf("running %s encoder: %w: %w", e.inputName, ErrEngine, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: %s encoder returned no outputs", ErrEngine, e.inputName)
	}

	out := outputs[0]
	if len(out.Shape) > 0 {
		if n := backends.Shape(out.Shape).NumElements(); n >= 0 && n != int64(out.Len()) {
			return nil, fmt.Errorf("%w: %s encoder output shape %v holds %d elements, tensor has %d",
				ErrEngine, e.inputName, backends.Shape(out.Shape), n, out.Len())
		}
	}

	raw, err := out.Float32s()
	if err != nil {
		return nil, fmt.Errorf("reading %s encoder output: %w: %w", e.inputName, ErrEngine, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s encoder returned an empty tensor", ErrEngine, e.inputName)
	}

	return NormalizeL2(raw)
}

func (e *encoder) close() error {
	return e.session.Close()
}
