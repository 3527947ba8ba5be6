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

package backends

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	backendStub        BackendType = "stub"
	backendUnavailable BackendType = "unavailable"
)

type stubSession struct {
	closed atomic.Bool
}

func (s *stubSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return inputs, nil
}
func (s *stubSession) InputInfo() []TensorInfo  { return nil }
func (s *stubSession) OutputInfo() []TensorInfo { return nil }
func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

type stubFactory struct {
	backend  BackendType
	lastOpts *SessionConfig
}

func (f *stubFactory) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	f.lastOpts = ApplySessionOptions(opts...)
	return &stubSession{}, nil
}

func (f *stubFactory) Backend() BackendType { return f.backend }

type stubBackend struct {
	typ       BackendType
	available bool
	factory   *stubFactory
}

func (b *stubBackend) Type() BackendType              { return b.typ }
func (b *stubBackend) Name() string                   { return string(b.typ) }
func (b *stubBackend) Available() bool                { return b.available }
func (b *stubBackend) Priority() int                  { return 1 }
func (b *stubBackend) SessionFactory() SessionFactory { return b.factory }

var stub = &stubBackend{typ: backendStub, available: true, factory: &stubFactory{backend: backendStub}}

func init() {
	RegisterBackend(stub)
	RegisterBackend(&stubBackend{typ: backendUnavailable})
}

func TestSessionManagerSelectsFirstAvailable(t *testing.T) {
	sm, err := NewSessionManager(RuntimeConfig{
		Priority: []BackendSpec{
			{Backend: backendUnavailable},
			{Backend: backendStub, Device: DeviceCPU},
		},
		NumThreads:             4,
		GraphOptimizationLevel: 3,
		Providers:              []ExecutionProvider{ProviderTensorRT, ProviderCUDA},
	})
	require.NoError(t, err)
	defer sm.Close()

	session, bt, err := sm.CreateSession("model.onnx", nil)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, backendStub, bt)
	assert.Equal(t, []BackendType{backendStub}, sm.ActiveBackends())

	opts := stub.factory.lastOpts
	require.NotNil(t, opts)
	assert.Equal(t, 4, opts.NumThreads)
	assert.Equal(t, 3, opts.GraphOptimizationLevel)
	assert.Equal(t, []ExecutionProvider{ProviderTensorRT, ProviderCUDA}, opts.Providers)
}

func TestSessionManagerModelBackendsFilter(t *testing.T) {
	sm, err := NewSessionManager(RuntimeConfig{
		Priority: []BackendSpec{{Backend: backendStub}},
	})
	require.NoError(t, err)
	defer sm.Close()

	_, _, err = sm.CreateSession("model.onnx", []string{"onnx"})
	require.Error(t, err)

	_, _, err = sm.CreateSession("model.onnx", []string{"tflite"})
	require.Error(t, err)
}

func TestSessionManagerNoAvailableBackend(t *testing.T) {
	sm, err := NewSessionManager(RuntimeConfig{
		Priority: []BackendSpec{{Backend: backendUnavailable}},
	})
	require.NoError(t, err)
	defer sm.Close()

	_, _, err = sm.CreateSession("model.onnx", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
	assert.Contains(t, err.Error(), string(backendStub))
	assert.NotContains(t, err.Error(), "usable here: [unavailable")
}

func TestListAvailable(t *testing.T) {
	var types []BackendType
	for _, b := range ListAvailable() {
		assert.True(t, b.Available())
		types = append(types, b.Type())
	}
	assert.Contains(t, types, backendStub)
	assert.NotContains(t, types, backendUnavailable)
}

func TestSessionManagerCloseReleasesSessions(t *testing.T) {
	sm, err := NewSessionManager(RuntimeConfig{
		Priority: []BackendSpec{{Backend: backendStub}},
	})
	require.NoError(t, err)

	session, _, err := sm.CreateSession("model.onnx", nil)
	require.NoError(t, err)

	require.NoError(t, sm.Close())
	_, err = session.Run(nil)
	require.ErrorIs(t, err, ErrSessionClosed)

	// Close is idempotent and the manager refuses new work.
	require.NoError(t, sm.Close())
	_, _, err = sm.CreateSession("model.onnx", nil)
	require.Error(t, err)
}

func TestNewSessionManagerRejectsInvalidConfig(t *testing.T) {
	_, err := NewSessionManager(RuntimeConfig{GraphOptimizationLevel: 9})
	require.Error(t, err)
}

func TestGoBackendRegistered(t *testing.T) {
	b, ok := GetBackend(BackendGo)
	require.True(t, ok)
	assert.Equal(t, "GoMLX (Go)", b.Name())
	assert.Equal(t, BackendGo, b.SessionFactory().Backend())
}
