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
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrSessionClosed is returned by Run after Close.
var ErrSessionClosed = errors.New("session is closed")

// Session represents a low-level inference session that can run tensor computations.
// This is the primitive interface that backends provide - it handles tensor I/O
// without knowledge of model semantics.
//
// Encoders are built on top of Session in the embeddings package.
type Session interface {
	// Run executes the session with the given named inputs.
	// Returns outputs in the order declared by the model.
	Run(inputs []NamedTensor) ([]NamedTensor, error)

	// InputInfo returns metadata about expected inputs.
	InputInfo() []TensorInfo

	// OutputInfo returns metadata about outputs.
	OutputInfo() []TensorInfo

	// Close releases resources associated with the session.
	Close() error
}

// NamedTensor associates a name with tensor data.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  any // []float32, []int64, []int32, []bool
}

// Float32s returns the tensor data flattened as float32 values.
func (t NamedTensor) Float32s() ([]float32, error) {
	switch data := t.Data.(type) {
	case []float32:
		return data, nil
	case []float64:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor %q has data type %T, want float32", t.Name, t.Data)
	}
}

// Len returns the number of elements held by the tensor.
func (t NamedTensor) Len() int {
	switch data := t.Data.(type) {
	case []float32:
		return len(data)
	case []float64:
		return len(data)
	case []int64:
		return len(data)
	case []int32:
		return len(data)
	case []bool:
		return len(data)
	default:
		return 0
	}
}

// TensorInfo describes a tensor's metadata.
type TensorInfo struct {
	Name     string
	Shape    []int64  // -1 for dynamic dimensions
	DataType DataType // float32, int64, etc.
}

// DataType represents tensor element types.
type DataType string

const (
	DataTypeFloat32 DataType = "float32"
	DataTypeFloat16 DataType = "float16"
	DataTypeInt64   DataType = "int64"
	DataTypeInt32   DataType = "int32"
	DataTypeBool    DataType = "bool"
)

// SessionFactory creates sessions from model files.
// Each backend implements this to provide its session creation mechanism.
type SessionFactory interface {
	// CreateSession creates a session from a model file (e.g., ONNX file).
	CreateSession(modelPath string, opts ...SessionOption) (Session, error)

	// Backend returns the backend type this factory uses.
	Backend() BackendType
}

// SessionOption configures session creation.
type SessionOption func(*SessionConfig)

// SessionConfig holds configuration for session creation.
type SessionConfig struct {
	// NumThreads for intra-op parallelism (0 = runtime default)
	NumThreads int

	// GraphOptimizationLevel for ONNX (0-3)
	GraphOptimizationLevel int

	// Providers lists execution providers in preference order.
	// Empty means CPU only.
	Providers []ExecutionProvider

	// Logger receives provider fallback warnings.
	Logger *zap.Logger
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		NumThreads:             0,
		GraphOptimizationLevel: 3,
		Logger:                 zap.NewNop(),
	}
}

// WithSessionThreads sets the number of threads.
func WithSessionThreads(n int) SessionOption {
	return func(c *SessionConfig) {
		c.NumThreads = n
	}
}

// WithGraphOptimizationLevel sets the graph optimization level.
func WithGraphOptimizationLevel(level int) SessionOption {
	return func(c *SessionConfig) {
		c.GraphOptimizationLevel = level
	}
}

// WithProviders sets the execution providers.
func WithProviders(providers ...ExecutionProvider) SessionOption {
	return func(c *SessionConfig) {
		c.Providers = append([]ExecutionProvider(nil), providers...)
	}
}

// WithSessionLogger sets the logger used while configuring the session.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(c *SessionConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// ApplySessionOptions applies options to a config.
func ApplySessionOptions(opts ...SessionOption) *SessionConfig {
	cfg := DefaultSessionConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
