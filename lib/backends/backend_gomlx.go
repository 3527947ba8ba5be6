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
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"go.uber.org/zap"

	// Import Go backend - always available (pure Go, no CGO)
	_ "github.com/gomlx/gomlx/backends/simplego"
)

func init() {
	// The simplego package registers itself as "go" in the GoMLX registry.
	RegisterBackend(&gomlxBackend{engineType: "go"})
}

// gomlxBackend implements Backend by executing ONNX graphs with GoMLX
// (via onnx-gomlx). It needs no shared libraries and is always available,
// which makes it the fallback when ONNX Runtime is not linked in.
type gomlxBackend struct {
	engineType string

	engineOnce sync.Once
	engine     backends.Backend
	engineErr  error

	availableOnce sync.Once
	available     bool
}

func (b *gomlxBackend) Type() BackendType {
	return BackendGo
}

func (b *gomlxBackend) Name() string {
	return "GoMLX (Go)"
}

func (b *gomlxBackend) Available() bool {
	b.availableOnce.Do(func() {
		_, err := b.getEngine()
		b.available = err == nil
	})
	return b.available
}

func (b *gomlxBackend) Priority() int {
	// Always available fallback
	return 100
}

// SessionFactory returns a SessionFactory for creating GoMLX sessions.
func (b *gomlxBackend) SessionFactory() SessionFactory {
	return &gomlxSessionFactory{backend: b}
}

// getEngine returns the shared GoMLX engine, creating it on first use.
func (b *gomlxBackend) getEngine() (backends.Backend, error) {
	b.engineOnce.Do(func() {
		b.engine, b.engineErr = safeNewBackend(b.engineType)
	})
	return b.engine, b.engineErr
}

// safeNewBackend creates a new backend, catching panics from libraries
// that don't handle missing dependencies gracefully.
func safeNewBackend(backendType string) (engine backends.Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("backend %q panicked during initialization: %v", backendType, r)
		}
	}()
	return backends.NewWithConfig(backendType)
}

// gomlxSessionFactory creates sessions from ONNX model files using GoMLX.
type gomlxSessionFactory struct {
	backend *gomlxBackend
}

func (f *gomlxSessionFactory) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	cfg := ApplySessionOptions(opts...)

	engine, err := f.backend.getEngine()
	if err != nil {
		return nil, fmt.Errorf("getting GoMLX engine: %w", err)
	}

	om, err := onnx.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading ONNX model: %w", err)
	}

	ctx := mlctx.New()
	if err := om.VariablesToContext(ctx); err != nil {
		return nil, fmt.Errorf("loading ONNX variables: %w", err)
	}

	inputNames, inputShapes := om.Inputs()
	outputNames, outputShapes := om.Outputs()

	inputInfo := make([]TensorInfo, len(inputNames))
	for i, name := range inputNames {
		inputInfo[i] = TensorInfo{
			Name:     name,
			Shape:    intsToInt64s(inputShapes[i].Dimensions),
			DataType: gomlxDataType(inputShapes[i].DType),
		}
	}

	outputInfo := make([]TensorInfo, len(outputNames))
	for i, name := range outputNames {
		outputInfo[i] = TensorInfo{
			Name:     name,
			Shape:    intsToInt64s(outputShapes[i].Dimensions),
			DataType: gomlxDataType(outputShapes[i].DType),
		}
	}

	if len(cfg.Providers) > 0 {
		cfg.Logger.Debug("GoMLX backend ignores execution providers",
			zap.String("model", modelPath))
	}

	return &gomlxSession{
		onnxModel:   om,
		ctx:         ctx,
		engine:      engine,
		inputInfo:   inputInfo,
		outputInfo:  outputInfo,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func (f *gomlxSessionFactory) Backend() BackendType {
	return BackendGo
}

// gomlxSession implements Session for raw tensor I/O using GoMLX.
// Runs are serialized because the variable context is shared.
type gomlxSession struct {
	mu          sync.Mutex
	onnxModel   *onnx.Model
	ctx         *mlctx.Context
	engine      backends.Backend
	inputInfo   []TensorInfo
	outputInfo  []TensorInfo
	inputNames  []string
	outputNames []string
}

func (s *gomlxSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onnxModel == nil {
		return nil, ErrSessionClosed
	}

	inputMap := make(map[string]NamedTensor, len(inputs))
	for _, input := range inputs {
		inputMap[input.Name] = input
	}

	args := make([]any, len(s.inputNames))
	for i, name := range s.inputNames {
		input, ok := inputMap[name]
		if !ok {
			return nil, fmt.Errorf("missing input tensor: %s", name)
		}
		tensor, err := namedTensorToGoMLX(input)
		if err != nil {
			return nil, fmt.Errorf("converting input tensor %s: %w", name, err)
		}
		args[i] = tensor
	}

	graphFn := func(mlCtx *mlctx.Context, graphInputs []*graph.Node) []*graph.Node {
		inputNodeMap := make(map[string]*graph.Node, len(s.inputNames))
		for i, name := range s.inputNames {
			inputNodeMap[name] = graphInputs[i]
		}
		return s.onnxModel.CallGraph(mlCtx.Reuse(), graphInputs[0].Graph(), inputNodeMap)
	}

	results, err := mlctx.ExecOnceN(s.engine, s.ctx, graphFn, args...)
	if err != nil {
		return nil, fmt.Errorf("executing ONNX graph: %w", err)
	}

	outputs := make([]NamedTensor, len(results))
	for i, result := range results {
		name := ""
		if i < len(s.outputNames) {
			name = s.outputNames[i]
		}
		outputs[i] = gomlxToNamedTensor(result, name)
	}

	return outputs, nil
}

func (s *gomlxSession) InputInfo() []TensorInfo {
	return s.inputInfo
}

func (s *gomlxSession) OutputInfo() []TensorInfo {
	return s.outputInfo
}

func (s *gomlxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onnxModel = nil
	s.ctx = nil
	return nil
}

// intsToInt64s converts []int to []int64.
func intsToInt64s(dims []int) []int64 {
	result := make([]int64, len(dims))
	for i, d := range dims {
		result[i] = int64(d)
	}
	return result
}

// gomlxDataType converts GoMLX DType to our DataType.
func gomlxDataType(dt dtypes.DType) DataType {
	switch dt {
	case dtypes.Float16, dtypes.BFloat16:
		return DataTypeFloat16
	case dtypes.Int64:
		return DataTypeInt64
	case dtypes.Int32, dtypes.Int16, dtypes.Int8:
		return DataTypeInt32
	case dtypes.Bool:
		return DataTypeBool
	default:
		return DataTypeFloat32
	}
}

// namedTensorToGoMLX converts a NamedTensor to a GoMLX tensor.
func namedTensorToGoMLX(nt NamedTensor) (*tensors.Tensor, error) {
	dims := make([]int, len(nt.Shape))
	for i, d := range nt.Shape {
		dims[i] = int(d)
	}

	switch data := nt.Data.(type) {
	case []float32:
		return tensors.FromFlatDataAndDimensions(data, dims...), nil
	case []int64:
		return tensors.FromFlatDataAndDimensions(data, dims...), nil
	case []int32:
		i64 := make([]int64, len(data))
		for i, v := range data {
			i64[i] = int64(v)
		}
		return tensors.FromFlatDataAndDimensions(i64, dims...), nil
	case []bool:
		return tensors.FromFlatDataAndDimensions(data, dims...), nil
	default:
		return nil, fmt.Errorf("unsupported tensor data type: %T", data)
	}
}

// gomlxToNamedTensor converts a GoMLX tensor to a NamedTensor.
func gomlxToNamedTensor(t *tensors.Tensor, name string) NamedTensor {
	shape := t.Shape()
	val := t.Value()

	var data any
	switch shape.DType {
	case dtypes.Float64:
		data = flatten[float64](val)
	case dtypes.Int64:
		data = flatten[int64](val)
	case dtypes.Int32:
		data = flatten[int32](val)
	case dtypes.Bool:
		data = flatten[bool](val)
	default:
		data = flatten[float32](val)
	}

	return NamedTensor{
		Name:  name,
		Shape: intsToInt64s(shape.Dimensions),
		Data:  data,
	}
}

// flatten turns the nested slices returned by Tensor.Value into a flat
// row-major slice. Scalars become a one-element slice.
func flatten[T any](val any) []T {
	switch v := val.(type) {
	case T:
		return []T{v}
	case []T:
		return v
	case [][]T:
		return slices.Concat(v...)
	case [][][]T:
		var out []T
		for _, m := range v {
			out = append(out, slices.Concat(m...)...)
		}
		return out
	case [][][][]T:
		var out []T
		for _, c := range v {
			for _, m := range c {
				out = append(out, slices.Concat(m...)...)
			}
		}
		return out
	default:
		return nil
	}
}
