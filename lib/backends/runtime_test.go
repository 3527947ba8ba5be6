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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExecutionProviders(t *testing.T) {
	providers, err := ParseExecutionProviders([]string{"TensorRT", " cuda ", "cpu"})
	require.NoError(t, err)
	assert.Equal(t, []ExecutionProvider{ProviderTensorRT, ProviderCUDA, ProviderCPU}, providers)

	providers, err = ParseExecutionProviders([]string{"auto"})
	require.NoError(t, err)
	assert.Nil(t, providers)

	_, err = ParseExecutionProviders([]string{"rocm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rocm")
}

func TestRuntimeConfigValidate(t *testing.T) {
	require.NoError(t, DefaultRuntimeConfig().Validate())

	cfg := RuntimeConfig{
		NumThreads:             -1,
		GraphOptimizationLevel: 7,
		Providers:              []ExecutionProvider{"npu"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_threads")
	assert.Contains(t, err.Error(), "graph_optimization_level")
	assert.Contains(t, err.Error(), "npu")
}

func TestRuntimeConfigResolveProviders(t *testing.T) {
	explicit := RuntimeConfig{Providers: []ExecutionProvider{ProviderOpenVINO}}
	assert.Equal(t, []ExecutionProvider{ProviderOpenVINO}, explicit.ResolveProviders(DeviceCPU))

	var cfg RuntimeConfig
	assert.Nil(t, cfg.ResolveProviders(DeviceCPU))
	assert.Equal(t, []ExecutionProvider{ProviderCUDA}, cfg.ResolveProviders(DeviceCUDA))
	assert.Equal(t, []ExecutionProvider{ProviderCoreML}, cfg.ResolveProviders(DeviceCoreML))
}

func TestRuntimeConfigSessionOptions(t *testing.T) {
	cfg := RuntimeConfig{
		NumThreads:             4,
		GraphOptimizationLevel: 2,
		Providers:              []ExecutionProvider{ProviderDirectML, ProviderCPU},
	}
	sc := ApplySessionOptions(cfg.SessionOptions(DeviceAuto)...)
	assert.Equal(t, 4, sc.NumThreads)
	assert.Equal(t, 2, sc.GraphOptimizationLevel)
	assert.Equal(t, []ExecutionProvider{ProviderDirectML, ProviderCPU}, sc.Providers)
	assert.NotNil(t, sc.Logger)
}

func TestParseBackendSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    BackendSpec
		wantErr bool
	}{
		{in: "onnx", want: BackendSpec{Backend: BackendONNX, Device: DeviceAuto}},
		{in: "onnx:cuda", want: BackendSpec{Backend: BackendONNX, Device: DeviceCUDA}},
		{in: "go:cpu", want: BackendSpec{Backend: BackendGo, Device: DeviceCPU}},
		{in: "xla", wantErr: true},
		{in: "onnx:tpu", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendSpec(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackendSpecString(t *testing.T) {
	assert.Equal(t, "onnx", BackendSpec{Backend: BackendONNX, Device: DeviceAuto}.String())
	assert.Equal(t, "onnx:cuda", BackendSpec{Backend: BackendONNX, Device: DeviceCUDA}.String())
}

func TestShapeNumElements(t *testing.T) {
	assert.Equal(t, int64(1*3*224*224), Shape{1, 3, 224, 224}.NumElements())
	assert.Equal(t, int64(-1), Shape{-1, 52}.NumElements())
	assert.Equal(t, "[1 52]", Shape{1, 52}.String())
}

func TestNamedTensorFloat32s(t *testing.T) {
	got, err := NamedTensor{Name: "a", Data: []float64{1, 2.5}}.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5}, got)

	_, err = NamedTensor{Name: "ids", Data: []int64{1}}.Float32s()
	require.Error(t, err)
	assert.Equal(t, 3, NamedTensor{Data: []int32{1, 2, 3}}.Len())
}

func TestIsGPUAvailableMatchesDetection(t *testing.T) {
	assert.Equal(t, DetectGPU().Available, IsGPUAvailable())
	assert.Equal(t, DetectGPU(), DetectGPU())
}
