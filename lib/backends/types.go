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

// Package backends is the inference engine boundary of cnclip. It exposes a
// small tensor-in/tensor-out Session contract and hides which runtime executes
// the encoder graphs:
//
//   - onnxruntime_go: Direct ONNX Runtime inference with execution providers
//     (CUDA, TensorRT, OpenVINO, DirectML, CoreML). Requires -tags="onnx,ORT".
//   - onnx-gomlx: ONNX model execution via GoMLX's pure Go engine. Always available.
//
// Build example:
//
//	go build -tags="onnx,ORT" ./cmd
//
// Backend selection follows the priority order in RuntimeConfig
// (default: ONNX > Go). Execution providers are never configured globally;
// they travel with the RuntimeConfig handed to NewSessionManager.
package backends

import "fmt"

// BackendType identifies the inference backend
type BackendType string

const (
	// BackendONNX is the ONNX Runtime backend - fast CPU/GPU inference
	BackendONNX BackendType = "onnx"

	// BackendGo is the GoMLX backend with pure Go engine (no CGO)
	// Always available, slower than ONNX Runtime but no external dependencies.
	BackendGo BackendType = "go"
)

// DeviceType identifies the hardware device for inference
type DeviceType string

const (
	// DeviceAuto auto-detects the best available device (default)
	DeviceAuto DeviceType = "auto"

	// DeviceCUDA uses NVIDIA CUDA GPU
	DeviceCUDA DeviceType = "cuda"

	// DeviceCoreML uses Apple CoreML (macOS only)
	DeviceCoreML DeviceType = "coreml"

	// DeviceCPU forces CPU-only inference
	DeviceCPU DeviceType = "cpu"
)

// BackendSpec combines a backend type with a device specification.
// Used for configuring backend priority with device preferences.
type BackendSpec struct {
	Backend BackendType
	Device  DeviceType
}

// String returns the string representation (e.g., "onnx:cuda" or "go")
func (s BackendSpec) String() string {
	if s.Device == DeviceAuto || s.Device == "" {
		return string(s.Backend)
	}
	return string(s.Backend) + ":" + string(s.Device)
}

// GPUInfo contains information about the detected GPU
type GPUInfo struct {
	Available   bool   `json:"available"`
	Type        string `json:"type"` // "cuda", "coreml", "none"
	DeviceName  string `json:"device_name,omitempty"`
	DriverVer   string `json:"driver_version,omitempty"`
	CUDAVersion string `json:"cuda_version,omitempty"`
}

// Shape represents tensor dimensions.
type Shape []int64

// String returns a string representation of the shape.
func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

// NumElements returns the product of all dimensions.
// Dynamic (negative) dimensions yield -1.
func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, d := range s {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}
