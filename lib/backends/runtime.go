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
	"strings"

	"go.uber.org/zap"
)

// ExecutionProvider names a hardware accelerator that ONNX Runtime can
// dispatch operators to.
type ExecutionProvider string

const (
	ProviderCUDA     ExecutionProvider = "cuda"
	ProviderTensorRT ExecutionProvider = "tensorrt"
	ProviderOpenVINO ExecutionProvider = "openvino"
	ProviderDirectML ExecutionProvider = "directml"
	ProviderCoreML   ExecutionProvider = "coreml"
	ProviderCPU      ExecutionProvider = "cpu"
)

// ParseExecutionProvider parses a provider name.
func ParseExecutionProvider(s string) (ExecutionProvider, error) {
	switch p := ExecutionProvider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderCUDA, ProviderTensorRT, ProviderOpenVINO, ProviderDirectML, ProviderCoreML, ProviderCPU:
		return p, nil
	default:
		return "", fmt.Errorf("unknown execution provider: %q (valid: cuda, tensorrt, openvino, directml, coreml, cpu)", s)
	}
}

// ParseExecutionProviders parses a list of provider names. The literal
// "auto" (or an empty list) yields nil, meaning providers are detected.
func ParseExecutionProviders(names []string) ([]ExecutionProvider, error) {
	var providers []ExecutionProvider
	for _, name := range names {
		if name == "" || strings.EqualFold(name, "auto") {
			continue
		}
		p, err := ParseExecutionProvider(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// RuntimeConfig is the process-level inference configuration. It is built
// once at startup and handed to NewSessionManager; every session created by
// that manager inherits it.
type RuntimeConfig struct {
	// Priority is the backend selection order. Empty uses DefaultPriority.
	Priority []BackendSpec

	// Providers lists execution providers in preference order.
	// Nil means auto-detect (CUDA when a GPU is found, else CPU).
	Providers []ExecutionProvider

	// NumThreads for intra-op parallelism (0 = runtime default).
	NumThreads int

	// GraphOptimizationLevel for ONNX Runtime (0 = disabled .. 3 = all).
	GraphOptimizationLevel int

	// Logger receives backend warnings. Nil discards them.
	Logger *zap.Logger
}

// DefaultRuntimeConfig returns the configuration the Chinese-CLIP encoders
// were benchmarked with: full graph optimization and four intra-op threads.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		NumThreads:             4,
		GraphOptimizationLevel: 3,
	}
}

// Validate reports configuration values that no backend can honor.
func (c RuntimeConfig) Validate() error {
	var errs []error
	if c.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("num_threads must be >= 0, got %d", c.NumThreads))
	}
	if c.GraphOptimizationLevel < 0 || c.GraphOptimizationLevel > 3 {
		errs = append(errs, fmt.Errorf("graph_optimization_level must be in [0,3], got %d", c.GraphOptimizationLevel))
	}
	for _, p := range c.Providers {
		if _, err := ParseExecutionProvider(string(p)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveProviders returns the providers sessions should request. An
// explicit list is returned unchanged; otherwise the selected device and
// GPU detection decide.
func (c RuntimeConfig) ResolveProviders(device DeviceType) []ExecutionProvider {
	if c.Providers != nil {
		return c.Providers
	}
	switch device {
	case DeviceCPU:
		return nil
	case DeviceCUDA:
		return []ExecutionProvider{ProviderCUDA}
	case DeviceCoreML:
		return []ExecutionProvider{ProviderCoreML}
	}
	switch DetectGPU().Type {
	case "cuda":
		return []ExecutionProvider{ProviderCUDA}
	case "coreml":
		return []ExecutionProvider{ProviderCoreML}
	default:
		return nil
	}
}

// SessionOptions converts the config into per-session options for a
// backend selected with the given device preference.
func (c RuntimeConfig) SessionOptions(device DeviceType) []SessionOption {
	return []SessionOption{
		WithSessionThreads(c.NumThreads),
		WithGraphOptimizationLevel(c.GraphOptimizationLevel),
		WithProviders(c.ResolveProviders(device)...),
		WithSessionLogger(c.Logger),
	}
}
