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
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var (
	gpuInfoOnce sync.Once
	gpuInfo     GPUInfo
)

// DetectGPU checks if GPU acceleration is available.
// Results are cached after the first call.
func DetectGPU() GPUInfo {
	gpuInfoOnce.Do(func() {
		gpuInfo = detectGPUImpl()
	})
	return gpuInfo
}

// IsGPUAvailable returns true if GPU acceleration is available.
func IsGPUAvailable() bool {
	return DetectGPU().Available
}

// detectGPUImpl performs actual GPU detection based on platform.
func detectGPUImpl() GPUInfo {
	switch runtime.GOOS {
	case "darwin":
		// CoreML is present on every supported macOS release.
		return GPUInfo{Available: true, Type: "coreml"}
	case "linux", "windows":
		return detectCUDA()
	default:
		return GPUInfo{Type: "none"}
	}
}

// detectCUDA checks for NVIDIA CUDA availability.
func detectCUDA() GPUInfo {
	if info := tryNvidiaSMI(); info.Available {
		return info
	}
	if cudaLibsExist() {
		return GPUInfo{
			Available:  true,
			Type:       "cuda",
			DeviceName: "CUDA (libraries detected)",
		}
	}
	return GPUInfo{Type: "none"}
}

// tryNvidiaSMI attempts to run nvidia-smi to detect GPU.
func tryNvidiaSMI() GPUInfo {
	info := GPUInfo{Type: "none"}

	nvidiaSMI, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return info
	}

	cmd := exec.Command(nvidiaSMI, "--query-gpu=name,driver_version", "--format=csv,noheader,nounits") //nolint:gosec // G204: nvidiaSMI path comes from LookPath("nvidia-smi")
	output, err := cmd.Output()
	if err != nil {
		return info
	}

	// One line per GPU; the first one is reported.
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	name, driver, _ := strings.Cut(line, ", ")
	info.Available = true
	info.Type = "cuda"
	info.DeviceName = strings.TrimSpace(name)
	info.DriverVer = strings.TrimSpace(driver)

	cmd = exec.Command(nvidiaSMI, "--query-gpu=compute_cap", "--format=csv,noheader,nounits") //nolint:gosec // G204: nvidiaSMI path comes from LookPath("nvidia-smi")
	if output, err := cmd.Output(); err == nil {
		first, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
		info.CUDAVersion = strings.TrimSpace(first)
	}

	return info
}

// cudaLibsExist checks if the CUDA runtime library is on a known path.
func cudaLibsExist() bool {
	cudaPaths := []string{
		"/usr/local/cuda/lib64",
		"/usr/lib/x86_64-linux-gnu",
		"/usr/lib64",
	}
	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		cudaPaths = append(filepath.SplitList(ldPath), cudaPaths...)
	}

	for _, dir := range cudaPaths {
		if matches, _ := filepath.Glob(filepath.Join(dir, "libcudart.so*")); len(matches) > 0 {
			return true
		}
	}
	return false
}
