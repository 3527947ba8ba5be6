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

package cnclip

import (
	"testing"
	"time"

	"github.com/deadash/cnclip/lib/backends"
	"github.com/deadash/cnclip/lib/pipelines"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, pipelines.Resolution{Width: 224, Height: 224}, cfg.Resolution)
	assert.Equal(t, 52, cfg.MaxLength)

	rt, err := cfg.RuntimeConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rt.NumThreads)
	assert.Equal(t, 3, rt.GraphOptimizationLevel)
	assert.Empty(t, rt.Priority)
	assert.Nil(t, rt.Providers)
}

func TestConfig_RuntimeConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackendPriority = []string{"onnx:cuda", "go"}
	cfg.Providers = []string{"tensorrt", "cuda"}

	rt, err := cfg.RuntimeConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, []backends.BackendSpec{
		{Backend: backends.BackendONNX, Device: backends.DeviceCUDA},
		{Backend: backends.BackendGo, Device: backends.DeviceAuto},
	}, rt.Priority)
	assert.Equal(t, []backends.ExecutionProvider{backends.ProviderTensorRT, backends.ProviderCUDA}, rt.Providers)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{
		Resolution:      pipelines.Resolution{Width: 0, Height: 224},
		MaxLength:       0,
		CacheTTL:        -time.Second,
		BackendPriority: []string{"tpu"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"image_model", "text_model", "tokenizer", "resolution", "max_length", "cache_ttl", "tpu"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = DefaultConfig()
	cfg.Providers = []string{"vulkan"}
	assert.ErrorContains(t, cfg.Validate(), "vulkan")

	cfg = DefaultConfig()
	cfg.GraphOptimizationLevel = 9
	assert.ErrorContains(t, cfg.Validate(), "graph_optimization_level")
}

func TestConfig_ContentSecurityDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cs := cfg.contentSecurity()
	assert.True(t, cs.BlockPrivateIps)
	assert.Empty(t, cs.AllowedPaths)
	assert.Nil(t, cfg.s3Credentials())

	cfg.ContentSecurity.AllowedPaths = []string{"/srv/images/"}
	cs = cfg.contentSecurity()
	assert.True(t, cs.BlockPrivateIps)
	assert.Equal(t, []string{"/srv/images/"}, cs.AllowedPaths)

	cfg.S3Credentials.Endpoint = "s3.example.com"
	require.NotNil(t, cfg.s3Credentials())
	assert.Equal(t, "s3.example.com", cfg.s3Credentials().Endpoint)
}
