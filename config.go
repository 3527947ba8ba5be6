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
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/antflydb/antfly-go/libaf/s3"
	"github.com/antflydb/antfly-go/libaf/scraping"
	"github.com/deadash/cnclip/lib/backends"
	"github.com/deadash/cnclip/lib/pipelines"
	"go.uber.org/zap"
)

// Config holds the settings for a cnclip node.
type Config struct {
	// ApiUrl is the address the HTTP API listens on, e.g. http://localhost:11435.
	ApiUrl string `json:"api_url" yaml:"api_url" mapstructure:"api_url"`

	// ImageModel and TextModel are the encoder ONNX files.
	ImageModel string `json:"image_model" yaml:"image_model" mapstructure:"image_model"`
	TextModel  string `json:"text_model" yaml:"text_model" mapstructure:"text_model"`

	// Tokenizer is a tokenizer.json, tokenizer.model, vocab.txt or a
	// directory holding one of them.
	Tokenizer string `json:"tokenizer" yaml:"tokenizer" mapstructure:"tokenizer"`

	Resolution pipelines.Resolution `json:"resolution" yaml:"resolution" mapstructure:"resolution"`
	MaxLength  int                  `json:"max_length" yaml:"max_length" mapstructure:"max_length"`

	// BackendPriority lists backend:device entries, e.g. ["onnx:cuda", "go"].
	BackendPriority []string `json:"backend_priority,omitempty" yaml:"backend_priority,omitempty" mapstructure:"backend_priority"`

	// Providers lists ONNX Runtime execution providers; empty or "auto" detects.
	Providers []string `json:"providers,omitempty" yaml:"providers,omitempty" mapstructure:"providers"`

	NumThreads             int `json:"num_threads" yaml:"num_threads" mapstructure:"num_threads"`
	GraphOptimizationLevel int `json:"graph_optimization_level" yaml:"graph_optimization_level" mapstructure:"graph_optimization_level"`

	// LabelTemplate renders classification labels into prompts ("{}" is the label).
	LabelTemplate string `json:"label_template,omitempty" yaml:"label_template,omitempty" mapstructure:"label_template"`

	// ClassifyConcurrency bounds concurrent label encodes per request.
	ClassifyConcurrency int `json:"classify_concurrency,omitempty" yaml:"classify_concurrency,omitempty" mapstructure:"classify_concurrency"`

	// MaxConcurrentRequests bounds in-flight inference requests (0 = unlimited).
	MaxConcurrentRequests int `json:"max_concurrent_requests,omitempty" yaml:"max_concurrent_requests,omitempty" mapstructure:"max_concurrent_requests"`

	// CacheTTL is how long text embeddings stay cached.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty" mapstructure:"cache_ttl"`

	// ContentSecurity restricts image_url downloads.
	ContentSecurity scraping.ContentSecurityConfig `json:"content_security,omitempty" yaml:"content_security,omitempty" mapstructure:"content_security"`

	// S3Credentials enables s3:// image URLs.
	S3Credentials s3.Credentials `json:"s3_credentials,omitempty" yaml:"s3_credentials,omitempty" mapstructure:"s3_credentials"`
}

// DefaultConfig returns the settings of the ViT-L/14 Chinese-CLIP release.
func DefaultConfig() Config {
	rt := backends.DefaultRuntimeConfig()
	return Config{
		ApiUrl:                 "http://localhost:11435",
		ImageModel:             "models/clip_cn_vit-l-14.img.fp32.onnx",
		TextModel:              "models/clip_cn_vit-l-14.txt.fp32.onnx",
		Tokenizer:              "models/clip_cn_tokenizer.json",
		Resolution:             pipelines.DefaultResolution,
		MaxLength:              pipelines.DefaultMaxLength,
		NumThreads:             rt.NumThreads,
		GraphOptimizationLevel: rt.GraphOptimizationLevel,
		LabelTemplate:          "{}",
		CacheTTL:               EmbeddingCacheTTL,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.ApiUrl != "" {
		if _, err := url.Parse(c.ApiUrl); err != nil {
			errs = append(errs, fmt.Errorf("api_url: %w", err))
		}
	}
	if c.ImageModel == "" {
		errs = append(errs, errors.New("image_model is required"))
	}
	if c.TextModel == "" {
		errs = append(errs, errors.New("text_model is required"))
	}
	if c.Tokenizer == "" {
		errs = append(errs, errors.New("tokenizer is required"))
	}
	if err := c.Resolution.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("resolution: %w", err))
	}
	if c.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("max_length must be positive, got %d", c.MaxLength))
	}
	if c.MaxConcurrentRequests < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_requests must be >= 0, got %d", c.MaxConcurrentRequests))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be >= 0, got %s", c.CacheTTL))
	}
	if _, err := c.RuntimeConfig(nil); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RuntimeConfig builds the inference runtime configuration.
func (c Config) RuntimeConfig(logger *zap.Logger) (backends.RuntimeConfig, error) {
	priority, err := backends.ParseBackendPriority(c.BackendPriority)
	if err != nil {
		return backends.RuntimeConfig{}, err
	}
	providers, err := backends.ParseExecutionProviders(c.Providers)
	if err != nil {
		return backends.RuntimeConfig{}, err
	}
	rt := backends.RuntimeConfig{
		Priority:               priority,
		Providers:              providers,
		NumThreads:             c.NumThreads,
		GraphOptimizationLevel: c.GraphOptimizationLevel,
		Logger:                 logger,
	}
	if err := rt.Validate(); err != nil {
		return backends.RuntimeConfig{}, err
	}
	return rt, nil
}

// contentSecurity returns the configured download limits, or safe defaults.
// Allowed paths carry over into the defaults.
func (c Config) contentSecurity() *scraping.ContentSecurityConfig {
	cs := c.ContentSecurity
	if cs.MaxDownloadSizeBytes != 0 || cs.DownloadTimeoutSeconds != 0 || len(cs.AllowedHosts) > 0 {
		return &cs
	}
	return &scraping.ContentSecurityConfig{
		BlockPrivateIps:        true,
		MaxDownloadSizeBytes:   32 << 20,
		DownloadTimeoutSeconds: 30,
		AllowedPaths:           cs.AllowedPaths,
		MaxImageDimension:      cs.MaxImageDimension,
	}
}

// s3Credentials returns nil unless an S3 endpoint is configured.
func (c Config) s3Credentials() *s3.Credentials {
	if c.S3Credentials.Endpoint == "" {
		return nil
	}
	creds := c.S3Credentials
	return &creds
}
