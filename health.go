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
	"net/http"
	"runtime"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status string      `json:"status"`
	Models ReadyModels `json:"models"`
	Cache  CacheStats  `json:"cache"`
	Text   CacheStats  `json:"text_cache"`
}

// ReadyModels describes the loaded encoders.
type ReadyModels struct {
	Image      bool     `json:"image"`
	Text       bool     `json:"text"`
	Resolution string   `json:"resolution"`
	MaxLength  int      `json:"max_length"`
	Backends   []string `json:"backends,omitempty"`
}

// VersionResponse is the response for /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once both encoders are loaded (readiness check)
func (n *Node) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status: "ready",
		Models: ReadyModels{
			Image:      n.image != nil,
			Text:       n.text != nil,
			Resolution: n.config.Resolution.String(),
			MaxLength:  n.config.MaxLength,
			Backends:   n.backends,
		},
		Cache: n.cache.Stats(),
		Text:  n.text.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Models.Image || !resp.Models.Text {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = encoder.NewStreamEncoder(w).Encode(resp)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}

// handleVersion reports build information.
func (n *Node) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
