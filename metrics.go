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

import "github.com/prometheus/client_golang/prometheus"

var (
	embeddingRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "embedding_request_ops_total",
			Help:      "The total number of embedding requests.",
		},
		[]string{"modality"},
	)

	classifyRequestOps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "classify_request_ops_total",
			Help:      "The total number of zero-shot classification requests.",
		},
	)
	classifyLabelOps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "classify_label_ops_total",
			Help:      "The total number of candidate labels scored.",
		},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load an encoder.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "backend"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process a request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"},
	)

	activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cnclip",
			Subsystem: "server",
			Name:      "active_requests",
			Help:      "Number of inference requests currently being processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(embeddingRequestOps)
	prometheus.MustRegister(classifyRequestOps)
	prometheus.MustRegister(classifyLabelOps)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(activeRequests)
}

// RecordEmbeddingRequest counts an embedding request for "image" or "text".
func RecordEmbeddingRequest(modality string) {
	embeddingRequestOps.WithLabelValues(modality).Inc()
}

// RecordClassifyRequest counts a classification and the labels it scored.
func RecordClassifyRequest(labels int) {
	classifyRequestOps.Inc()
	classifyLabelOps.Add(float64(labels))
}

// RecordModelLoadDuration records how long it took to load an encoder
func RecordModelLoadDuration(model, backend string, seconds float64) {
	modelLoadDuration.WithLabelValues(model, backend).Observe(seconds)
}

// RecordRequestDuration records how long a request took
func RecordRequestDuration(endpoint, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}
