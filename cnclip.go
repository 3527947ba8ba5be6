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

// Package cnclip serves Chinese-CLIP image and text embeddings and
// zero-shot image classification over HTTP.
package cnclip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	libafembed "github.com/antflydb/antfly-go/libaf/embeddings"
	"github.com/antflydb/antfly-go/libaf/s3"
	"github.com/antflydb/antfly-go/libaf/scraping"
	"github.com/deadash/cnclip/lib/backends"
	"github.com/deadash/cnclip/lib/embeddings"
	"github.com/deadash/cnclip/lib/zsc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// Node serves the HTTP API on top of a pair of encoders.
type Node struct {
	logger *zap.Logger
	config Config

	image      zsc.ImageEmbedder
	text       *CachedEmbedder
	classifier *zsc.CLIPClassifier
	cache      *EmbeddingCache
	backends   []string

	// sem bounds concurrent inference; nil means unlimited.
	sem *semaphore.Weighted

	contentSecurity *scraping.ContentSecurityConfig
	s3Credentials   *s3.Credentials
}

// NewNode builds a node. text must accept text/plain content; it is wrapped
// with the embedding cache and also encodes classification labels.
func NewNode(logger *zap.Logger, image zsc.ImageEmbedder, text libafembed.Embedder, cfg Config) (*Node, error) {
	if image == nil || text == nil {
		return nil, errors.New("image and text embedders are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := NewEmbeddingCache(cfg.CacheTTL, logger.Named("embedding-cache"))
	cached := cache.WrapEmbedder(text, "clip")

	classifier, err := zsc.NewCLIPClassifier(image, cached,
		zsc.WithConcurrency(cfg.ClassifyConcurrency),
		zsc.WithLabelTemplate(cfg.LabelTemplate),
		zsc.WithLogger(logger.Named("classifier")))
	if err != nil {
		cache.Close()
		return nil, err
	}

	n := &Node{
		logger:          logger,
		config:          cfg,
		image:           image,
		text:            cached,
		classifier:      classifier,
		cache:           cache,
		contentSecurity: cfg.contentSecurity(),
		s3Credentials:   cfg.s3Credentials(),
	}
	if cfg.MaxConcurrentRequests > 0 {
		n.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests))
	}
	return n, nil
}

// Handler returns the node's HTTP routes wrapped in CORS handling.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	mux.HandleFunc("GET /healthz", n.handleHealthz)
	mux.HandleFunc("GET /readyz", n.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/version", n.handleVersion)
	mux.HandleFunc("POST /api/embed/image", instrument("embed_image", n.handleEmbedImage))
	mux.HandleFunc("POST /api/embed/text", instrument("embed_text", n.handleEmbedText))
	mux.HandleFunc("POST /api/classify", instrument("classify", n.handleClassify))
	mux.HandleFunc("POST /api/similarity", instrument("similarity", n.handleSimilarity))
	n.RegisterOpenAIRoutes(mux)

	return corsMiddleware(mux)
}

// Close stops the embedding cache. Encoders are owned by the caller.
func (n *Node) Close() {
	n.cache.Close()
}

// corsMiddleware adds permissive CORS headers for the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Encoders holds the loaded extractors and the session manager backing them.
type Encoders struct {
	Sessions *backends.SessionManager
	Image    *embeddings.ImageExtractor
	Text     *embeddings.TextExtractor
	Embedder *embeddings.CLIPEmbedder
}

// LoadEncoders opens the image and text encoders described by cfg.
func LoadEncoders(logger *zap.Logger, cfg Config) (*Encoders, error) {
	rt, err := cfg.RuntimeConfig(logger.Named("backends"))
	if err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}
	sm, err := backends.NewSessionManager(rt)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	image, err := embeddings.NewImageExtractor(sm, cfg.ImageModel, cfg.Resolution,
		embeddings.WithLogger(logger.Named("image")))
	if err != nil {
		_ = sm.Close()
		return nil, err
	}
	RecordModelLoadDuration(cfg.ImageModel, string(image.Backend()), time.Since(start).Seconds())

	start = time.Now()
	text, err := embeddings.NewTextExtractor(sm, cfg.TextModel, cfg.Tokenizer, cfg.MaxLength,
		embeddings.WithLogger(logger.Named("text")))
	if err != nil {
		_ = image.Close()
		_ = sm.Close()
		return nil, err
	}
	RecordModelLoadDuration(cfg.TextModel, string(text.Backend()), time.Since(start).Seconds())

	clip, err := embeddings.NewCLIPEmbedder(image, text, logger.Named("clip"))
	if err != nil {
		_ = text.Close()
		_ = image.Close()
		_ = sm.Close()
		return nil, err
	}

	return &Encoders{Sessions: sm, Image: clip.ImageExtractor(), Text: clip.TextExtractor(), Embedder: clip}, nil
}

// Close releases the encoders and their sessions.
func (e *Encoders) Close() error {
	return errors.Join(e.Embedder.Close(), e.Sessions.Close())
}

// RunAsNode loads the encoders and serves the API until ctx is cancelled.
// It returns the listener error when the HTTP server fails.
// If readyC is non-nil, it will be closed when the server is ready to accept requests.
func RunAsNode(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) error {
	zl = zl.Named("cnclip")
	zl.Info("Starting cnclip node",
		zap.String("api_url", config.ApiUrl),
		zap.String("image_model", config.ImageModel),
		zap.String("text_model", config.TextModel),
		zap.Stringer("resolution", config.Resolution),
		zap.Int("max_length", config.MaxLength))

	if err := config.Validate(); err != nil {
		zl.Fatal("Invalid configuration", zap.Error(err))
	}

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	gpuInfo := backends.DetectGPU()
	zl.Info("GPU detection complete",
		zap.Bool("available", gpuInfo.Available),
		zap.String("type", gpuInfo.Type),
		zap.String("device", gpuInfo.DeviceName))

	enc, err := LoadEncoders(zl, config)
	if err != nil {
		zl.Fatal("Failed to load encoders", zap.Error(err))
	}
	defer func() { _ = enc.Close() }()

	node, err := NewNode(zl, enc.Image, enc.Embedder, config)
	if err != nil {
		zl.Fatal("Failed to create node", zap.Error(err))
	}
	defer node.Close()
	for _, bt := range enc.Sessions.ActiveBackends() {
		node.backends = append(node.backends, string(bt))
	}

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     node.Handler(),
		ReadTimeout: 120 * time.Second,
	}
	return serveHTTP(ctx, zl, srv, readyC)
}

// serveHTTP runs srv until ctx is done or the listener fails. readyC is closed
// once the listener goroutine has been started.
func serveHTTP(ctx context.Context, zl *zap.Logger, srv *http.Server, readyC chan struct{}) error {
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("API server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if readyC != nil {
		close(readyC)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			zl.Error("HTTP server error", zap.Error(err))
			return fmt.Errorf("serving %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}
	zl.Info("HTTP server stopped")
	return nil
}
