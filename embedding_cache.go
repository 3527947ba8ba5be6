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
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/antflydb/antfly-go/libaf/ai"
	libafembed "github.com/antflydb/antfly-go/libaf/embeddings"
	"github.com/cespare/xxhash/v2"
	"github.com/deadash/cnclip/lib/embeddings"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// EmbeddingCacheTTL is the default lifetime of a cached embedding.
const EmbeddingCacheTTL = 10 * time.Minute

// embeddingStatsInterval is how often EmbeddingCache logs its hit rate.
const embeddingStatsInterval = 30 * time.Second

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	// Shared counts callers that waited on an identical in-flight request.
	Shared uint64 `json:"shared,omitempty"`
	Items  int    `json:"items"`
}

// CachedEmbedder memoizes an embedder's output by model and content.
// Returned vectors are shared between callers and must not be modified.
type CachedEmbedder struct {
	next    libafembed.Embedder
	model   string
	entries *ttlcache.Cache[uint64, [][]float32]
	flights singleflight.Group
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	shared atomic.Uint64
}

// Capabilities reports the wrapped embedder's capabilities.
func (c *CachedEmbedder) Capabilities() libafembed.EmbedderCapabilities {
	return c.next.Capabilities()
}

// Embed returns cached vectors when present. Identical concurrent misses
// run the wrapped embedder once. Errors are never cached. A caller whose
// ctx ends stops waiting without failing the others.
func (c *CachedEmbedder) Embed(ctx context.Context, contents [][]ai.ContentPart) ([][]float32, error) {
	key := c.cacheKey(contents)
	if item := c.entries.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("embedding")
		return item.Value(), nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(fmt.Sprint(key), func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("embedding")

		start := time.Now()
		vecs, err := c.next.Embed(flightCtx, contents)
		if err != nil {
			return nil, err
		}
		c.entries.Set(key, vecs, ttlcache.DefaultTTL)
		c.logger.Debug("Cached embeddings",
			zap.Int("count", len(vecs)),
			zap.Duration("duration", time.Since(start)))
		return vecs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([][]float32), nil
	}
}

// Extract embeds one text, so the cache can back a zero-shot classifier.
func (c *CachedEmbedder) Extract(ctx context.Context, text string) (embeddings.FeatureVector, error) {
	vecs, err := c.Embed(ctx, [][]ai.ContentPart{{ai.TextContent{Text: text}}})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one input", embeddings.ErrEngine, len(vecs))
	}
	return vecs[0], nil
}

// cacheKey hashes the model name and every content part. Separators keep
// ("ab","c") and ("a","bc") apart.
func (c *CachedEmbedder) cacheKey(contents [][]ai.ContentPart) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(c.model)
	for _, parts := range contents {
		_, _ = d.WriteString("\x00doc")
		for _, part := range parts {
			switch p := part.(type) {
			case ai.TextContent:
				_, _ = fmt.Fprintf(d, "\x00t%d:", len(p.Text))
				_, _ = d.WriteString(p.Text)
			case ai.BinaryContent:
				_, _ = fmt.Fprintf(d, "\x00b%s:%d:", p.MIMEType, len(p.Data))
				_, _ = d.Write(p.Data)
			default:
				c.logger.Warn("Uncacheable content part", zap.String("type", fmt.Sprintf("%T", part)))
				_, _ = fmt.Fprintf(d, "\x00?%T", part)
			}
		}
	}
	return d.Sum64()
}

// Close closes the wrapped embedder if it can be closed.
func (c *CachedEmbedder) Close() error {
	if closer, ok := c.next.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Stats reports this embedder's hits and misses.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Shared: c.shared.Load(),
		Items:  c.entries.Len(),
	}
}

// EmbeddingCache owns the TTL store shared by its CachedEmbedders.
type EmbeddingCache struct {
	entries *ttlcache.Cache[uint64, [][]float32]
	logger  *zap.Logger
	stop    context.CancelFunc
}

// NewEmbeddingCache starts a cache whose entries expire after ttl
// (EmbeddingCacheTTL when ttl <= 0). Close stops it.
func NewEmbeddingCache(ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = EmbeddingCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := ttlcache.New(ttlcache.WithTTL[uint64, [][]float32](ttl))
	go entries.Start()

	ctx, cancel := context.WithCancel(context.Background())
	ec := &EmbeddingCache{entries: entries, logger: logger, stop: cancel}
	go ec.logStats(ctx)
	return ec
}

// WrapEmbedder returns a caching view of embedder. model namespaces its keys.
func (ec *EmbeddingCache) WrapEmbedder(embedder libafembed.Embedder, model string) *CachedEmbedder {
	return &CachedEmbedder{
		next:    embedder,
		model:   model,
		entries: ec.entries,
		logger:  ec.logger.With(zap.String("model", model)),
	}
}

// Close stops expiry and stats logging.
func (ec *EmbeddingCache) Close() {
	ec.stop()
	ec.entries.Stop()
}

func (ec *EmbeddingCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(embeddingStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := ec.Stats()
			if total := s.Hits + s.Misses; total > 0 {
				ec.logger.Info("Embedding cache stats",
					zap.Uint64("hits", s.Hits),
					zap.Uint64("misses", s.Misses),
					zap.Float64("hit_rate_pct", float64(s.Hits)/float64(total)*100),
					zap.Int("items", s.Items))
			}
		}
	}
}

// Stats reports hits and misses across all wrapped embedders.
func (ec *EmbeddingCache) Stats() CacheStats {
	m := ec.entries.Metrics()
	return CacheStats{Hits: m.Hits, Misses: m.Misses, Items: ec.entries.Len()}
}
