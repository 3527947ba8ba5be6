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

// Package zsc implements zero-shot image classification on top of the
// Chinese-CLIP image and text encoders: the image is scored against one
// text embedding per candidate label.
package zsc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/deadash/cnclip/lib/embeddings"
	"github.com/deadash/cnclip/lib/similarity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoLabels is returned when classification is requested without labels.
var ErrNoLabels = errors.New("at least one candidate label is required")

// DefaultLabelTemplate passes labels to the text encoder unchanged.
const DefaultLabelTemplate = "{}"

// ImageEmbedder produces a unit-length vector for encoded image bytes.
type ImageEmbedder interface {
	Extract(ctx context.Context, data []byte) (embeddings.FeatureVector, error)
}

// TextEmbedder produces a unit-length vector for a piece of text.
type TextEmbedder interface {
	Extract(ctx context.Context, text string) (embeddings.FeatureVector, error)
}

// Option configures a CLIPClassifier.
type Option func(*CLIPClassifier)

// WithConcurrency bounds how many labels are encoded at once. Values <= 0
// use GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(c *CLIPClassifier) {
		c.concurrency = n
	}
}

// WithLabelTemplate sets the prompt each label is rendered into before
// encoding. Every "{}" is replaced by the label, e.g. "一张{}的图片".
func WithLabelTemplate(tmpl string) Option {
	return func(c *CLIPClassifier) {
		c.template = tmpl
	}
}

// WithLogger sets the classifier logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *CLIPClassifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// CLIPClassifier ranks candidate labels for an image.
type CLIPClassifier struct {
	image       ImageEmbedder
	text        TextEmbedder
	template    string
	concurrency int
	logger      *zap.Logger
}

// NewCLIPClassifier creates a classifier from an image and a text embedder.
func NewCLIPClassifier(image ImageEmbedder, text TextEmbedder, opts ...Option) (*CLIPClassifier, error) {
	if image == nil {
		return nil, errors.New("image embedder is required")
	}
	if text == nil {
		return nil, errors.New("text embedder is required")
	}
	c := &CLIPClassifier{
		image:    image,
		text:     text,
		template: DefaultLabelTemplate,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency <= 0 {
		c.concurrency = runtime.GOMAXPROCS(0)
	}
	return c, nil
}

// Prompt renders label through the configured template.
func (c *CLIPClassifier) Prompt(label string) string {
	if c.template == "" || c.template == DefaultLabelTemplate {
		return label
	}
	return strings.ReplaceAll(c.template, "{}", label)
}

// Classify scores the encoded image against labels. Scores are returned in
// label order; use similarity.Best to pick the winner.
func (c *CLIPClassifier) Classify(ctx context.Context, imageData []byte, labels []string) ([]similarity.Score, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	vec, err := c.image.Extract(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("extracting image features: %w", err)
	}
	return c.ClassifyVector(ctx, vec, labels)
}

// ClassifyVector scores a precomputed image vector against labels.
func (c *CLIPClassifier) ClassifyVector(ctx context.Context, imageVec embeddings.FeatureVector, labels []string) ([]similarity.Score, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}

	candidates, err := c.EncodeLabels(ctx, labels)
	if err != nil {
		return nil, err
	}

	scores, err := similarity.Rank(imageVec, candidates)
	if err != nil {
		return nil, err
	}

	if best := similarity.Best(scores); best >= 0 {
		c.logger.Debug("Classified image",
			zap.Int("labels", len(labels)),
			zap.String("best", scores[best].Label),
			zap.Float32("probability", scores[best].Probability))
	}
	return scores, nil
}

// EncodeLabels encodes every label concurrently, preserving order.
func (c *CLIPClassifier) EncodeLabels(ctx context.Context, labels []string) ([]similarity.Candidate, error) {
	candidates := make([]similarity.Candidate, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, label := range labels {
		g.Go(func() error {
			vec, err := c.text.Extract(gctx, c.Prompt(label))
			if err != nil {
				return fmt.Errorf("extracting features for label %q: %w", label, err)
			}
			candidates[i] = similarity.Candidate{Label: label, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}
