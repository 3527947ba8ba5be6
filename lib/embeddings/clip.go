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

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antflydb/antfly-go/libaf/ai"
	libafembed "github.com/antflydb/antfly-go/libaf/embeddings"
	"go.uber.org/zap"
)

// Ensure CLIPEmbedder implements the libaf Embedder interface
var _ libafembed.Embedder = (*CLIPEmbedder)(nil)

// CLIPEmbedder exposes a pair of extractors through the libaf Embedder
// interface. Each input is either text or an image; text and images share
// one embedding space.
type CLIPEmbedder struct {
	image  *ImageExtractor
	text   *TextExtractor
	caps   libafembed.EmbedderCapabilities
	logger *zap.Logger
}

// NewCLIPEmbedder combines an image and a text extractor. Either may be
// nil, in which case that modality is rejected.
func NewCLIPEmbedder(image *ImageExtractor, text *TextExtractor, logger *zap.Logger) (*CLIPEmbedder, error) {
	if image == nil && text == nil {
		return nil, errors.New("at least one of the image or text extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	caps := libafembed.EmbedderCapabilities{
		SupportedMIMETypes: []libafembed.MIMETypeSupport{},
	}
	if text != nil {
		caps.SupportedMIMETypes = append(caps.SupportedMIMETypes,
			libafembed.MIMETypeSupport{MIMEType: "text/plain"})
	}
	if image != nil {
		caps.SupportedMIMETypes = append(caps.SupportedMIMETypes,
			libafembed.MIMETypeSupport{MIMEType: "image/jpeg"},
			libafembed.MIMETypeSupport{MIMEType: "image/png"},
			libafembed.MIMETypeSupport{MIMEType: "image/gif"},
			libafembed.MIMETypeSupport{MIMEType: "image/bmp"},
			libafembed.MIMETypeSupport{MIMEType: "image/tiff"},
			libafembed.MIMETypeSupport{MIMEType: "image/webp"})
	}

	return &CLIPEmbedder{image: image, text: text, caps: caps, logger: logger}, nil
}

// Capabilities returns the MIME types this embedder accepts.
func (e *CLIPEmbedder) Capabilities() libafembed.EmbedderCapabilities {
	return e.caps
}

// ImageExtractor returns the image extractor, or nil.
func (e *CLIPEmbedder) ImageExtractor() *ImageExtractor {
	return e.image
}

// TextExtractor returns the text extractor, or nil.
func (e *CLIPEmbedder) TextExtractor() *TextExtractor {
	return e.text
}

// Embed returns one unit-length vector per input. The first text or image
// part of each input is embedded.
func (e *CLIPEmbedder) Embed(ctx context.Context, contents [][]ai.ContentPart) ([][]float32, error) {
	results := make([][]float32, len(contents))
	for i, parts := range contents {
		v, err := e.embedOne(ctx, parts)
		if err != nil {
			return nil, fmt.Errorf("embedding input %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

func (e *CLIPEmbedder) embedOne(ctx context.Context, parts []ai.ContentPart) (FeatureVector, error) {
	for _, part := range parts {
		switch c := part.(type) {
		case ai.TextContent:
			if c.Text == "" {
				continue
			}
			if e.text == nil {
				return nil, errors.New("text embedding requested but no text encoder is loaded")
			}
			return e.text.Extract(ctx, c.Text)
		case ai.BinaryContent:
			if !strings.HasPrefix(c.MIMEType, "image/") {
				continue
			}
			if e.image == nil {
				return nil, errors.New("image embedding requested but no image encoder is loaded")
			}
			return e.image.Extract(ctx, c.Data)
		}
	}
	return nil, errors.New("no text or image content found")
}

// Close releases both extractors.
func (e *CLIPEmbedder) Close() error {
	var errs []error
	if e.image != nil {
		if err := e.image.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing image extractor: %w", err))
		}
	}
	if e.text != nil {
		if err := e.text.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing text extractor: %w", err))
		}
	}
	return errors.Join(errs...)
}
