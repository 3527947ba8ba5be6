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

	"github.com/deadash/cnclip/lib/backends"
	"github.com/deadash/cnclip/lib/pipelines"
	"go.uber.org/zap"
)

// TextExtractor produces FeatureVectors from strings with the text tower.
// It keeps no per-call state and may be used concurrently.
type TextExtractor struct {
	enc  *encoder
	proc *pipelines.TextProcessor
}

// NewTextExtractor loads the tokenizer at tokenizerPath and opens the text
// tower at modelPath. Sequences are padded or truncated to maxLength ids.
// On error nothing is left open.
func NewTextExtractor(sm *backends.SessionManager, modelPath, tokenizerPath string, maxLength int, opts ...Option) (*TextExtractor, error) {
	o := applyOptions(opts)

	tok, err := pipelines.LoadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}

	proc, err := pipelines.NewTextProcessor(tok, maxLength, o.logger)
	if err != nil {
		_ = tok.Close()
		return nil, err
	}

	session, backend, err := openSession(sm, modelPath, o)
	if err != nil {
		_ = tok.Close()
		return nil, err
	}

	e, err := newTextExtractor(session, backend, proc, o)
	if err != nil {
		_ = session.Close()
		_ = tok.Close()
		return nil, err
	}

	o.logger.Info("Loaded text encoder",
		zap.String("model", modelPath),
		zap.String("tokenizer", tokenizerPath),
		zap.String("backend", string(backend)),
		zap.Int("max_length", maxLength))
	return e, nil
}

// NewTextExtractorWithSession builds an extractor around an open session
// and tokenizer. The extractor takes ownership of both.
func NewTextExtractorWithSession(session backends.Session, tok pipelines.Tokenizer, maxLength int, opts ...Option) (*TextExtractor, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrEngine)
	}
	o := applyOptions(opts)
	proc, err := pipelines.NewTextProcessor(tok, maxLength, o.logger)
	if err != nil {
		return nil, err
	}
	return newTextExtractor(session, "", proc, o)
}

func newTextExtractor(session backends.Session, backend backends.BackendType, proc *pipelines.TextProcessor, o *options) (*TextExtractor, error) {
	if err := checkInput(session, TextInputName); err != nil {
		return nil, err
	}
	return &TextExtractor{
		enc: &encoder{
			session:   session,
			backend:   backend,
			inputName: TextInputName,
			logger:    o.logger,
		},
		proc: proc,
	}, nil
}

// MaxLength returns the fixed token sequence length.
func (e *TextExtractor) MaxLength() int {
	return e.proc.MaxLength()
}

// Backend returns the backend the session runs on. Empty for injected sessions.
func (e *TextExtractor) Backend() backends.BackendType {
	return e.enc.backend
}

// Extract tokenizes text with special tokens and returns its feature vector.
func (e *TextExtractor) Extract(ctx context.Context, text string) (FeatureVector, error) {
	tensor, err := e.proc.Process(text)
	if err != nil {
		return nil, err
	}
	return e.enc.run(ctx, tensor.Shape[:], tensor.Data)
}

// ExtractBatch extracts each text in turn. The result is aligned with texts.
func (e *TextExtractor) ExtractBatch(ctx context.Context, texts []string) ([]FeatureVector, error) {
	out := make([]FeatureVector, len(texts))
	for i, text := range texts {
		v, err := e.Extract(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Close releases the session and the tokenizer.
func (e *TextExtractor) Close() error {
	return errors.Join(e.enc.close(), e.proc.Tokenizer().Close())
}
