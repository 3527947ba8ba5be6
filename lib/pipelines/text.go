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

package pipelines

import (
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultMaxLength is the context length of the Chinese-CLIP text towers.
const DefaultMaxLength = 52

// TextTensor is a single tokenized sequence, right-padded with id 0.
type TextTensor struct {
	// Shape is always {1, MaxLength}.
	Shape [2]int64
	Data  []int64
	// Truncated reports that ids past MaxLength were dropped.
	Truncated bool
}

// TextProcessor turns strings into fixed-length TextTensors.
type TextProcessor struct {
	tok       Tokenizer
	maxLength int
	logger    *zap.Logger
}

// NewTextProcessor creates a TextProcessor producing sequences of exactly
// maxLength ids.
func NewTextProcessor(tok Tokenizer, maxLength int, logger *zap.Logger) (*TextProcessor, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", ErrTokenize)
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: max length must be positive, got %d", ErrShape, maxLength)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextProcessor{tok: tok, maxLength: maxLength, logger: logger}, nil
}

// MaxLength returns the fixed sequence length.
func (p *TextProcessor) MaxLength() int {
	return p.maxLength
}

// Tokenizer returns the underlying tokenizer.
func (p *TextProcessor) Tokenizer() Tokenizer {
	return p.tok
}

// Tokenize encodes text with the tokenizer's special tokens added.
func (p *TextProcessor) Tokenize(text string) (ids []int, err error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrTokenize)
	}

	// Some tokenizer bindings panic on vocabulary edge cases.
	defer func() {
		if r := recover(); r != nil {
			ids = nil
			err = fmt.Errorf("%w: tokenizer panicked: %v", ErrTokenize, r)
		}
	}()

	ids, err = p.tok.Encode(text, true)
	if err != nil {
		return nil, fmt.Errorf("encoding text: %w: %w", ErrTokenize, err)
	}
	return ids, nil
}

// FromIDs pads ids with 0 or truncates them to MaxLength.
func (p *TextProcessor) FromIDs(ids []int) *TextTensor {
	data := make([]int64, p.maxLength)
	n := min(len(ids), p.maxLength)
	for i := range n {
		data[i] = int64(ids[i])
	}

	truncated := len(ids) > p.maxLength
	if truncated {
		p.logger.Warn("Token sequence exceeds max length, truncating",
			zap.Int("tokens", len(ids)),
			zap.Int("max_length", p.maxLength))
	}

	return &TextTensor{
		Shape:     [2]int64{1, int64(p.maxLength)},
		Data:      data,
		Truncated: truncated,
	}
}

// Process tokenizes text and builds its TextTensor.
func (p *TextProcessor) Process(text string) (*TextTensor, error) {
	ids, err := p.Tokenize(text)
	if err != nil {
		return nil, err
	}
	return p.FromIDs(ids), nil
}
