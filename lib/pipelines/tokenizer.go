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
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// Tokenizer converts UTF-8 text into vocabulary ids.
type Tokenizer interface {
	// Encode tokenizes text. When addSpecialTokens is set, the model's
	// begin/end markers are inserted.
	Encode(text string, addSpecialTokens bool) ([]int, error)

	// Close releases native resources, if any.
	Close() error
}

// Well-known tokenizer file names.
const (
	TokenizerJSONFile   = "tokenizer.json"
	SentencePieceFile   = "tokenizer.model"
	WordPieceVocabFile  = "vocab.txt"
	TokenizerConfigFile = "tokenizer_config.json"
)

// LoadTokenizer loads a tokenizer from a file or a model directory.
//
// Files are dispatched on their extension: *.json is a HuggingFace
// tokenizer (e.g. clip_cn_tokenizer.json), *.model is SentencePiece and
// *.txt is a BERT WordPiece vocabulary. Directories are searched for
// tokenizer.json, tokenizer.model and vocab.txt in that order.
// When built with ONNX/ORT tags, tokenizer.json uses the fast Rust
// tokenizer; otherwise it falls back to pure Go.
func LoadTokenizer(path string) (Tokenizer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenize, err)
	}

	dir, file := path, ""
	if info.IsDir() {
		file = findTokenizerFile(path)
		if file == "" {
			return nil, fmt.Errorf("%w: no tokenizer found in %s (expected %s, %s or %s)",
				ErrTokenize, path, TokenizerJSONFile, SentencePieceFile, WordPieceVocabFile)
		}
	} else {
		dir, file = filepath.Dir(path), path
	}

	var tok Tokenizer
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		tok, err = loadHFTokenizer(dir, file)
	case ".model":
		tok, err = loadSentencePiece(file)
	case ".txt":
		tok, err = loadWordPiece(file)
	default:
		err = fmt.Errorf("unsupported tokenizer file %s", file)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenize, err)
	}
	return tok, nil
}

func findTokenizerFile(dir string) string {
	for _, name := range []string{TokenizerJSONFile, SentencePieceFile, WordPieceVocabFile} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadHFTokenizer loads a tokenizer.json, preferring the Rust binding.
func loadHFTokenizer(dir, file string) (Tokenizer, error) {
	var config *api.Config
	configPath := filepath.Join(dir, TokenizerConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		// Normalize the config to handle HuggingFace AddedToken objects
		normalizedContent, err := normalizeTokenizerConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("normalizing tokenizer config: %w", err)
		}
		config, err = api.ParseConfigContent(normalizedContent)
		if err != nil {
			return nil, fmt.Errorf("parsing tokenizer config: %w", err)
		}
		config.ConfigFile = configPath
	}

	if rustTokenizerAvailable() {
		if tok, err := loadRustTokenizer(file); err == nil && tok != nil {
			return tok, nil
		}
		// Fall through to Go tokenizer if Rust fails
	}

	tok, err := hftokenizer.NewFromFile(config, file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(file), err)
	}
	return &hfTokenizer{tok: tok}, nil
}

// hfTokenizer adapts the pure Go go-huggingface tokenizer. The
// post-processor in tokenizer.json always adds the special tokens, so they
// are stripped again when the caller does not want them.
type hfTokenizer struct {
	tok tokenizers.Tokenizer
}

func (t *hfTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	ids := t.tok.Encode(text)
	if addSpecialTokens || len(ids) == 0 {
		return ids, nil
	}
	if t.isSpecial(ids[0], api.TokClassification, api.TokBeginningOfSentence) {
		ids = ids[1:]
	}
	if n := len(ids); n > 0 && t.isSpecial(ids[n-1], api.TokEndOfSentence) {
		ids = ids[:n-1]
	}
	return ids, nil
}

func (t *hfTokenizer) isSpecial(id int, kinds ...api.SpecialToken) bool {
	for _, kind := range kinds {
		if sid, err := t.tok.SpecialTokenID(kind); err == nil && sid == id {
			return true
		}
	}
	return false
}

func (t *hfTokenizer) Close() error { return nil }

func loadSentencePiece(file string) (Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(file), err)
	}
	return &sentencepieceTokenizer{proc: proc, info: proc.ModelInfo()}, nil
}

// sentencepieceTokenizer wraps esentencepiece.Processor.
type sentencepieceTokenizer struct {
	proc *esentencepiece.Processor
	info *esentencepiece.ModelInfo
}

// Encode prepends the BOS id when special tokens are requested and the
// model defines one.
func (t *sentencepieceTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	tokens := t.proc.Encode(text)
	ids := make([]int, 0, len(tokens)+1)
	if addSpecialTokens && t.info.BeginningOfSentenceID >= 0 {
		ids = append(ids, t.info.BeginningOfSentenceID)
	}
	for _, tok := range tokens {
		ids = append(ids, tok.ID)
	}
	return ids, nil
}

func (t *sentencepieceTokenizer) Close() error { return nil }

// normalizeTokenizerConfig reads a tokenizer_config.json file and normalizes
// HuggingFace AddedToken objects to plain strings.
// Some HuggingFace models use {"__type": "AddedToken", "content": "<s>"} format
// instead of plain strings for special tokens.
func normalizeTokenizerConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath) //nolint:gosec // G304: path is derived from the tokenizer location
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := sonic.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}

	tokenFields := []string{
		"bos_token", "eos_token", "pad_token", "unk_token",
		"cls_token", "sep_token", "mask_token",
	}
	for _, field := range tokenFields {
		if val, ok := raw[field]; ok {
			raw[field] = extractTokenContent(val)
		}
	}

	return sonic.Marshal(raw)
}

// extractTokenContent extracts the token string from either a plain string
// or a HuggingFace AddedToken object.
func extractTokenContent(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if content, ok := val["content"].(string); ok {
			return content
		}
	}
	return ""
}
