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

//go:build onnx && ORT

package pipelines

import (
	"fmt"
	"os"

	"github.com/daulet/tokenizers"
)

// rustTokenizer wraps the HuggingFace tokenizers Rust library.
type rustTokenizer struct {
	tk *tokenizers.Tokenizer
}

func loadRustTokenizer(file string) (Tokenizer, error) {
	data, err := os.ReadFile(file) //nolint:gosec // G304: path is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	tk, err := tokenizers.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading Rust tokenizer: %w", err)
	}
	return &rustTokenizer{tk: tk}, nil
}

func (t *rustTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	output := t.tk.EncodeWithOptions(text, addSpecialTokens)

	result := make([]int, len(output.IDs))
	for i, id := range output.IDs {
		result[i] = int(id)
	}
	return result, nil
}

func (t *rustTokenizer) Close() error {
	if t.tk != nil {
		return t.tk.Close()
	}
	return nil
}

// rustTokenizerAvailable reports whether the Rust tokenizer should be
// tried. TOKENIZER_BACKEND=go forces the pure Go implementation.
func rustTokenizerAvailable() bool {
	return os.Getenv("TOKENIZER_BACKEND") != "go"
}
