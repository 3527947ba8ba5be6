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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
	"github.com/sugarme/tokenizer/util"
)

// wordpieceTokenizer is a BERT WordPiece tokenizer built from a vocab.txt,
// the vocabulary format shipped with the Chinese-CLIP checkpoints.
type wordpieceTokenizer struct {
	tk *tokenizer.Tokenizer
}

// loadWordPiece builds a lower-casing BERT tokenizer from a vocabulary file
// with one token per line (the id is the line number).
func loadWordPiece(file string) (Tokenizer, error) {
	f, err := os.Open(file) //nolint:gosec // G304: path is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("opening vocab: %w", err)
	}
	defer func() { _ = f.Close() }()

	vocab := make(model.Vocab)
	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			vocab[line] = i
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}

	opts := util.NewParams(map[string]any{
		"unk_token": "[UNK]",
	})
	wp, err := wordpiece.New(vocab, opts)
	if err != nil {
		return nil, fmt.Errorf("creating wordpiece model: %w", err)
	}

	tk := tokenizer.NewTokenizer(wp)

	// Clean text, lowercase, split CJK characters, strip accents.
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	sepID, ok := tk.TokenToId("[SEP]")
	if !ok {
		return nil, fmt.Errorf("cannot find ID for [SEP] token")
	}
	clsID, ok := tk.TokenToId("[CLS]")
	if !ok {
		return nil, fmt.Errorf("cannot find ID for [CLS] token")
	}
	tk.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Id: sepID, Value: "[SEP]"},
		processor.PostToken{Id: clsID, Value: "[CLS]"},
	))

	tk.AddSpecialTokens([]tokenizer.AddedToken{
		tokenizer.NewAddedToken("[MASK]", true),
		tokenizer.NewAddedToken("[SEP]", true),
		tokenizer.NewAddedToken("[CLS]", true),
	})

	return &wordpieceTokenizer{tk: tk}, nil
}

func (t *wordpieceTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	enc, err := t.tk.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, err
	}
	return enc.Ids, nil
}

func (t *wordpieceTokenizer) Close() error { return nil }
