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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeTokenizer maps each rune to its code point and brackets the result
// with 101/102 when special tokens are requested.
type fakeTokenizer struct {
	err    error
	panics bool
}

func (f *fakeTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	if f.panics {
		panic("vocabulary corrupted")
	}
	if f.err != nil {
		return nil, f.err
	}
	var ids []int
	if addSpecialTokens {
		ids = append(ids, 101)
	}
	for _, r := range text {
		ids = append(ids, int(r))
	}
	if addSpecialTokens {
		ids = append(ids, 102)
	}
	return ids, nil
}

func (f *fakeTokenizer) Close() error { return nil }

func TestTextProcessorPadsToMaxLength(t *testing.T) {
	p, err := NewTextProcessor(&fakeTokenizer{}, DefaultMaxLength, nil)
	require.NoError(t, err)

	tensor, err := p.Process("皮卡丘")
	require.NoError(t, err)

	assert.Equal(t, [2]int64{1, 52}, tensor.Shape)
	require.Len(t, tensor.Data, 52)
	assert.Equal(t, []int64{101, int64('皮'), int64('卡'), int64('丘'), 102}, tensor.Data[:5])
	for _, id := range tensor.Data[5:] {
		assert.Zero(t, id)
	}
	assert.False(t, tensor.Truncated)
}

func TestTextProcessorExactLengthUnchanged(t *testing.T) {
	p, err := NewTextProcessor(&fakeTokenizer{}, 4, nil)
	require.NoError(t, err)

	tensor := p.FromIDs([]int{7, 8, 9, 10})
	assert.Equal(t, []int64{7, 8, 9, 10}, tensor.Data)
	assert.Equal(t, [2]int64{1, 4}, tensor.Shape)
	assert.False(t, tensor.Truncated)
}

func TestTextProcessorTruncatesAndWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p, err := NewTextProcessor(&fakeTokenizer{}, 3, zap.New(core))
	require.NoError(t, err)

	tensor := p.FromIDs([]int{1, 2, 3, 4, 5})
	assert.Equal(t, []int64{1, 2, 3}, tensor.Data)
	assert.True(t, tensor.Truncated)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, int64(5), entry.ContextMap()["tokens"])
	assert.Equal(t, int64(3), entry.ContextMap()["max_length"])
}

func TestTextProcessorErrors(t *testing.T) {
	_, err := NewTextProcessor(&fakeTokenizer{}, 0, nil)
	require.ErrorIs(t, err, ErrShape)

	_, err = NewTextProcessor(nil, 52, nil)
	require.ErrorIs(t, err, ErrTokenize)

	p, err := NewTextProcessor(&fakeTokenizer{}, 52, nil)
	require.NoError(t, err)
	_, err = p.Process(string([]byte{0xff, 0xfe}))
	require.ErrorIs(t, err, ErrTokenize)

	cause := errors.New("unknown piece")
	p, err = NewTextProcessor(&fakeTokenizer{err: cause}, 52, nil)
	require.NoError(t, err)
	_, err = p.Process("小火龙")
	require.ErrorIs(t, err, ErrTokenize)
	require.ErrorIs(t, err, cause)

	p, err = NewTextProcessor(&fakeTokenizer{panics: true}, 52, nil)
	require.NoError(t, err)
	_, err = p.Process("杰尼龟")
	require.ErrorIs(t, err, ErrTokenize)
	assert.Contains(t, err.Error(), "vocabulary corrupted")
}

func TestLoadTokenizerWordPieceVocab(t *testing.T) {
	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]", "hello", "world"}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, WordPieceVocabFile), []byte(strings.Join(vocab, "\n")+"\n"), 0o600))

	tok, err := LoadTokenizer(dir)
	require.NoError(t, err)
	defer tok.Close()

	ids, err := tok.Encode("hello world", true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 6, 3}, ids)

	ids, err = tok.Encode("hello world", false)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, ids)
}

// bertPostProcessed behaves like a tokenizer.json whose post-processor
// always wraps the ids in [CLS]/[SEP].
type bertPostProcessed struct{}

func (bertPostProcessed) Encode(text string) []int {
	ids := []int{101}
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return append(ids, 102)
}

func (bertPostProcessed) Decode([]int) string { return "" }

func (bertPostProcessed) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokClassification:
		return 101, nil
	case api.TokEndOfSentence:
		return 102, nil
	}
	return 0, fmt.Errorf("no %v token", token)
}

func TestHFTokenizerSpecialTokens(t *testing.T) {
	tok := &hfTokenizer{tok: bertPostProcessed{}}

	ids, err := tok.Encode("ab", true)
	require.NoError(t, err)
	assert.Equal(t, []int{101, 'a', 'b', 102}, ids)

	ids, err = tok.Encode("ab", false)
	require.NoError(t, err)
	assert.Equal(t, []int{'a', 'b'}, ids)

	ids, err = tok.Encode("", false)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadTokenizerErrors(t *testing.T) {
	_, err := LoadTokenizer(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, ErrTokenize)

	_, err = LoadTokenizer(t.TempDir())
	require.ErrorIs(t, err, ErrTokenize)

	unknown := filepath.Join(t.TempDir(), "vocab.bin")
	require.NoError(t, os.WriteFile(unknown, []byte{1}, 0o600))
	_, err = LoadTokenizer(unknown)
	require.ErrorIs(t, err, ErrTokenize)
}

func TestNormalizeTokenizerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), TokenizerConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{
		"cls_token": {"__type": "AddedToken", "content": "[CLS]"},
		"sep_token": "[SEP]",
		"model_max_length": 52
	}`), 0o600))

	out, err := normalizeTokenizerConfig(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"cls_token":"[CLS]"`)
	assert.Contains(t, string(out), `"sep_token":"[SEP]"`)
}
