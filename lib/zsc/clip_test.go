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

package zsc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/deadash/cnclip/lib/embeddings"
	"github.com/deadash/cnclip/lib/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pokemon = []string{"杰尼龟", "妙蛙种子", "小火龙", "皮卡丘"}

type fixedImage struct {
	vec embeddings.FeatureVector
	err error
}

func (f fixedImage) Extract(_ context.Context, _ []byte) (embeddings.FeatureVector, error) {
	return f.vec, f.err
}

// mapText returns a fixed vector per prompt and tracks peak concurrency.
type mapText struct {
	vectors map[string]embeddings.FeatureVector
	mu      sync.Mutex
	prompts []string
	active  atomic.Int32
	peak    atomic.Int32
}

func (m *mapText) Extract(_ context.Context, text string) (embeddings.FeatureVector, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, text)
	m.mu.Unlock()

	v, ok := m.vectors[text]
	if !ok {
		return nil, errors.New("unknown prompt")
	}
	return v, nil
}

func pokemonText() *mapText {
	return &mapText{vectors: map[string]embeddings.FeatureVector{
		"杰尼龟":  {0, 1, 0},
		"妙蛙种子": {0, 0, 1},
		"小火龙":  {0.6, 0.8, 0},
		"皮卡丘":  {1, 0, 0},
	}}
}

func TestClassifyPokemon(t *testing.T) {
	c, err := NewCLIPClassifier(fixedImage{vec: embeddings.FeatureVector{1, 0, 0}}, pokemonText())
	require.NoError(t, err)

	scores, err := c.Classify(context.Background(), []byte("img"), pokemon)
	require.NoError(t, err)
	require.Len(t, scores, 4)

	var total float32
	for i, s := range scores {
		assert.Equal(t, pokemon[i], s.Label)
		total += s.Probability
	}
	assert.InDelta(t, 1.0, total, 1e-5)
	assert.InDelta(t, 100.0, scores[3].Logit, 1e-4)
	assert.InDelta(t, 60.0, scores[2].Logit, 1e-4)
	assert.Equal(t, 3, similarity.Best(scores))

	again, err := c.Classify(context.Background(), []byte("img"), pokemon)
	require.NoError(t, err)
	assert.Equal(t, scores, again)
}

func TestClassifyTemplate(t *testing.T) {
	text := &mapText{vectors: map[string]embeddings.FeatureVector{
		"一张皮卡丘的图片": {1, 0},
		"一张小火龙的图片": {0, 1},
	}}
	c, err := NewCLIPClassifier(fixedImage{vec: embeddings.FeatureVector{0, 1}}, text,
		WithLabelTemplate("一张{}的图片"))
	require.NoError(t, err)

	assert.Equal(t, "一张皮卡丘的图片", c.Prompt("皮卡丘"))

	scores, err := c.Classify(context.Background(), nil, []string{"皮卡丘", "小火龙"})
	require.NoError(t, err)
	assert.Equal(t, "小火龙", scores[similarity.Best(scores)].Label)
	assert.ElementsMatch(t, []string{"一张皮卡丘的图片", "一张小火龙的图片"}, text.prompts)
}

func TestClassifyConcurrencyLimit(t *testing.T) {
	text := pokemonText()
	c, err := NewCLIPClassifier(fixedImage{vec: embeddings.FeatureVector{1, 0, 0}}, text, WithConcurrency(1))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), nil, pokemon)
	require.NoError(t, err)
	assert.Equal(t, int32(1), text.peak.Load())
	assert.Equal(t, pokemon, text.prompts)
}

func TestClassifyErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no labels", func(t *testing.T) {
		c, err := NewCLIPClassifier(fixedImage{vec: embeddings.FeatureVector{1}}, pokemonText())
		require.NoError(t, err)
		_, err = c.Classify(ctx, nil, nil)
		assert.ErrorIs(t, err, ErrNoLabels)
	})

	t.Run("image failure", func(t *testing.T) {
		c, err := NewCLIPClassifier(fixedImage{err: embeddings.ErrDecode}, pokemonText())
		require.NoError(t, err)
		_, err = c.Classify(ctx, []byte("x"), pokemon)
		assert.ErrorIs(t, err, embeddings.ErrDecode)
	})

	t.Run("label failure", func(t *testing.T) {
		c, err := NewCLIPClassifier(fixedImage{vec: embeddings.FeatureVector{1, 0, 0}}, pokemonText())
		require.NoError(t, err)
		_, err = c.Classify(ctx, nil, []string{"皮卡丘", "喷火龙"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "喷火龙")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		c, err := NewCLIPClassifier(fixedImage{vec: embeddings.FeatureVector{1, 0}}, pokemonText())
		require.NoError(t, err)
		_, err = c.Classify(ctx, nil, pokemon)
		assert.ErrorIs(t, err, embeddings.ErrDimensionMismatch)
	})

	t.Run("missing embedders", func(t *testing.T) {
		_, err := NewCLIPClassifier(nil, pokemonText())
		require.Error(t, err)
		_, err = NewCLIPClassifier(fixedImage{}, nil)
		require.Error(t, err)
	})
}
