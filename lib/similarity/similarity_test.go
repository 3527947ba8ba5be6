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

package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(v ...float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func sum(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x)
	}
	return s
}

func TestSimilaritySelfIsLogitScale(t *testing.T) {
	v := unit(0.3, -1.2, 4.5, 0.01, 2)
	s, err := Similarity(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, s, 1e-3)
}

func TestSimilarityOrthogonal(t *testing.T) {
	s, err := Similarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.Zero(t, s)

	s, err = Similarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.Equal(t, float32(-100), s)
}

func TestSimilarityDimensionMismatch(t *testing.T) {
	_, err := Similarity([]float32{1, 2, 3}, []float32{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	for _, logits := range [][]float32{
		{1, 2, 3},
		{-1000, 0, 1000},
		{25.1, 24.9, 18.3, 30.2},
		{0, 0, 0, 0, 0},
	} {
		probs := Softmax(logits)
		require.Len(t, probs, len(logits))
		assert.InDelta(t, 1.0, sum(probs), 1e-5, "logits %v", logits)
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, float32(0))
			assert.LessOrEqual(t, p, float32(1))
			assert.False(t, math.IsNaN(float64(p)))
		}
	}
}

func TestSoftmaxShiftInvariant(t *testing.T) {
	logits := []float32{3.2, -1.5, 0.7, 8.8}
	shifted := make([]float32, len(logits))
	for i, l := range logits {
		shifted[i] = l + 250
	}
	assert.InDeltaSlice(t, Softmax(logits), Softmax(shifted), 1e-6)
}

func TestSoftmaxSingleElement(t *testing.T) {
	for _, x := range []float32{0, -42, 1e6, 3.5} {
		assert.Equal(t, []float32{1}, Softmax([]float32{x}))
	}
}

func TestSoftmaxEmpty(t *testing.T) {
	assert.Empty(t, Softmax(nil))
}

func TestSoftmaxLargeLogitsNoOverflow(t *testing.T) {
	probs := Softmax([]float32{1e4, 1e4 - 1})
	assert.InDelta(t, 1/(1+math.Exp(-1)), probs[0], 1e-6)
	assert.InDelta(t, 1.0, sum(probs), 1e-6)
}

func TestRankPreservesOrder(t *testing.T) {
	image := unit(1, 1, 0)
	candidates := []Candidate{
		{Label: "杰尼龟", Vector: unit(0, 0, 1)},
		{Label: "妙蛙种子", Vector: unit(0, 1, 0)},
		{Label: "小火龙", Vector: unit(-1, 0, 0)},
		{Label: "皮卡丘", Vector: unit(1, 1, 0)},
	}

	scores, err := Rank(image, candidates)
	require.NoError(t, err)
	require.Len(t, scores, 4)

	for i, s := range scores {
		assert.Equal(t, candidates[i].Label, s.Label)
		assert.Greater(t, s.Probability, float32(0))
		assert.Less(t, s.Probability, float32(1))
	}
	assert.InDelta(t, 100.0, scores[3].Logit, 1e-3)
	assert.Equal(t, 3, Best(scores))
}

func TestRankDimensionMismatch(t *testing.T) {
	_, err := Rank([]float32{1, 0}, []Candidate{{Label: "a", Vector: []float32{1, 0, 0}}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), `"a"`)
}

func TestBest(t *testing.T) {
	assert.Equal(t, -1, Best(nil))
	assert.Equal(t, 0, Best([]Score{{Probability: 0.5}, {Probability: 0.5}}))
	assert.Equal(t, 1, Best([]Score{{Probability: 0.2}, {Probability: 0.7}, {Probability: 0.1}}))
}
