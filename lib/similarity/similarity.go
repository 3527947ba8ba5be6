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

// Package similarity scores image embeddings against text embeddings the
// way CLIP does: a scaled cosine similarity followed by a softmax over the
// candidate labels.
package similarity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/floats"
)

// LogitScale is the temperature learned during contrastive training.
const LogitScale float32 = 100.0

// ErrDimensionMismatch reports vectors of unequal length.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Candidate is one labeled text embedding in a candidate set.
type Candidate struct {
	Label  string
	Vector []float32
}

// Score is the result for one candidate. Scores are reported in the order
// the candidates were given.
type Score struct {
	Label       string  `json:"label"`
	Logit       float32 `json:"logit"`
	Probability float32 `json:"probability"`
}

func dot(a, b []float32) float32 {
	return blas32.Dot(
		blas32.Vector{N: len(a), Inc: 1, Data: a},
		blas32.Vector{N: len(b), Inc: 1, Data: b},
	)
}

// Similarity returns the dot product of image and text scaled by
// LogitScale. For unit vectors this is 100 times their cosine similarity.
func Similarity(image, text []float32) (float32, error) {
	if len(image) != len(text) {
		return 0, fmt.Errorf("%w: image has %d dimensions, text has %d", ErrDimensionMismatch, len(image), len(text))
	}
	if len(image) == 0 {
		return 0, nil
	}
	return dot(image, text) * LogitScale, nil
}

// Softmax converts logits into probabilities that sum to 1. The maximum is
// subtracted before exponentiating, so the result is unchanged when every
// logit is shifted by the same constant. An empty input yields an empty
// result.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return []float32{}
	}

	exps := make([]float64, len(logits))
	for i, l := range logits {
		exps[i] = float64(l)
	}
	maxLogit := floats.Max(exps)
	for i := range exps {
		exps[i] = math.Exp(exps[i] - maxLogit)
	}
	floats.Scale(1/floats.Sum(exps), exps)

	probs := make([]float32, len(exps))
	for i, e := range exps {
		probs[i] = float32(e)
	}
	return probs
}

// Logits scores image against every candidate.
func Logits(image []float32, candidates []Candidate) ([]float32, error) {
	logits := make([]float32, len(candidates))
	for i, c := range candidates {
		s, err := Similarity(image, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("candidate %d (%q): %w", i, c.Label, err)
		}
		logits[i] = s
	}
	return logits, nil
}

// Rank scores image against every candidate and attaches the softmax
// probability of each. The result is aligned with candidates.
func Rank(image []float32, candidates []Candidate) ([]Score, error) {
	logits, err := Logits(image, candidates)
	if err != nil {
		return nil, err
	}
	probs := Softmax(logits)

	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		scores[i] = Score{Label: c.Label, Logit: logits[i], Probability: probs[i]}
	}
	return scores, nil
}

// Best returns the index of the most probable score, or -1 when scores is
// empty. Ties resolve to the earliest candidate.
func Best(scores []Score) int {
	best := -1
	for i, s := range scores {
		if best < 0 || s.Probability > scores[best].Probability {
			best = i
		}
	}
	return best
}
