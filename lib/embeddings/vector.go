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
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// FeatureVector is an L2-normalized embedding produced by an extractor.
type FeatureVector []float32

// Norm returns the Euclidean norm of v.
func (v FeatureVector) Norm() float32 {
	return nrm2(v)
}

func nrm2(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return blas32.Nrm2(blas32.Vector{N: len(v), Inc: 1, Data: v})
}

// NormalizeL2 returns a copy of raw scaled to unit length. A zero or
// non-finite norm yields ErrNormalization instead of NaN values.
func NormalizeL2(raw []float32) (FeatureVector, error) {
	norm := nrm2(raw)
	if norm == 0 || math.IsNaN(float64(norm)) || math.IsInf(float64(norm), 0) {
		return nil, fmt.Errorf("%w: norm is %v over %d dimensions", ErrNormalization, norm, len(raw))
	}

	out := make(FeatureVector, len(raw))
	for i, x := range raw {
		out[i] = x / norm
	}
	return out, nil
}
