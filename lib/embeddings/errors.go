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
	"errors"

	"github.com/deadash/cnclip/lib/pipelines"
	"github.com/deadash/cnclip/lib/similarity"
)

// Extraction failures, usable with errors.Is. Errors returned by this
// package wrap one of these together with the underlying cause.
var (
	// ErrNormalization reports an encoder output whose L2 norm is zero
	// or not finite.
	ErrNormalization = errors.New("cannot normalize degenerate feature vector")

	// ErrEngine reports an inference engine failure: model load, shape
	// mismatch at the engine boundary, or a failed run.
	ErrEngine = errors.New("inference engine failure")

	// Re-exported so callers only need this package.
	ErrDecode            = pipelines.ErrDecode
	ErrShape             = pipelines.ErrShape
	ErrTokenize          = pipelines.ErrTokenize
	ErrDimensionMismatch = similarity.ErrDimensionMismatch
)
