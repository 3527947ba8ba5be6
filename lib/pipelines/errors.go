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

import "errors"

// Preprocessing failures. Errors returned by this package wrap one of
// these together with the underlying cause, so both can be checked with
// errors.Is.
var (
	// ErrDecode reports bytes that are not a decodable image.
	ErrDecode = errors.New("image decode failed")

	// ErrShape reports an invalid target tensor shape.
	ErrShape = errors.New("invalid tensor shape")

	// ErrTokenize reports a tokenizer failure.
	ErrTokenize = errors.New("tokenization failed")
)
