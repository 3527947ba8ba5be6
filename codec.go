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

package cnclip

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// SerializeFloatArrays writes vectors as little-endian binary: the vector
// count and dimension as uint64, followed by every value as float32.
func SerializeFloatArrays(w io.Writer, vectors [][]float32) error {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), dim)
		}
	}

	var header [16]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(vectors)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(dim))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	buf := make([]byte, 4*dim)
	for i, v := range vectors {
		for j, f := range v {
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(f))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("writing vector %d: %w", i, err)
		}
	}
	return nil
}

// DeserializeFloatArrays reads vectors written by SerializeFloatArrays.
func DeserializeFloatArrays(r io.Reader) ([][]float32, error) {
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	n := binary.LittleEndian.Uint64(header[0:8])
	dim := binary.LittleEndian.Uint64(header[8:16])
	if n > math.MaxInt32 || dim > math.MaxInt32 {
		return nil, fmt.Errorf("invalid header: %d vectors of %d dimensions", n, dim)
	}

	vectors := make([][]float32, n)
	buf := make([]byte, 4*dim)
	for i := range vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading vector %d: %w", i, err)
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		vectors[i] = v
	}
	return vectors, nil
}
