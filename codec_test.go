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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeFloatArrays_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data [][]float32
	}{
		{name: "empty", data: [][]float32{}},
		{name: "single vector", data: [][]float32{{0.6, 0.8}}},
		{name: "labels", data: [][]float32{{1e-10, -1e10, 0}, {-0.5, 0.5, 3.14159}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, SerializeFloatArrays(&buf, tt.data))
			assert.Equal(t, 16+4*len(tt.data)*dimOf(tt.data), buf.Len())

			result, err := DeserializeFloatArrays(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.data, result)
		})
	}
}

func dimOf(data [][]float32) int {
	if len(data) == 0 {
		return 0
	}
	return len(data[0])
}

func TestSerializeFloatArrays_Errors(t *testing.T) {
	err := SerializeFloatArrays(&bytes.Buffer{}, [][]float32{{1, 2}, {3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector 1 has 1 dimensions")

	// header succeeds, the second vector fails
	w := &failingWriter{failAfter: 2}
	err = SerializeFloatArrays(w, [][]float32{{1, 2, 3}, {4, 5, 6}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing vector 1")
}

func TestDeserializeFloatArrays_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{
			name:    "empty reader",
			data:    []byte{},
			wantErr: "reading header",
		},
		{
			name:    "incomplete header",
			data:    []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0},
			wantErr: "reading header",
		},
		{
			name: "incomplete data",
			data: []byte{
				1, 0, 0, 0, 0, 0, 0, 0, // one vector
				2, 0, 0, 0, 0, 0, 0, 0, // two dimensions
				0, 0, 128, 63, // 1.0
			},
			wantErr: "reading vector 0",
		},
		{
			name: "absurd header",
			data: []byte{
				255, 255, 255, 255, 255, 255, 255, 255,
				1, 0, 0, 0, 0, 0, 0, 0,
			},
			wantErr: "invalid header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeFloatArrays(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func BenchmarkSerializeFloatArrays(b *testing.B) {
	data := make([][]float32, 4)
	for i := range data {
		data[i] = make([]float32, 768)
		for j := range data[i] {
			data[i][j] = float32(i*768 + j)
		}
	}

	for b.Loop() {
		var buf bytes.Buffer
		_ = SerializeFloatArrays(&buf, data)
	}
}

// failingWriter is a test helper that fails after a certain number of writes
type failingWriter struct {
	writes    int
	failAfter int
}

func (w *failingWriter) Write(p []byte) (n int, err error) {
	w.writes++
	if w.writes > w.failAfter {
		return 0, assert.AnError
	}
	return len(p), nil
}
