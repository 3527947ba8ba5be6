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

package modelhub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var repoFiles = []string{
	".gitattributes",
	"README.md",
	"clip_cn_tokenizer.json",
	"onnx/clip_cn_vit-b-16.img.fp16.onnx",
	"onnx/clip_cn_vit-b-16.txt.fp16.onnx",
	"onnx/clip_cn_vit-l-14.img.fp16.onnx",
	"onnx/clip_cn_vit-l-14.img.fp32.onnx",
	"onnx/clip_cn_vit-l-14.img.fp32.onnx.data",
	"onnx/clip_cn_vit-l-14.txt.fp32.onnx",
	"vocab.txt",
}

func TestSelectFiles(t *testing.T) {
	tests := []struct {
		name string
		sel  Selector
		want []string
	}{
		{
			name: "model and precision",
			sel:  Selector{Model: "vit-l-14", Precision: "fp32"},
			want: []string{
				"clip_cn_tokenizer.json",
				"onnx/clip_cn_vit-l-14.img.fp32.onnx",
				"onnx/clip_cn_vit-l-14.img.fp32.onnx.data",
				"onnx/clip_cn_vit-l-14.txt.fp32.onnx",
				"vocab.txt",
			},
		},
		{
			name: "precision only",
			sel:  Selector{Precision: "fp16"},
			want: []string{
				"clip_cn_tokenizer.json",
				"onnx/clip_cn_vit-b-16.img.fp16.onnx",
				"onnx/clip_cn_vit-b-16.txt.fp16.onnx",
				"onnx/clip_cn_vit-l-14.img.fp16.onnx",
				"vocab.txt",
			},
		},
		{
			name: "no match",
			sel:  Selector{Model: "rn50"},
			want: []string{"clip_cn_tokenizer.json", "vocab.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectFiles(repoFiles, tt.sel))
		})
	}
}

func TestEncoders(t *testing.T) {
	image, text, tok := Encoders([]string{
		"models/vocab.txt",
		"models/clip_cn_tokenizer.json",
		"models/clip_cn_vit-l-14.img.fp32.onnx",
		"models/clip_cn_vit-l-14.img.fp32.onnx.data",
		"models/clip_cn_vit-l-14.txt.fp32.onnx",
	})
	assert.Equal(t, "models/clip_cn_vit-l-14.img.fp32.onnx", image)
	assert.Equal(t, "models/clip_cn_vit-l-14.txt.fp32.onnx", text)
	assert.Equal(t, "models/clip_cn_tokenizer.json", tok)

	_, _, tok = Encoders([]string{"m/vocab.txt", "m/tokenizer_config.json"})
	assert.Equal(t, "m/vocab.txt", tok)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.onnx")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0o644))

	dst := filepath.Join(dir, "dst.onnx")
	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	assert.Error(t, copyFile(filepath.Join(dir, "missing"), dst))
}
