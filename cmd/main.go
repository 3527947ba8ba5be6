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

// Command cnclip serves Chinese-CLIP image and text embeddings and
// zero-shot image classification backed by ONNX encoders.
//
// Usage:
//
//	cnclip run                               # Start the server
//	cnclip classify --image cat.jpg -l 猫,狗  # Classify an image locally
//	cnclip embed --text 皮卡丘                # Print one embedding
//	cnclip pull <repo-id>                    # Download encoders from HuggingFace
//	cnclip backends                          # Show inference backends
package main

import (
	"io"
	"runtime"

	json "github.com/antflydb/antfly-go/libaf/json"
	"github.com/deadash/cnclip/cmd/cmd"
	gojson "github.com/goccy/go-json"
)

func init() {
	json.SetConfig(json.Config{
		Marshal:   gojson.Marshal,
		Unmarshal: gojson.Unmarshal,
		MarshalString: func(v any) (string, error) {
			data, err := gojson.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		UnmarshalString: func(s string, v any) error {
			return gojson.Unmarshal([]byte(s), v)
		},
		NewEncoder: func(w io.Writer) json.Encoder {
			return gojson.NewEncoder(w)
		},
		NewDecoder: func(r io.Reader) json.Decoder {
			return gojson.NewDecoder(r)
		},
	})
}

// Set by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
	cmd.Version = version
	cmd.Execute()
}
