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

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/deadash/cnclip/lib/modelhub"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <repo-id>",
	Short: "Download Chinese-CLIP encoders from HuggingFace",
	Long: `Download the ONNX image and text encoders and the tokenizer of a
Chinese-CLIP export from a HuggingFace repository.

Encoder files are expected to be named like
clip_cn_<model>.img.<precision>.onnx and clip_cn_<model>.txt.<precision>.onnx.
Files are written flat into --dir.

Examples:
  # Pull the ViT-L/14 FP32 encoders
  cnclip pull --model vit-l-14 my-org/chinese-clip-onnx

  # Pull FP16 encoders into a custom directory
  cnclip pull --model vit-b-16 --precision fp16 --dir /opt/cnclip/models my-org/chinese-clip-onnx`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	f := pullCmd.Flags()
	f.String("model", "", "encoder name filter, e.g. vit-l-14 (default all)")
	f.String("precision", "fp32", "encoder precision, e.g. fp32 or fp16")
	f.String("dir", "models", "destination directory")
	f.String("hf-token", "", "HuggingFace API token for gated models (or use HF_TOKEN env var)")
}

func runPull(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	precision, _ := cmd.Flags().GetString("precision")
	dir, _ := cmd.Flags().GetString("dir")
	hfToken, _ := cmd.Flags().GetString("hf-token")
	if hfToken == "" {
		hfToken = os.Getenv("HF_TOKEN")
	}

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	client := modelhub.NewClient(
		modelhub.WithToken(hfToken),
		modelhub.WithLogger(logger.Named("modelhub")),
		modelhub.WithProgressHandler(func(downloaded, total int64, filename string) {
			if total == 0 {
				fmt.Printf("  downloading %s\n", filename)
				return
			}
			fmt.Printf("  %s: %d bytes\n", filename, downloaded)
		}),
	)

	repoID := args[0]
	fmt.Printf("Pulling %s into %s\n", repoID, dir)
	paths, err := client.Pull(cmd.Context(), repoID, modelhub.Selector{Model: model, Precision: precision}, dir)
	if err != nil {
		return fmt.Errorf("pulling %s: %w", repoID, err)
	}

	image, text, tokenizer := modelhub.Encoders(paths)
	if image == "" || text == "" || tokenizer == "" {
		return errors.New("download is missing an image encoder, text encoder or tokenizer; narrow the match with --model")
	}

	fmt.Println("\nAdd to cnclip.yaml:")
	fmt.Printf("  image_model: %s\n", image)
	fmt.Printf("  text_model: %s\n", text)
	fmt.Printf("  tokenizer: %s\n", tokenizer)
	return nil
}
