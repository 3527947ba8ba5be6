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

	"github.com/bytedance/sonic/encoder"
	"github.com/deadash/cnclip"
	"github.com/deadash/cnclip/pkg/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	embedImage  string
	embedText   []string
	embedServer string
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Print L2-normalized embeddings for an image or texts",
	Long: `Run the image encoder on --image, or the text encoder on each --text,
and print the resulting unit-length embeddings as JSON.

Examples:
  cnclip embed --image pokemon.jpeg
  cnclip embed --text 皮卡丘 --text 小火龙
  cnclip embed --text 皮卡丘 --server http://localhost:11435`,
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)

	f := embedCmd.Flags()
	f.StringVarP(&embedImage, "image", "i", "", "image file to embed")
	f.StringArrayVarP(&embedText, "text", "t", nil, "text to embed (repeatable)")
	f.StringVar(&embedServer, "server", "", "embed on a running cnclip server instead of loading models")
	embedCmd.MarkFlagsMutuallyExclusive("image", "text")
	embedCmd.MarkFlagsOneRequired("image", "text")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var image []byte
	if embedImage != "" {
		var err error
		if image, err = os.ReadFile(embedImage); err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
	}

	var vectors [][]float32
	if embedServer != "" {
		c := client.NewClient(embedServer, nil)
		if image != nil {
			vec, err := c.EmbedImage(ctx, image)
			if err != nil {
				return err
			}
			vectors = [][]float32{vec}
		} else {
			var err error
			if vectors, err = c.EmbedText(ctx, embedText...); err != nil {
				return err
			}
		}
		return printEmbeddings(vectors)
	}

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	enc, err := cnclip.LoadEncoders(logger, cfg)
	if err != nil {
		return fmt.Errorf("loading encoders: %w", err)
	}
	defer func() {
		if err := enc.Close(); err != nil {
			logger.Warn("Closing encoders", zap.Error(err))
		}
	}()

	if image != nil {
		vec, err := enc.Image.Extract(ctx, image)
		if err != nil {
			return err
		}
		vectors = [][]float32{vec}
	} else {
		batch, err := enc.Text.ExtractBatch(ctx, embedText)
		if err != nil {
			return err
		}
		for _, v := range batch {
			vectors = append(vectors, v)
		}
	}
	if len(vectors) == 0 {
		return errors.New("nothing to embed")
	}
	return printEmbeddings(vectors)
}

func printEmbeddings(vectors [][]float32) error {
	return encoder.NewStreamEncoder(os.Stdout).Encode(cnclip.EmbedResponse{Embeddings: vectors})
}
