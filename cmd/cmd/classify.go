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
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bytedance/sonic/encoder"
	"github.com/deadash/cnclip"
	"github.com/deadash/cnclip/lib/similarity"
	"github.com/deadash/cnclip/lib/zsc"
	"github.com/deadash/cnclip/pkg/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	classifyImage  string
	classifyLabels []string
	classifyServer string
	classifyJSON   bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Zero-shot classify an image against text labels",
	Long: `Score an image against a list of candidate labels. Each label is
expanded with --label-template, embedded by the text encoder, and compared
with the image embedding. Probabilities are a softmax over 100x cosine
similarity and are reported in label order.

Examples:
  cnclip classify --image pokemon.jpeg
  cnclip classify --image cat.jpg --labels 猫,狗,兔子 --label-template "一张{}的照片"
  cnclip classify --image cat.jpg --labels 猫,狗 --server http://localhost:11435`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	f := classifyCmd.Flags()
	f.StringVarP(&classifyImage, "image", "i", "", "image file (JPEG, PNG, GIF, BMP, TIFF or WebP)")
	f.StringSliceVarP(&classifyLabels, "labels", "l", []string{"杰尼龟", "妙蛙种子", "小火龙", "皮卡丘"}, "candidate labels")
	f.StringVar(&classifyServer, "server", "", "classify on a running cnclip server instead of loading models")
	f.BoolVar(&classifyJSON, "json", false, "print the result as JSON")
	_ = classifyCmd.MarkFlagRequired("image")
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(classifyImage)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	var resp *cnclip.ClassifyResponse
	if classifyServer != "" {
		resp, err = client.NewClient(classifyServer, nil).Classify(ctx, data, classifyLabels)
	} else {
		resp, err = classifyLocal(ctx, data, classifyLabels)
	}
	if err != nil {
		return err
	}

	if classifyJSON {
		return encoder.NewStreamEncoder(os.Stdout).Encode(resp)
	}
	return printScores(resp)
}

func classifyLocal(ctx context.Context, data []byte, labels []string) (*cnclip.ClassifyResponse, error) {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	enc, err := cnclip.LoadEncoders(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading encoders: %w", err)
	}
	defer func() {
		if err := enc.Close(); err != nil {
			logger.Warn("Closing encoders", zap.Error(err))
		}
	}()

	classifier, err := zsc.NewCLIPClassifier(enc.Image, enc.Text,
		zsc.WithLabelTemplate(cfg.LabelTemplate),
		zsc.WithConcurrency(cfg.ClassifyConcurrency),
		zsc.WithLogger(logger.Named("zsc")),
	)
	if err != nil {
		return nil, err
	}

	scores, err := classifier.Classify(ctx, data, labels)
	if err != nil {
		return nil, err
	}
	resp := &cnclip.ClassifyResponse{Scores: scores}
	if best := similarity.Best(scores); best >= 0 {
		resp.Best = scores[best].Label
	}
	return resp, nil
}

func printScores(resp *cnclip.ClassifyResponse) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LABEL\tLOGIT\tPROBABILITY\t")
	for _, s := range resp.Scores {
		marker := ""
		if s.Label == resp.Best {
			marker = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%.4f\t%s\n", s.Label, s.Logit, s.Probability, marker)
	}
	return w.Flush()
}
