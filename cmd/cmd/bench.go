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
	"fmt"
	"os"
	"time"

	"github.com/deadash/cnclip"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	benchImage      string
	benchText       string
	benchIterations int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure image and text encoder latency",
	Long: `Load the encoders once, then time --iterations runs of the image
encoder on --image and of the text encoder on --text.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	f := benchCmd.Flags()
	f.StringVarP(&benchImage, "image", "i", "", "image file to encode")
	f.StringVarP(&benchText, "text", "t", "皮卡丘", "text to encode")
	f.IntVarP(&benchIterations, "iterations", "n", 100, "runs per encoder")
	_ = benchCmd.MarkFlagRequired("image")
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if benchIterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", benchIterations)
	}

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	data, err := os.ReadFile(benchImage)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	start := time.Now()
	enc, err := cnclip.LoadEncoders(logger, cfg)
	if err != nil {
		return fmt.Errorf("loading encoders: %w", err)
	}
	defer func() {
		if err := enc.Close(); err != nil {
			logger.Warn("Closing encoders", zap.Error(err))
		}
	}()
	logger.Info("Encoders loaded",
		zap.Duration("duration", time.Since(start)),
		zap.String("image_backend", string(enc.Image.Backend())),
		zap.String("text_backend", string(enc.Text.Backend())))

	var imageTotal, textTotal time.Duration
	for i := range benchIterations {
		t := time.Now()
		if _, err := enc.Image.Extract(ctx, data); err != nil {
			return fmt.Errorf("image iteration %d: %w", i, err)
		}
		d := time.Since(t)
		imageTotal += d
		logger.Debug("Image iteration", zap.Int("iteration", i), zap.Duration("duration", d))

		t = time.Now()
		if _, err := enc.Text.Extract(ctx, benchText); err != nil {
			return fmt.Errorf("text iteration %d: %w", i, err)
		}
		d = time.Since(t)
		textTotal += d
		logger.Debug("Text iteration", zap.Int("iteration", i), zap.Duration("duration", d))
	}

	n := time.Duration(benchIterations)
	logger.Info("Benchmark complete",
		zap.Int("iterations", benchIterations),
		zap.Duration("image_avg", imageTotal/n),
		zap.Duration("text_avg", textTotal/n))
	return nil
}
