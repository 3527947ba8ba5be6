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
	"strings"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/deadash/cnclip"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version is set by main from build flags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cnclip",
	Short: "Chinese-CLIP image and text feature extraction",
	Long: `cnclip runs the Chinese-CLIP image and text encoders on ONNX Runtime
(or the pure Go backend) to produce L2-normalized embeddings and zero-shot
image classifications.

Settings come from flags, CNCLIP_* environment variables, or a cnclip.yaml
config file, in that order of precedence.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	cnclip.Version = Version
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := cnclip.DefaultConfig()
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&cfgFile, "config", "", "config file (default ./cnclip.yaml)")

	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	mustBindPFlag("log.level", pf.Lookup("log-level"))
	pf.String("log-style", "", "log style (terminal, json, logfmt)")
	mustBindPFlag("log.style", pf.Lookup("log-style"))

	pf.String("image-model", defaults.ImageModel, "image encoder ONNX file")
	mustBindPFlag("image_model", pf.Lookup("image-model"))
	pf.String("text-model", defaults.TextModel, "text encoder ONNX file")
	mustBindPFlag("text_model", pf.Lookup("text-model"))
	pf.String("tokenizer", defaults.Tokenizer, "tokenizer.json, tokenizer.model, vocab.txt or a directory")
	mustBindPFlag("tokenizer", pf.Lookup("tokenizer"))

	pf.Int("width", defaults.Resolution.Width, "image encoder input width")
	mustBindPFlag("resolution.width", pf.Lookup("width"))
	pf.Int("height", defaults.Resolution.Height, "image encoder input height")
	mustBindPFlag("resolution.height", pf.Lookup("height"))
	pf.Int("max-length", defaults.MaxLength, "text encoder sequence length")
	mustBindPFlag("max_length", pf.Lookup("max-length"))

	pf.StringSlice("backend", nil, "backend priority, e.g. onnx:cuda,go (default onnx,go)")
	mustBindPFlag("backend_priority", pf.Lookup("backend"))
	pf.StringSlice("provider", nil, "execution providers: cuda, tensorrt, openvino, directml, coreml, cpu (default auto)")
	mustBindPFlag("providers", pf.Lookup("provider"))
	pf.Int("threads", defaults.NumThreads, "intra-op threads (0 = runtime default)")
	mustBindPFlag("num_threads", pf.Lookup("threads"))
	pf.Int("opt-level", defaults.GraphOptimizationLevel, "graph optimization level 0-3")
	mustBindPFlag("graph_optimization_level", pf.Lookup("opt-level"))
	pf.String("label-template", defaults.LabelTemplate, `prompt for classification labels, "{}" is replaced by the label`)
	mustBindPFlag("label_template", pf.Lookup("label-template"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("cnclip")
	}

	viper.SetEnvPrefix("CNCLIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %q: %v", key, err))
	}
}

// newLogger creates a logger from the log.* settings.
func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

// loadConfig merges defaults, the config file, environment and flags.
func loadConfig() (cnclip.Config, error) {
	cfg := cnclip.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
