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
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/deadash/cnclip"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cnclip server",
	Long: `Load the image and text encoders once and serve embeddings and
zero-shot classification over HTTP.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := cnclip.DefaultConfig()
	f := runCmd.Flags()
	f.String("api-url", defaults.ApiUrl, "address the API listens on")
	mustBindPFlag("api_url", f.Lookup("api-url"))
	f.Int("health-port", 4200, "health/metrics server port")
	mustBindPFlag("health_port", f.Lookup("health-port"))
	f.Duration("cache-ttl", defaults.CacheTTL, "how long text embeddings stay cached")
	mustBindPFlag("cache_ttl", f.Lookup("cache-ttl"))
	f.Int("max-concurrent-requests", 0, "bound on in-flight inference requests (0 = unlimited)")
	mustBindPFlag("max_concurrent_requests", f.Lookup("max-concurrent-requests"))
	f.Int("classify-concurrency", 0, "labels encoded in parallel per request (0 = GOMAXPROCS)")
	mustBindPFlag("classify_concurrency", f.Lookup("classify-concurrency"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ready := &atomic.Bool{}
	readyC := make(chan struct{})

	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	go func() {
		<-readyC
		ready.Store(true)
		logger.Info("cnclip is ready", zap.String("api_url", cfg.ApiUrl))
	}()

	return cnclip.RunAsNode(ctx, logger, cfg, readyC)
}
