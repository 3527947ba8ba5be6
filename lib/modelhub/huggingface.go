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

// Package modelhub downloads Chinese-CLIP encoder and tokenizer files from
// the HuggingFace Hub.
package modelhub

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"go.uber.org/zap"
)

// ProgressHandler is called to report download progress
type ProgressHandler func(downloaded, total int64, filename string)

// Client pulls ONNX encoders from HuggingFace Hub
type Client struct {
	token           string
	progressHandler ProgressHandler
	logger          *zap.Logger
}

// Option configures the client
type Option func(*Client)

// NewClient creates a new HuggingFace client
func NewClient(opts ...Option) *Client {
	c := &Client{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken sets the HuggingFace API token for gated repositories
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithProgressHandler sets the progress handler for downloads
func WithProgressHandler(h ProgressHandler) Option {
	return func(c *Client) { c.progressHandler = h }
}

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Selector narrows which encoders of a repository are downloaded.
type Selector struct {
	// Model is a substring of the encoder file name, e.g. "vit-l-14".
	Model string
	// Precision is the dotted precision tag, e.g. "fp32" or "fp16".
	Precision string
}

// tokenizerFiles are fetched from anywhere in the repository.
var tokenizerFiles = []string{
	"tokenizer.json",
	"tokenizer.model",
	"vocab.txt",
	"tokenizer_config.json",
	"special_tokens_map.json",
}

func (c *Client) repo(repoID string) *hub.Repo {
	repo := hub.New(repoID)
	if c.token != "" {
		repo = repo.WithAuth(c.token)
	}
	return repo
}

// ListFiles lists every file in a repository.
func (c *Client) ListFiles(ctx context.Context, repoID string) ([]string, error) {
	var files []string
	for fileName, err := range c.repo(repoID).IterFileNames() {
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files = append(files, fileName)
	}
	return files, nil
}

// Pull downloads the tokenizer and the encoders matched by sel into
// destDir, flattening repository paths. It returns the local paths.
func (c *Client) Pull(ctx context.Context, repoID string, sel Selector, destDir string) ([]string, error) {
	files, err := c.ListFiles(ctx, repoID)
	if err != nil {
		return nil, err
	}

	toDownload := SelectFiles(files, sel)
	if !slices.ContainsFunc(toDownload, isONNX) {
		return nil, fmt.Errorf("no encoder files matching %+v found in %s", sel, repoID)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	repo := c.repo(repoID)
	paths := make([]string, 0, len(toDownload))
	for _, fileName := range toDownload {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		destName := filepath.Base(fileName)
		if c.progressHandler != nil {
			c.progressHandler(0, 0, destName)
		}

		localPath, err := repo.DownloadFile(fileName)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", fileName, err)
		}

		destPath := filepath.Join(destDir, destName)
		if err := copyFile(localPath, destPath); err != nil {
			return nil, fmt.Errorf("copying %s: %w", fileName, err)
		}

		if info, err := os.Stat(destPath); err == nil {
			c.logger.Debug("Downloaded file",
				zap.String("file", destName),
				zap.Int64("bytes", info.Size()))
			if c.progressHandler != nil {
				c.progressHandler(info.Size(), info.Size(), destName)
			}
		}
		paths = append(paths, destPath)
	}
	return paths, nil
}

func isONNX(name string) bool {
	return strings.HasSuffix(name, ".onnx")
}

func isTokenizer(name string) bool {
	base := filepath.Base(name)
	return slices.Contains(tokenizerFiles, base) || strings.HasSuffix(base, "_tokenizer.json")
}

// SelectFiles returns the tokenizer files and the ONNX encoders (with any
// external weight files) that match sel, in repository order.
func SelectFiles(files []string, sel Selector) []string {
	var result []string
	for _, f := range files {
		base := filepath.Base(f)
		if isTokenizer(base) {
			result = append(result, f)
			continue
		}
		stem, ok := strings.CutSuffix(base, ".onnx")
		if !ok {
			stem, ok = strings.CutSuffix(base, ".onnx_data")
		}
		if !ok {
			stem, ok = strings.CutSuffix(base, ".onnx.data")
		}
		if !ok {
			continue
		}
		if sel.Model != "" && !strings.Contains(stem, sel.Model) {
			continue
		}
		if sel.Precision != "" && !strings.HasSuffix(stem, "."+sel.Precision) && !strings.HasSuffix(stem, "_"+sel.Precision) {
			continue
		}
		result = append(result, f)
	}
	return result
}

// Encoders picks the image encoder, text encoder and tokenizer out of a
// list of pulled files. Image encoders carry ".img." in their name, text
// encoders ".txt.". Missing entries are returned empty.
func Encoders(paths []string) (image, text, tokenizer string) {
	for _, p := range paths {
		base := filepath.Base(p)
		switch {
		case isONNX(base) && strings.Contains(base, ".img."):
			image = p
		case isONNX(base) && strings.Contains(base, ".txt."):
			text = p
		case isTokenizer(base) && strings.HasSuffix(base, ".json") && !strings.HasSuffix(base, "_config.json") && base != "special_tokens_map.json":
			tokenizer = p
		case tokenizer == "" && (base == "tokenizer.model" || base == "vocab.txt"):
			tokenizer = p
		}
	}
	return image, text, tokenizer
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("copying: %w", err)
	}

	return dstFile.Close()
}
