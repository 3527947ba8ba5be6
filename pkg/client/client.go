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

// Package client is a Go client for the cnclip HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/deadash/cnclip"
)

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Message)
}

// Client talks to a cnclip node.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new client.
// The baseURL should be the server address (e.g., "http://localhost:11435").
// The /api prefix is automatically appended.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api",
	}
}

// do sends a request and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, path, contentType, accept string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, path string, req, resp any) error {
	body, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	data, err := c.do(ctx, path, "application/json", "application/json", body)
	if err != nil {
		return err
	}
	if err := decoder.NewStreamDecoder(bytes.NewReader(data)).Decode(resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// EmbedText embeds texts. Vectors are transferred in binary form.
func (c *Client) EmbedText(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body, err := sonic.Marshal(cnclip.EmbedTextRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	data, err := c.do(ctx, "/embed/text", "application/json", "application/octet-stream", body)
	if err != nil {
		return nil, err
	}
	vecs, err := cnclip.DeserializeFloatArrays(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deserializing embeddings: %w", err)
	}
	return vecs, nil
}

// EmbedImage embeds an encoded image.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	data, err := c.do(ctx, "/embed/image", http.DetectContentType(image), "application/json", image)
	if err != nil {
		return nil, err
	}
	var resp cnclip.EmbedResponse
	if err := decoder.NewStreamDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.Embedding, nil
}

// Classify scores an encoded image against labels.
func (c *Client) Classify(ctx context.Context, image []byte, labels []string) (*cnclip.ClassifyResponse, error) {
	req := cnclip.ClassifyRequest{
		Image:  base64.StdEncoding.EncodeToString(image),
		Labels: labels,
	}
	var resp cnclip.ClassifyResponse
	if err := c.postJSON(ctx, "/classify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClassifyURL scores the image at url against labels. The node downloads it.
func (c *Client) ClassifyURL(ctx context.Context, url string, labels []string) (*cnclip.ClassifyResponse, error) {
	var resp cnclip.ClassifyResponse
	if err := c.postJSON(ctx, "/classify", cnclip.ClassifyRequest{ImageURL: url, Labels: labels}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
