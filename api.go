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

package cnclip

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antflydb/antfly-go/libaf/s3"
	"github.com/antflydb/antfly-go/libaf/scraping"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"github.com/deadash/cnclip/lib/embeddings"
	"github.com/deadash/cnclip/lib/similarity"
	"github.com/deadash/cnclip/lib/zsc"
	"go.uber.org/zap"
)

// MaxImageBytes bounds request bodies carrying images.
const MaxImageBytes = 32 << 20

// MaxJSONBytes bounds JSON request bodies that carry no image.
const MaxJSONBytes = 8 << 20

// EmbedTextRequest is the body of POST /api/embed/text. Either Text or
// Texts must be set.
type EmbedTextRequest struct {
	Text  string   `json:"text,omitempty"`
	Texts []string `json:"texts,omitempty"`
}

// EmbedResponse carries one vector, or several for batched text.
type EmbedResponse struct {
	Embedding  []float32   `json:"embedding,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

// ClassifyRequest is the body of POST /api/classify. The image is given
// either base64 encoded or as a data:, http(s)://, file:// or s3:// URL.
type ClassifyRequest struct {
	Image    string   `json:"image,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Labels   []string `json:"labels"`
}

// ClassifyResponse lists one score per label, in request order.
type ClassifyResponse struct {
	Scores []similarity.Score `json:"scores"`
	Best   string             `json:"best"`
}

// SimilarityRequest is the body of POST /api/similarity. Give either a
// single TextEmbedding or several TextEmbeddings.
type SimilarityRequest struct {
	ImageEmbedding []float32   `json:"image_embedding"`
	TextEmbedding  []float32   `json:"text_embedding,omitempty"`
	TextEmbeddings [][]float32 `json:"text_embeddings,omitempty"`
}

// SimilarityResponse holds the scaled similarity for a single text, or
// logits and softmax probabilities for several.
type SimilarityResponse struct {
	Similarity    *float32  `json:"similarity,omitempty"`
	Logits        []float32 `json:"logits,omitempty"`
	Probabilities []float32 `json:"probabilities,omitempty"`
}

// statusForError maps extraction failures onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, embeddings.ErrDecode),
		errors.Is(err, embeddings.ErrShape),
		errors.Is(err, embeddings.ErrTokenize),
		errors.Is(err, embeddings.ErrDimensionMismatch),
		errors.Is(err, zsc.ErrNoLabels):
		return http.StatusBadRequest
	case errors.Is(err, embeddings.ErrNormalization):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (n *Node) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		n.logger.Error(msg, zap.Error(err))
	} else {
		n.logger.Debug(msg, zap.Error(err))
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

func (n *Node) writeJSON(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		n.logger.Error("encoding JSON response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeEmbeddings responds with JSON, or with the binary vector encoding
// when the client asks for application/octet-stream.
func (n *Node) writeEmbeddings(w http.ResponseWriter, r *http.Request, vecs [][]float32, batch bool) {
	if r.Header.Get("Accept") == "application/octet-stream" {
		w.Header().Set("Content-Type", "application/octet-stream")
		if err := SerializeFloatArrays(w, vecs); err != nil {
			n.logger.Error("serializing embeddings", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	if batch {
		n.writeJSON(w, EmbedResponse{Embeddings: vecs})
		return
	}
	n.writeJSON(w, EmbedResponse{Embedding: vecs[0]})
}

// acquire reserves an inference slot. The returned func releases it.
func (n *Node) acquire(ctx context.Context) (func(), error) {
	if n.sem != nil {
		if err := n.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	activeRequests.Inc()
	return func() {
		activeRequests.Dec()
		if n.sem != nil {
			n.sem.Release(1)
		}
	}, nil
}

// handleEmbedImage embeds the raw image carried in the request body.
func (n *Node) handleEmbedImage(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImageBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("reading request: %v", err), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "image body is required", http.StatusBadRequest)
		return
	}

	release, err := n.acquire(r.Context())
	if err != nil {
		n.writeError(w, "waiting for inference slot", err)
		return
	}
	defer release()

	RecordEmbeddingRequest("image")
	vec, err := n.image.Extract(r.Context(), data)
	if err != nil {
		n.writeError(w, "extracting image features", err)
		return
	}
	n.writeEmbeddings(w, r, [][]float32{vec}, false)
}

// handleEmbedText embeds one text or a batch of texts.
func (n *Node) handleEmbedText(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req EmbedTextRequest
	if err := decoder.NewStreamDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	batch := len(req.Texts) > 0
	texts := req.Texts
	if !batch {
		if req.Text == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		texts = []string{req.Text}
	}

	release, err := n.acquire(r.Context())
	if err != nil {
		n.writeError(w, "waiting for inference slot", err)
		return
	}
	defer release()

	RecordEmbeddingRequest("text")
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := n.text.Extract(r.Context(), text)
		if err != nil {
			n.writeError(w, fmt.Sprintf("extracting text features for input %d", i), err)
			return
		}
		vecs[i] = vec
	}
	n.writeEmbeddings(w, r, vecs, batch)
}

// handleClassify scores an image against candidate labels.
func (n *Node) handleClassify(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req ClassifyRequest
	if err := decoder.NewStreamDecoder(http.MaxBytesReader(w, r.Body, MaxImageBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Labels) == 0 {
		n.writeError(w, "invalid request", zsc.ErrNoLabels)
		return
	}

	data, err := n.loadImage(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid image: %v", err), http.StatusBadRequest)
		return
	}

	release, err := n.acquire(r.Context())
	if err != nil {
		n.writeError(w, "waiting for inference slot", err)
		return
	}
	defer release()

	RecordClassifyRequest(len(req.Labels))
	scores, err := n.classifier.Classify(r.Context(), data, req.Labels)
	if err != nil {
		n.writeError(w, "classifying image", err)
		return
	}

	resp := ClassifyResponse{Scores: scores}
	if best := similarity.Best(scores); best >= 0 {
		resp.Best = scores[best].Label
	}
	n.writeJSON(w, resp)
}

// loadImage returns the image bytes named by a classify request.
func (n *Node) loadImage(ctx context.Context, req ClassifyRequest) ([]byte, error) {
	switch {
	case req.ImageURL != "":
		creds, err := n.downloadCredentials(req.ImageURL)
		if err != nil {
			return nil, err
		}
		_, data, err := scraping.DownloadContent(ctx, req.ImageURL, n.contentSecurity, creds)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", req.ImageURL, err)
		}
		return data, nil
	case req.Image != "":
		encoded := req.Image
		if strings.HasPrefix(encoded, "data:") {
			if _, after, ok := strings.Cut(encoded, ","); ok {
				encoded = after
			}
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding base64: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("image or image_url is required")
	}
}

// downloadCredentials checks image_url against the node's source policy.
// file:// needs configured allowed_paths. s3:// needs configured
// credentials and must name their endpoint. The returned credentials are a
// per-request copy because DownloadContent overwrites Endpoint.
func (n *Node) downloadCredentials(rawURL string) (*s3.Credentials, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing image_url: %w", err)
	}
	switch u.Scheme {
	case "file":
		if n.contentSecurity == nil || len(n.contentSecurity.AllowedPaths) == 0 {
			return nil, errors.New("file:// image_url requires content_security.allowed_paths")
		}
		return nil, nil
	case "s3":
		if n.s3Credentials == nil {
			return nil, errors.New("s3:// image_url requires configured s3_credentials")
		}
		if u.Host != n.s3Credentials.Endpoint {
			return nil, fmt.Errorf("s3 endpoint %q is not the configured endpoint", u.Host)
		}
		creds := *n.s3Credentials
		return &creds, nil
	default:
		return nil, nil
	}
}

// handleSimilarity scores precomputed embeddings without running a model.
func (n *Node) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req SimilarityRequest
	if err := decoder.NewStreamDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.ImageEmbedding) == 0 {
		http.Error(w, "image_embedding is required", http.StatusBadRequest)
		return
	}

	if len(req.TextEmbeddings) > 0 {
		candidates := make([]similarity.Candidate, len(req.TextEmbeddings))
		for i, v := range req.TextEmbeddings {
			candidates[i] = similarity.Candidate{Label: fmt.Sprintf("%d", i), Vector: v}
		}
		logits, err := similarity.Logits(req.ImageEmbedding, candidates)
		if err != nil {
			n.writeError(w, "scoring embeddings", err)
			return
		}
		n.writeJSON(w, SimilarityResponse{Logits: logits, Probabilities: similarity.Softmax(logits)})
		return
	}

	if len(req.TextEmbedding) == 0 {
		http.Error(w, "text_embedding or text_embeddings is required", http.StatusBadRequest)
		return
	}
	s, err := similarity.Similarity(req.ImageEmbedding, req.TextEmbedding)
	if err != nil {
		n.writeError(w, "scoring embeddings", err)
		return
	}
	n.writeJSON(w, SimilarityResponse{Similarity: &s})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records the duration and status of every request to endpoint.
func instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		RecordRequestDuration(endpoint, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}
