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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic/decoder"
)

// OpenAI-compatible API at /openai/v1/*
//
// Lets standard OpenAI SDKs request text embeddings:
//
//   - POST /openai/v1/embeddings - text embeddings
//   - GET  /openai/v1/models     - list the served model

// OpenAIModelName is the model id reported to OpenAI clients.
const OpenAIModelName = "chinese-clip"

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

// openAIEmbeddingRequest accepts a string or an array of strings as input.
type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type openAIEmbedding struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type openAIEmbeddingList struct {
	Object string            `json:"object"`
	Data   []openAIEmbedding `json:"data"`
	Model  string            `json:"model"`
}

// RegisterOpenAIRoutes adds OpenAI-compatible endpoints to the given mux.
func (n *Node) RegisterOpenAIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /openai/v1/embeddings", instrument("openai_embeddings", n.handleOpenAIEmbeddings))
	mux.HandleFunc("GET /openai/v1/models", n.handleOpenAIModels)
}

// openAIInputs flattens the input field into a list of texts.
func openAIInputs(input any) ([]string, error) {
	switch v := input.(type) {
	case string:
		if v == "" {
			return nil, errors.New("input is required")
		}
		return []string{v}, nil
	case []any:
		if len(v) == 0 {
			return nil, errors.New("input is required")
		}
		texts := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input %d: token arrays are not supported", i)
			}
			texts[i] = s
		}
		return texts, nil
	default:
		return nil, errors.New("input must be a string or an array of strings")
	}
}

// handleOpenAIEmbeddings serves text embeddings in the OpenAI format.
func (n *Node) handleOpenAIEmbeddings(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req openAIEmbeddingRequest
	if err := decoder.NewStreamDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	texts, err := openAIInputs(req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	release, err := n.acquire(r.Context())
	if err != nil {
		n.writeError(w, "waiting for inference slot", err)
		return
	}
	defer release()

	RecordEmbeddingRequest("text")
	resp := openAIEmbeddingList{
		Object: "list",
		Data:   make([]openAIEmbedding, len(texts)),
		Model:  OpenAIModelName,
	}
	for i, text := range texts {
		vec, err := n.text.Extract(r.Context(), text)
		if err != nil {
			n.writeError(w, fmt.Sprintf("extracting text features for input %d", i), err)
			return
		}
		resp.Data[i] = openAIEmbedding{Object: "embedding", Embedding: vec, Index: i}
	}
	n.writeJSON(w, resp)
}

// handleOpenAIModels returns the served model in OpenAI-compatible format.
func (n *Node) handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	n.writeJSON(w, openAIModelList{
		Object: "list",
		Data: []openAIModel{{
			ID:      OpenAIModelName,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "cnclip",
		}},
	})
}
