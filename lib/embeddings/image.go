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

package embeddings

import (
	"context"
	"fmt"
	"image"

	"github.com/deadash/cnclip/lib/backends"
	"github.com/deadash/cnclip/lib/pipelines"
	"go.uber.org/zap"
)

// ImageExtractor produces FeatureVectors from images with the image tower.
type ImageExtractor struct {
	enc  *encoder
	proc *pipelines.ImageProcessor
}

// NewImageExtractor opens the image tower at modelPath and prepares
// preprocessing for res. On error no session is left open.
func NewImageExtractor(sm *backends.SessionManager, modelPath string, res pipelines.Resolution, opts ...Option) (*ImageExtractor, error) {
	o := applyOptions(opts)

	proc, err := pipelines.NewImageProcessor(res)
	if err != nil {
		return nil, err
	}

	session, backend, err := openSession(sm, modelPath, o)
	if err != nil {
		return nil, err
	}

	e, err := newImageExtractor(session, backend, proc, o)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	o.logger.Info("Loaded image encoder",
		zap.String("model", modelPath),
		zap.String("backend", string(backend)),
		zap.Stringer("resolution", res))
	return e, nil
}

// NewImageExtractorWithSession builds an extractor around an already open
// session. The extractor takes ownership of session.
func NewImageExtractorWithSession(session backends.Session, res pipelines.Resolution, opts ...Option) (*ImageExtractor, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrEngine)
	}
	proc, err := pipelines.NewImageProcessor(res)
	if err != nil {
		return nil, err
	}
	return newImageExtractor(session, "", proc, applyOptions(opts))
}

func newImageExtractor(session backends.Session, backend backends.BackendType, proc *pipelines.ImageProcessor, o *options) (*ImageExtractor, error) {
	if err := checkInput(session, ImageInputName); err != nil {
		return nil, err
	}
	return &ImageExtractor{
		enc: &encoder{
			session:   session,
			backend:   backend,
			inputName: ImageInputName,
			logger:    o.logger,
		},
		proc: proc,
	}, nil
}

// Resolution returns the input size the image is resized to.
func (e *ImageExtractor) Resolution() pipelines.Resolution {
	return e.proc.Resolution()
}

// Backend returns the backend the session runs on. Empty for injected sessions.
func (e *ImageExtractor) Backend() backends.BackendType {
	return e.enc.backend
}

// Extract decodes encoded image bytes and returns their feature vector.
func (e *ImageExtractor) Extract(ctx context.Context, data []byte) (FeatureVector, error) {
	img, err := pipelines.Decode(data)
	if err != nil {
		return nil, err
	}
	return e.ExtractImage(ctx, img)
}

// ExtractFile reads the image at path and returns its feature vector.
func (e *ImageExtractor) ExtractFile(ctx context.Context, path string) (FeatureVector, error) {
	img, err := pipelines.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return e.ExtractImage(ctx, img)
}

// ExtractImage returns the feature vector of a decoded image.
func (e *ImageExtractor) ExtractImage(ctx context.Context, img image.Image) (FeatureVector, error) {
	tensor, err := e.proc.Process(img)
	if err != nil {
		return nil, err
	}
	return e.enc.run(ctx, tensor.Shape[:], tensor.Data)
}

// Close releases the inference session.
func (e *ImageExtractor) Close() error {
	return e.enc.close()
}
