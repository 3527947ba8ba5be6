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

package pipelines

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"math"
	"os"

	_ "golang.org/x/image/bmp" // Register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Per-channel normalization constants in RGB order. The Chinese-CLIP image
// towers were trained on inputs normalized with these values.
var (
	CLIPMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	CLIPStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Resolution is the input size of an image tower.
type Resolution struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// DefaultResolution is the input size of the ViT-B/16 and ViT-L/14 towers.
var DefaultResolution = Resolution{Width: 224, Height: 224}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Validate reports non-positive dimensions.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: resolution %s must be positive", ErrShape, r)
	}
	return nil
}

// ImageTensor is a single preprocessed image in NCHW layout.
type ImageTensor struct {
	// Shape is always {1, 3, Height, Width}.
	Shape [4]int64
	// Data holds the R plane, then G, then B; each plane is row-major.
	Data []float32
}

// lanczos3 is the windowed sinc kernel sinc(x)*sinc(x/3), the filter the
// encoders were trained with.
var lanczos3 = &draw.Kernel{Support: 3, At: func(t float64) float64 {
	if t == 0 {
		return 1
	}
	if t >= 3 {
		return 0
	}
	pt := math.Pi * t
	return 3 * math.Sin(pt) * math.Sin(pt/3) / (pt * pt)
}}

// ImageProcessor turns decoded images into ImageTensors for one resolution.
// It holds no mutable state and is safe for concurrent use.
type ImageProcessor struct {
	res Resolution
}

// NewImageProcessor creates an ImageProcessor for the given resolution.
func NewImageProcessor(res Resolution) (*ImageProcessor, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &ImageProcessor{res: res}, nil
}

// Resolution returns the target resolution.
func (p *ImageProcessor) Resolution() Resolution {
	return p.res
}

// Decode decodes image bytes in any registered format.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w: %w", ErrDecode, err)
	}
	return img, nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w: %w", path, ErrDecode, err)
	}
	return Decode(data)
}

// ProcessBytes decodes and preprocesses an image.
func (p *ImageProcessor) ProcessBytes(data []byte) (*ImageTensor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Process(img)
}

// ProcessFile decodes and preprocesses the image at path.
func (p *ImageProcessor) ProcessFile(path string) (*ImageTensor, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return p.Process(img)
}

// Process resizes img to exactly the configured resolution with a Lanczos3
// filter, drops alpha, scales bytes to [0,1] and normalizes each channel
// with CLIPMean and CLIPStd.
func (p *ImageProcessor) Process(img image.Image) (*ImageTensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	rgb := p.resize(img)
	w, h := p.res.Width, p.res.Height
	plane := w * h

	pixels := make([]float32, 3*plane)
	for y := range h {
		for x := range w {
			i := rgb.PixOffset(x, y)
			o := y*w + x
			for c := range 3 {
				v := float32(rgb.Pix[i+c]) / 255
				pixels[c*plane+o] = (v - CLIPMean[c]) / CLIPStd[c]
			}
		}
	}

	return &ImageTensor{
		Shape: [4]int64{1, 3, int64(h), int64(w)},
		Data:  pixels,
	}, nil
}

// resize scales img into a non-premultiplied RGBA raster of the target size.
// Same-size inputs are only converted.
func (p *ImageProcessor) resize(img image.Image) *image.NRGBA {
	img = opaque(img)
	dst := image.NewNRGBA(image.Rect(0, 0, p.res.Width, p.res.Height))
	src := img.Bounds()
	if src.Dx() == p.res.Width && src.Dy() == p.res.Height {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	lanczos3.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// opaque returns img with every alpha forced to 255 and the color channels
// kept as stored. Scaling premultiplies, so transparent pixels would
// otherwise turn black.
func opaque(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := range b.Dy() {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(out.Pix[y*out.Stride:], row[:4*b.Dx()])
		}
	} else {
		for y := range b.Dy() {
			for x := range b.Dx() {
				out.SetNRGBA(x, y, color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA))
			}
		}
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out
}
