package histogram

import (
	"context"

	"imgvec/internal/embedding"
)

const binsPerChannel = 8

// Dimension is the length of every vector produced by Embedder.
const Dimension = binsPerChannel * binsPerChannel * binsPerChannel

// Embedder maps an image to its L2-normalized 8x8x8 RGB color histogram.
// It needs no model server.
type Embedder struct{}

// NewEmbedder creates a histogram embedder.
func NewEmbedder() *Embedder { return &Embedder{} }

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "histogram" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return Dimension }

// Embed decodes data and returns its normalized color histogram.
func (e *Embedder) Embed(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := embedding.DecodeRGB(data)
	if err != nil {
		return nil, err
	}
	hist := make([]float64, Dimension)
	pix := img.Pix
	for i := 0; i+2 < len(pix); i += 4 {
		r := int(pix[i]) * binsPerChannel / 256
		g := int(pix[i+1]) * binsPerChannel / 256
		b := int(pix[i+2]) * binsPerChannel / 256
		hist[(r*binsPerChannel+g)*binsPerChannel+b]++
	}
	return embedding.Normalize(hist)
}
