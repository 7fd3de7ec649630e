package embedding

import (
	"errors"
	"math"
)

var (
	// ErrZeroVector is returned when a raw feature vector cannot be normalized.
	ErrZeroVector = errors.New("embedding: zero or non-finite vector")
	// ErrNotImage is returned when input bytes are not a supported image.
	ErrNotImage = errors.New("embedding: input is not a supported image")
)

// Normalize divides v by its Euclidean norm and returns the result as float32.
// The norm is accumulated in float64 so 512-d CLIP features stay within 1e-6 of unit length.
func Normalize(v []float64) ([]float32, error) {
	norm := 0.0
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, ErrZeroVector
		}
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out, nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
