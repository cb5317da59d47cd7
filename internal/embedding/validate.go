package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var ErrEmptyEmbedding = errors.New("empty embedding received")

// Validating checks every vector returned by the wrapped embedder against
// the declared dimension.
type Validating struct {
	next      Embedder
	provider  string
	dimension int
}

func NewValidating(next Embedder, provider string, dimension int) *Validating {
	return &Validating{next: next, provider: provider, dimension: dimension}
}

func (v *Validating) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := v.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := CheckVector(vec, v.dimension); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Provider: v.provider, Err: err}
	}
	return vec, nil
}

func (v *Validating) Close() error {
	if c, ok := v.next.(Closer); ok {
		return c.Close()
	}
	return nil
}

// CheckVector verifies the vector shape: exactly dimension finite values.
func CheckVector(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return ErrEmptyEmbedding
	}
	if len(vec) != dimension {
		return fmt.Errorf("dimension mismatch: got %d, want %d", len(vec), dimension)
	}
	for i, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("non-finite value at position %d", i)
		}
	}
	return nil
}
