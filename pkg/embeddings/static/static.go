// Package static provides a deterministic embedder with no external
// dependencies, for tests and offline development. Vectors are derived
// from a hash of the input text, so identical text always embeds to the
// identical vector.
package static

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/papercomputeco/substrate/pkg/embeddings"
)

// DefaultDimensions is the vector width when none is configured.
const DefaultDimensions = 64

// Embedder produces hash-derived unit vectors.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a static embedder producing vectors of the given
// width. A width of 0 uses DefaultDimensions.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed derives a unit vector from the text. Each component comes from
// hashing the text with the component index, so the mapping is stable
// across processes.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	var norm float64
	for i := range vec {
		h := sha256.New()
		h.Write([]byte(text))
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])
		sum := h.Sum(nil)

		// map 8 hash bytes onto [-1, 1)
		bits := binary.LittleEndian.Uint64(sum[:8])
		v := float64(bits)/float64(math.MaxUint64)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}

	return vec, nil
}

// ModelVersion returns the static model identifier.
func (e *Embedder) ModelVersion() string {
	return "static/sha256-v1"
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
