// Package embeddings
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelVersion identifies the model producing the vectors. Vectors
	// from different model versions are never compared to each other.
	ModelVersion() string

	// Close releases any resources held by the embedder.
	Close() error
}
