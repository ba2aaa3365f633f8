// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"

	"github.com/papercomputeco/substrate/pkg/embeddings"
	"github.com/papercomputeco/substrate/pkg/embeddings/ollama"
	"github.com/papercomputeco/substrate/pkg/embeddings/openai"
	"github.com/papercomputeco/substrate/pkg/embeddings/static"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
	Dimensions   int
}

func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		})
	case "openai":
		return openai.NewEmbedder(openai.EmbedderConfig{
			APIKey:  o.APIKey,
			Model:   o.Model,
			BaseURL: o.TargetURL,
		})
	case "static":
		return static.NewEmbedder(o.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
