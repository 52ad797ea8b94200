package similarity

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// EmbeddingClient is the part of adapter.Gemini used for remote embeddings
type EmbeddingClient interface {
	Embedding(ctx context.Context, text string, dimensions int) ([]float32, error)
}

// GeminiEmbedder requests embeddings from the Gemini embedding model
type GeminiEmbedder struct {
	client    EmbeddingClient
	dimension int
}

// NewGeminiEmbedder creates an Embedder backed by client
func NewGeminiEmbedder(client EmbeddingClient, dimension int) *GeminiEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &GeminiEmbedder{client: client, dimension: dimension}
}

func (g *GeminiEmbedder) Dimension() int {
	return g.dimension
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	// the embedding API rejects empty content
	if strings.TrimSpace(text) == "" {
		return make([]float32, g.dimension), nil
	}

	vec, err := g.client.Embedding(ctx, text, g.dimension)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding")
	}
	if len(vec) != g.dimension {
		return nil, goerr.New("unexpected embedding dimension",
			goerr.V("expected", g.dimension),
			goerr.V("actual", len(vec)))
	}
	return vec, nil
}
