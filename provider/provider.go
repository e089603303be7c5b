package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/docqa/config"
	"github.com/mohammad-safakhou/docqa/models"
	local_provider "github.com/mohammad-safakhou/docqa/provider/local"
	openai_provider "github.com/mohammad-safakhou/docqa/provider/openai"
)

// Embedder maps text spans to fixed-dimension vectors. The same model
// (by ModelID) must be used for indexing and querying; the vector index
// records the id so a mismatch is detected instead of silently
// producing meaningless scores.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// Generator answers a question given retrieved context spans, joined
// into the prompt in retrieval order.
type Generator interface {
	Answer(ctx context.Context, question string, contexts []string) (models.Answer, error)
}

// Provider bundles the embedding and generation capabilities that the
// retrieval pipeline needs from one backend.
type Provider interface {
	Embedder
	Generator
}

// NewProvider creates an LLM provider based on the configuration.
func NewProvider(cfg config.ProvidersConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return openai_provider.NewClient(cfg.OpenAI), nil
	case "local":
		return local_provider.New(), nil
	default:
		return nil, errors.New("unsupported provider type: " + cfg.Type)
	}
}
