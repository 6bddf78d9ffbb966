package provider

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the identifier of the embedding model in use.
	Model() string
}

// BatchEmbedder extends Embedder with batch embedding support.
// Providers that support native batch embedding (e.g., OpenAI) should implement this
// for better throughput. Other providers can use EmbedBatchSequential as a fallback.
type BatchEmbedder interface {
	Embedder
	// EmbedBatch returns vector embeddings for multiple texts in a single call.
	// The result has the same length and order as the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedBatchSequential implements batch embedding by calling Embed sequentially.
// Use this as a fallback for providers that don't support native batch embedding.
func EmbedBatchSequential(ctx context.Context, embedder Embedder, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Config holds configuration for creating an Embedder.
type Config struct {
	Type       string
	Model      string
	APIKey     string
	URL        string
	Dimensions int
}

// New creates a BatchEmbedder from configuration. The default provider type
// is openai.
func New(cfg Config) (BatchEmbedder, error) {
	switch cfg.Type {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, errors.New("openai provider requires an api key")
		}
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}
