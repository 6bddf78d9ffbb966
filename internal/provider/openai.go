package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"

	// maxBatchSize is the largest number of inputs sent in a single
	// embeddings request.
	maxBatchSize = 256
)

// OpenAIEmbedder implements the BatchEmbedder interface using the OpenAI
// embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates a new OpenAIEmbedder.
// If model is empty, it defaults to text-embedding-3-small. If dimensions is
// non-zero, the API is asked to truncate vectors to that many dimensions
// (supported by the text-embedding-3 family).
func NewOpenAIEmbedder(apiKey, model string, dimensions int) *OpenAIEmbedder {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return newOpenAIEmbedderWithClient(openai.NewClient(apiKey), model, dimensions)
}

// newOpenAIEmbedderWithClient allows injecting a pre-configured client for testing.
func newOpenAIEmbedderWithClient(client *openai.Client, model string, dimensions int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}
}

// Model returns the embedding model identifier.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed returns a vector embedding for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ErrInvalidResponse)
	}
	return vecs[0], nil
}

// EmbedBatch returns vector embeddings for multiple texts, chunking requests
// to stay under the API's input limit.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		req := openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		}
		if e.dimensions > 0 {
			req.Dimensions = e.dimensions
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				if apiErr.HTTPStatusCode == 429 {
					return nil, fmt.Errorf("%w: %s", ErrRateLimit, err)
				}
				if apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode == 504 {
					return nil, fmt.Errorf("%w: %s", ErrTimeout, err)
				}
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("openai embeddings (batch %d-%d): %w", start, end, err)
		}

		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrInvalidResponse, len(resp.Data), len(batch))
		}

		for _, emb := range resp.Data {
			if emb.Index < 0 || emb.Index >= len(batch) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", ErrInvalidResponse, emb.Index)
			}
			vectors[start+emb.Index] = emb.Embedding
		}
	}

	return vectors, nil
}

// Verify OpenAIEmbedder implements BatchEmbedder.
var _ BatchEmbedder = (*OpenAIEmbedder)(nil)
