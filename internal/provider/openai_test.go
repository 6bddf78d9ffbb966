package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// newTestOpenAIEmbedder points an embedder at a local test server.
func newTestOpenAIEmbedder(t *testing.T, handler http.HandlerFunc, dimensions int) *OpenAIEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return newOpenAIEmbedderWithClient(openai.NewClientWithConfig(cfg), "text-embedding-3-small", dimensions)
}

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

func embeddingsResponse(vectors [][]float32) map[string]any {
	data := make([]map[string]any, len(vectors))
	for i, v := range vectors {
		data[i] = map[string]any{"embedding": v, "index": i}
	}
	return map[string]any{
		"object": "list",
		"data":   data,
		"model":  "text-embedding-3-small",
	}
}

func TestOpenAIEmbed(t *testing.T) {
	e := newTestOpenAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello world" {
			t.Errorf("unexpected input: %v", req.Input)
		}
		json.NewEncoder(w).Encode(embeddingsResponse([][]float32{{0.1, 0.2, 0.3}}))
	}, 0)

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 dims, got %d", len(vec))
	}
}

func TestOpenAIEmbedEmptyText(t *testing.T) {
	e := newTestOpenAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty text")
	}, 0)

	if _, err := e.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestOpenAIEmbedBatchPreservesOrder(t *testing.T) {
	e := newTestOpenAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		json.NewDecoder(r.Body).Decode(&req)

		// Return embeddings in reverse order; Index must restore them.
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{
				"embedding": []float32{float32(j)},
				"index":     j,
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}, 0)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("position %d: got %f, want %d", i, v[0], i)
		}
	}
}

func TestOpenAIEmbedBatchPassesDimensions(t *testing.T) {
	e := newTestOpenAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Dimensions != 256 {
			t.Errorf("expected dimensions 256, got %d", req.Dimensions)
		}
		json.NewEncoder(w).Encode(embeddingsResponse([][]float32{{0.5}}))
	}, 256)

	if _, err := e.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenAIEmbedRateLimit(t *testing.T) {
	e := newTestOpenAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit_error"},
		})
	}, 0)

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	e := newTestOpenAIEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		// Two inputs, one embedding back.
		json.NewEncoder(w).Encode(embeddingsResponse([][]float32{{0.1}}))
	}, 0)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestOpenAIDefaultModel(t *testing.T) {
	e := NewOpenAIEmbedder("key", "", 0)
	if e.Model() != defaultEmbeddingModel {
		t.Errorf("expected %s, got %s", defaultEmbeddingModel, e.Model())
	}
}
