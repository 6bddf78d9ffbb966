package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ghlabs/embedsrv/internal/provider"
)

// Sentinel errors for embedding operations.
var (
	// ErrEmptyInput is returned when both title and body are empty after
	// normalization. Callers get an explicit error rather than a zero vector.
	ErrEmptyInput = errors.New("empty issue text")

	// ErrDimensionMismatch is returned when the provider produces a vector
	// whose dimensionality differs from the pinned model version's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

const defaultMaxChars = 8000

// Service turns issue text into fixed-dimension vector embeddings.
// For a pinned model version the mapping is deterministic: equal normalized
// inputs produce equal vectors. Safe for concurrent use.
type Service struct {
	embedder provider.BatchEmbedder
	maxChars int

	mu         sync.Mutex
	dimensions int
}

// Option configures a Service.
type Option func(*Service)

// WithDimensions pins the expected vector dimensionality. When set, vectors
// of any other length are rejected with ErrDimensionMismatch. When zero, the
// first embedded vector fixes the dimensionality for the Service's lifetime.
func WithDimensions(n int) Option {
	return func(s *Service) { s.dimensions = n }
}

// WithMaxChars caps the number of characters of composed text sent to the
// provider.
func WithMaxChars(n int) Option {
	return func(s *Service) { s.maxChars = n }
}

// NewService creates a Service backed by the given embedder.
func NewService(embedder provider.BatchEmbedder, opts ...Option) *Service {
	s := &Service{
		embedder: embedder,
		maxChars: defaultMaxChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the identifier of the underlying embedding model.
func (s *Service) Model() string {
	return s.embedder.Model()
}

// Dimensions returns the pinned vector dimensionality, or 0 if not yet fixed.
func (s *Service) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensions
}

// Normalize canonicalizes raw issue text: line endings become LF and outer
// whitespace is trimmed. Normalization happens before hashing and embedding
// so that cosmetic edits don't invalidate stored vectors.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// ComposeText builds the text to embed from a normalized title and body,
// truncated to maxChars while preserving as much of the title as fits.
func ComposeText(title, body string, maxChars int) string {
	if body == "" {
		if len(title) > maxChars {
			return title[:maxChars]
		}
		return title
	}

	text := title + "\n\n" + body
	if len(text) > maxChars {
		// Keep title + separator, truncate body to fit within maxChars
		prefix := title + "\n\n"
		remaining := maxChars - len(prefix)
		if remaining <= 0 {
			// Title alone exceeds maxChars
			return title[:maxChars]
		}
		return prefix + body[:remaining]
	}
	return text
}

// ContentHash returns the hex-encoded SHA-256 hash over the normalized title
// and body. A change to either field changes the hash, which invalidates any
// embedding computed from the previous content.
func ContentHash(title, body string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(title)))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// EmbedText embeds a single (title, body) pair. Empty input (both fields
// blank after normalization) yields ErrEmptyInput.
func (s *Service) EmbedText(ctx context.Context, title, body string) ([]float32, error) {
	text, err := s.prepare(title, body)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if err := s.checkDimensions(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds multiple (title, body) pairs in one provider call.
// It returns one vector per input; an input that fails preparation poisons
// only its own slot via the returned per-item errors.
func (s *Service) EmbedBatch(ctx context.Context, titles, bodies []string) ([][]float32, []error, error) {
	if len(titles) != len(bodies) {
		return nil, nil, fmt.Errorf("mismatched batch: %d titles, %d bodies", len(titles), len(bodies))
	}

	itemErrs := make([]error, len(titles))
	texts := make([]string, 0, len(titles))
	indices := make([]int, 0, len(titles))

	for i := range titles {
		text, err := s.prepare(titles[i], bodies[i])
		if err != nil {
			itemErrs[i] = err
			continue
		}
		texts = append(texts, text)
		indices = append(indices, i)
	}

	vectors := make([][]float32, len(titles))
	if len(texts) == 0 {
		return vectors, itemErrs, nil
	}

	embedded, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("batch embedding: %w", err)
	}
	if len(embedded) != len(texts) {
		return nil, nil, fmt.Errorf("%w: got %d vectors for %d inputs", provider.ErrInvalidResponse, len(embedded), len(texts))
	}

	for j, vec := range embedded {
		if err := s.checkDimensions(vec); err != nil {
			itemErrs[indices[j]] = err
			continue
		}
		vectors[indices[j]] = vec
	}

	return vectors, itemErrs, nil
}

// prepare normalizes and composes issue text, rejecting empty input.
func (s *Service) prepare(title, body string) (string, error) {
	title = Normalize(title)
	body = Normalize(body)

	if title == "" && body == "" {
		return "", ErrEmptyInput
	}

	return ComposeText(title, body, s.maxChars), nil
}

// checkDimensions enforces constant dimensionality across all vectors
// produced by this Service. The first vector fixes the dimension when no
// explicit dimension was configured.
func (s *Service) checkDimensions(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", provider.ErrInvalidResponse)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimensions == 0 {
		s.dimensions = len(vec)
		return nil
	}
	if len(vec) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dimensions)
	}
	return nil
}
