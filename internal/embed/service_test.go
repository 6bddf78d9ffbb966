package embed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ghlabs/embedsrv/internal/provider"
)

// fakeEmbedder returns deterministic vectors derived from input length.
type fakeEmbedder struct {
	dims  int
	calls int
	texts []string
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		for j := range vec {
			vec[j] = float32(len(text)+j) * 0.001
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed-v1" }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"crlf", "line1\r\nline2", "line1\nline2"},
		{"bare cr", "line1\rline2", "line1\nline2"},
		{"outer whitespace", "  text \n", "text"},
		{"whitespace only", " \r\n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestComposeText(t *testing.T) {
	t.Run("title and body", func(t *testing.T) {
		got := ComposeText("title", "body", 100)
		if got != "title\n\nbody" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("title only", func(t *testing.T) {
		if got := ComposeText("title", "", 100); got != "title" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("truncates body, keeps title", func(t *testing.T) {
		got := ComposeText("title", strings.Repeat("b", 100), 20)
		if len(got) != 20 {
			t.Errorf("expected length 20, got %d", len(got))
		}
		if !strings.HasPrefix(got, "title\n\n") {
			t.Errorf("expected title prefix, got %q", got)
		}
	})

	t.Run("oversized title truncated", func(t *testing.T) {
		got := ComposeText(strings.Repeat("t", 50), "body", 20)
		if len(got) != 20 {
			t.Errorf("expected length 20, got %d", len(got))
		}
	})
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash("title", "body")
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}

	// Deterministic for equal input.
	if h2 := ContentHash("title", "body"); h2 != h1 {
		t.Error("hash not deterministic for equal input")
	}

	// Title change invalidates.
	if ContentHash("other", "body") == h1 {
		t.Error("title change did not change hash")
	}

	// Body change invalidates.
	if ContentHash("title", "other") == h1 {
		t.Error("body change did not change hash")
	}

	// Cosmetic line-ending change does not invalidate.
	if ContentHash("title", "a\r\nb") != ContentHash("title", "a\nb") {
		t.Error("CRLF normalization should make hashes equal")
	}

	// Field boundary matters: ("ab", "c") != ("a", "bc").
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Error("title/body boundary not preserved in hash")
	}
}

func TestEmbedTextEmptyInput(t *testing.T) {
	svc := NewService(&fakeEmbedder{dims: 4})

	for _, tc := range []struct{ title, body string }{
		{"", ""},
		{"   ", "\r\n"},
	} {
		_, err := svc.EmbedText(context.Background(), tc.title, tc.body)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("EmbedText(%q, %q): expected ErrEmptyInput, got %v", tc.title, tc.body, err)
		}
	}
}

func TestEmbedTextTitleOnly(t *testing.T) {
	fake := &fakeEmbedder{dims: 4}
	svc := NewService(fake)

	vec, err := svc.EmbedText(context.Background(), "crash on startup", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("expected 4 dims, got %d", len(vec))
	}
}

func TestEmbedTextDeterministic(t *testing.T) {
	fake := &fakeEmbedder{dims: 8}
	svc := NewService(fake)

	v1, err := svc.EmbedText(context.Background(), "title", "body")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := svc.EmbedText(context.Background(), "title", "body")
	if err != nil {
		t.Fatal(err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("vectors differ at %d: %f vs %f", i, v1[i], v2[i])
		}
	}
}

func TestDimensionsFixedByFirstVector(t *testing.T) {
	svc := NewService(&fakeEmbedder{dims: 6})
	if svc.Dimensions() != 0 {
		t.Fatalf("expected unset dimensions, got %d", svc.Dimensions())
	}

	if _, err := svc.EmbedText(context.Background(), "t", "b"); err != nil {
		t.Fatal(err)
	}
	if svc.Dimensions() != 6 {
		t.Errorf("expected dimensions pinned to 6, got %d", svc.Dimensions())
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	svc := NewService(&fakeEmbedder{dims: 4}, WithDimensions(8))

	_, err := svc.EmbedText(context.Background(), "t", "b")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbedBatchPerItemErrors(t *testing.T) {
	fake := &fakeEmbedder{dims: 4}
	svc := NewService(fake)

	titles := []string{"first", "", "third"}
	bodies := []string{"body", "", "body"}

	vectors, itemErrs, err := svc.EmbedBatch(context.Background(), titles, bodies)
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}

	if vectors[0] == nil || vectors[2] == nil {
		t.Error("valid inputs should have vectors")
	}
	if vectors[1] != nil {
		t.Error("empty input should have no vector")
	}
	if !errors.Is(itemErrs[1], ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput at index 1, got %v", itemErrs[1])
	}
	if itemErrs[0] != nil || itemErrs[2] != nil {
		t.Error("valid inputs should have nil errors")
	}

	// Only the valid inputs reached the provider.
	if len(fake.texts) != 2 {
		t.Errorf("expected 2 texts sent to provider, got %d", len(fake.texts))
	}
}

func TestEmbedBatchAllEmpty(t *testing.T) {
	fake := &fakeEmbedder{dims: 4}
	svc := NewService(fake)

	vectors, itemErrs, err := svc.EmbedBatch(context.Background(), []string{""}, []string{""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors[0] != nil {
		t.Error("expected no vector")
	}
	if !errors.Is(itemErrs[0], ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", itemErrs[0])
	}
	if fake.calls != 0 {
		t.Errorf("provider should not be called for all-empty batch, got %d calls", fake.calls)
	}
}

func TestEmbedBatchMismatchedLengths(t *testing.T) {
	svc := NewService(&fakeEmbedder{dims: 4})
	_, _, err := svc.EmbedBatch(context.Background(), []string{"a", "b"}, []string{"x"})
	if err == nil {
		t.Fatal("expected error for mismatched batch lengths")
	}
}

func TestEmbedBatchProviderError(t *testing.T) {
	svc := NewService(&fakeEmbedder{dims: 4, err: provider.ErrRateLimit})
	_, _, err := svc.EmbedBatch(context.Background(), []string{"a"}, []string{"b"})
	if !errors.Is(err, provider.ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

func TestMaxCharsApplied(t *testing.T) {
	fake := &fakeEmbedder{dims: 4}
	svc := NewService(fake, WithMaxChars(10))

	if _, err := svc.EmbedText(context.Background(), "title", strings.Repeat("x", 100)); err != nil {
		t.Fatal(err)
	}
	if got := fake.texts[0]; len(got) > 10 {
		t.Errorf("expected composed text capped at 10 chars, got %d", len(got))
	}
}
