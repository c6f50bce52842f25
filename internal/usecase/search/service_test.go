package search

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
)

// --- Mocks ---

type mockRepo struct {
	hits   []image.Hit
	err    error
	vector []float32
	k      int
	tags   []string
	calls  int
}

func (m *mockRepo) Search(_ context.Context, vector []float32, k int, tags []string) ([]image.Hit, error) {
	m.calls++
	m.vector, m.k, m.tags = vector, k, tags
	return m.hits, m.err
}

type mockEmbedder struct {
	text   string
	result domain.EmbeddingResult
	err    error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.text = text
	return m.result, m.err
}

func okEmbedder() *mockEmbedder {
	return &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}}
}

// --- Tests ---

func TestSearch_Success(t *testing.T) {
	repo := &mockRepo{hits: []image.Hit{
		{ID: "1", Score: 0.9, ImageURL: "a"},
		{ID: "2", Score: 0.5, ImageURL: "b"},
	}}
	emb := okEmbedder()

	hits, err := New(repo, emb).Search(context.Background(), Request{
		Query: "  red barn ",
		Limit: 5,
		Tags:  []string{"barn", " ", ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if emb.text != "red barn" {
		t.Errorf("embedded text = %q", emb.text)
	}
	if repo.k != 5 {
		t.Errorf("k = %d, want 5", repo.k)
	}
	if len(repo.tags) != 1 || repo.tags[0] != "barn" {
		t.Errorf("tags = %v, want [barn]", repo.tags)
	}
	if len(repo.vector) != 2 {
		t.Errorf("vector not forwarded: %v", repo.vector)
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	repo := &mockRepo{}
	if _, err := New(repo, okEmbedder()).Search(context.Background(), Request{Query: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.k != DefaultLimit {
		t.Errorf("k = %d, want %d", repo.k, DefaultLimit)
	}
	if repo.tags != nil {
		t.Errorf("expected nil tags, got %v", repo.tags)
	}
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	repo := &mockRepo{hits: []image.Hit{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	hits, err := New(repo, okEmbedder()).Search(context.Background(), Request{Query: "x", Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected 2 hits, got %d", len(hits))
	}
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty query", Request{}, "q"},
		{"blank query", Request{Query: "   "}, "q"},
		{"negative limit", Request{Query: "x", Limit: -1}, "limit"},
		{"limit too large", Request{Query: "x", Limit: MaxLimit + 1}, "limit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockRepo{}
			_, err := New(repo, okEmbedder()).Search(context.Background(), tc.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Errorf("field = %q, want %q", ve.Field, tc.field)
			}
			if repo.calls != 0 {
				t.Error("repository must not be called on invalid input")
			}
		})
	}
}

func TestSearch_EmbeddingError(t *testing.T) {
	tests := []struct {
		name string
		emb  *mockEmbedder
	}{
		{"provider error", &mockEmbedder{err: errors.New("rate limited")}},
		{"empty vector", &mockEmbedder{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockRepo{}
			_, err := New(repo, tc.emb).Search(context.Background(), Request{Query: "x"})
			if !errors.Is(err, domain.ErrEmbeddingFailed) {
				t.Errorf("expected ErrEmbeddingFailed, got %v", err)
			}
			if repo.calls != 0 {
				t.Error("repository must not be called after embedding failure")
			}
		})
	}
}

func TestSearch_StoreError(t *testing.T) {
	boom := errors.New("index missing")
	_, err := New(&mockRepo{err: boom}, okEmbedder()).Search(context.Background(), Request{Query: "x"})
	if !errors.Is(err, domain.ErrStoreFailed) {
		t.Errorf("expected ErrStoreFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected underlying error in chain, got %v", err)
	}
}
