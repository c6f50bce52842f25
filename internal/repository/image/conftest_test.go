package image

import (
	"context"
	"testing"

	"github.com/kailas-cloud/phototag/internal/db"
	domimg "github.com/kailas-cloud/phototag/internal/domain/image"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	jsonSetFn     func(ctx context.Context, key, path string, data []byte) error
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn func(ctx context.Context, name string) (bool, error)
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

func (m *mockStore) JSONSet(ctx context.Context, key, path string, data []byte) error {
	if m.jsonSetFn != nil {
		return m.jsonSetFn(ctx, key, path, data)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func newTestRecord(t *testing.T) domimg.Record {
	t.Helper()
	a, err := domimg.NewAnalysis("A dog in a park", []string{"dog", "park", "grass"}, domimg.DefaultTagCount)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	rec, err := domimg.NewRecord("https://img.example/dog.jpg", a, []float32{0.1, 0.2, 0.3})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec
}
