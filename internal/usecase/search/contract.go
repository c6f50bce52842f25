package search

import (
	"context"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
)

// Repository runs nearest-neighbour queries over stored image records.
type Repository interface {
	Search(ctx context.Context, vector []float32, k int, tags []string) ([]image.Hit, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
