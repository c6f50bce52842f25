package analysis

import (
	"context"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
)

// Analyzer turns an image URL into a description and tags.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (image.Analysis, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Store persists analysed images.
type Store interface {
	Upsert(ctx context.Context, rec *image.Record) error
}
