// Package search finds stored images semantically close to a text query.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
)

// Limit bounds.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Request is a validated-on-use search request.
type Request struct {
	Query string
	Limit int
	// Tags restricts results to records carrying any of these tags.
	Tags []string
}

// Service embeds the query and runs KNN over the vector store.
type Service struct {
	repo  Repository
	embed Embedder
}

// New creates a search service.
func New(repo Repository, embed Embedder) *Service {
	return &Service{repo: repo, embed: embed}
}

// Search returns up to req.Limit hits ordered by descending similarity.
func (s *Service) Search(ctx context.Context, req Request) ([]image.Hit, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.NewMissingField("q")
	}

	limit := req.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0 || limit > MaxLimit:
		return nil, domain.NewInvalidField("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
	}

	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingFailed) {
			err = fmt.Errorf("%v: %w", err, domain.ErrEmbeddingFailed)
		}
		return nil, err
	}
	if len(emb.Embedding) == 0 {
		return nil, fmt.Errorf("empty query embedding: %w", domain.ErrEmbeddingFailed)
	}

	hits, err := s.repo.Search(ctx, emb.Embedding, limit, normalizeTags(req.Tags))
	if err != nil {
		return nil, fmt.Errorf("knn search: %w: %w", domain.ErrStoreFailed, err)
	}

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
