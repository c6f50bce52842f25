// Package pinecone stores analysed images in a Pinecone index.
package pinecone

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	domimg "github.com/kailas-cloud/phototag/internal/domain/image"
)

// Metadata keys written next to each vector.
const (
	metaContent     = "content"
	metaImageURL    = "image_url"
	metaDescription = "description"
	metaTags        = "tags"

	// metaTagKeys holds lowercased tags; filters run against it so tag
	// matching is case-insensitive like the Redis TAG field.
	metaTagKeys = "tag_keys"
)

// index is the subset of *pinecone.IndexConnection the store uses.
type index interface {
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	DescribeIndexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error)
}

// Config holds Pinecone connection parameters.
type Config struct {
	APIKey    string
	Host      string
	Namespace string
}

// Store implements the analysis and search stores on Pinecone.
type Store struct {
	idx index
}

// NewStore connects to the index at cfg.Host.
func NewStore(cfg Config) (*Store, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("pinecone api key is required")
	}
	if cfg.Host == "" {
		return nil, errors.New("pinecone index host is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}

	conn, err := client.Index(pinecone.NewIndexConnParams{Host: cfg.Host, Namespace: cfg.Namespace})
	if err != nil {
		return nil, fmt.Errorf("connect pinecone index %s: %w", cfg.Host, err)
	}
	return &Store{idx: conn}, nil
}

// NewStoreForTest wraps a prepared index connection.
func NewStoreForTest(idx index) *Store {
	return &Store{idx: idx}
}

// Ping checks that the index answers a stats request.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.idx.DescribeIndexStats(ctx); err != nil {
		return fmt.Errorf("pinecone describe index stats: %w", err)
	}
	return nil
}

// Upsert writes the record keyed by its content-derived ID.
func (s *Store) Upsert(ctx context.Context, rec *domimg.Record) error {
	meta, err := recordMetadata(rec)
	if err != nil {
		return err
	}

	vec := &pinecone.Vector{
		Id:       rec.ID(),
		Values:   rec.Embedding(),
		Metadata: meta,
	}
	if _, err := s.idx.UpsertVectors(ctx, []*pinecone.Vector{vec}); err != nil {
		return fmt.Errorf("pinecone upsert %s: %w", rec.ID(), err)
	}
	return nil
}

// Search returns the k nearest records, optionally limited to records carrying any of tags.
func (s *Store) Search(ctx context.Context, vector []float32, k int, tags []string) ([]domimg.Hit, error) {
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}

	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(k), //nolint:gosec // k is bounded by the handler
		IncludeMetadata: true,
	}
	if len(tags) > 0 {
		filter, err := tagFilter(tags)
		if err != nil {
			return nil, err
		}
		req.MetadataFilter = filter
	}

	resp, err := s.idx.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	hits := make([]domimg.Hit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		hits = append(hits, hitFromVector(m.Vector, float64(m.Score)))
	}
	return hits, nil
}

func recordMetadata(rec *domimg.Record) (*pinecone.Metadata, error) {
	tags := make([]any, len(rec.Tags()))
	keys := make([]any, len(rec.Tags()))
	for i, t := range rec.Tags() {
		tags[i] = t
		keys[i] = strings.ToLower(t)
	}

	meta, err := structpb.NewStruct(map[string]any{
		metaContent:     rec.Content(),
		metaImageURL:    rec.ImageURL(),
		metaDescription: rec.Description(),
		metaTags:        tags,
		metaTagKeys:     keys,
	})
	if err != nil {
		return nil, fmt.Errorf("build metadata: %w", err)
	}
	return meta, nil
}

func tagFilter(tags []string) (*pinecone.MetadataFilter, error) {
	in := make([]any, len(tags))
	for i, t := range tags {
		in[i] = strings.ToLower(t)
	}
	filter, err := structpb.NewStruct(map[string]any{
		metaTagKeys: map[string]any{"$in": in},
	})
	if err != nil {
		return nil, fmt.Errorf("build tag filter: %w", err)
	}
	return filter, nil
}

func hitFromVector(v *pinecone.Vector, score float64) domimg.Hit {
	hit := domimg.Hit{ID: v.Id, Score: score}
	if v.Metadata == nil {
		return hit
	}

	m := v.Metadata.AsMap()
	hit.ImageURL, _ = m[metaImageURL].(string)
	hit.Description, _ = m[metaDescription].(string)
	if raw, ok := m[metaTags].([]any); ok {
		hit.Tags = make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				hit.Tags = append(hit.Tags, s)
			}
		}
	}
	return hit
}
