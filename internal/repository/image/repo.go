// Package image stores analysed images as RedisJSON documents behind an FT vector index.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/phototag/internal/db"
	domimg "github.com/kailas-cloud/phototag/internal/domain/image"
)

// store is the consumer interface for image documents (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig tunes the vector index. Zero values keep server defaults.
type HNSWConfig struct {
	M              int
	EFConstruction int
}

// Repo implements the analysis and search stores on Redis/Valkey.
type Repo struct {
	store     store
	keyPrefix string
	dim       int
	hnsw      HNSWConfig
}

// New creates an image repository. keyPrefix namespaces keys and the index name.
func New(s store, keyPrefix string, dim int, hnsw HNSWConfig) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, dim: dim, hnsw: hnsw}
}

// IndexName returns the FT index name.
func (r *Repo) IndexName() string {
	return r.keyPrefix + "images:idx"
}

func (r *Repo) docPrefix() string {
	return r.keyPrefix + "image:"
}

func (r *Repo) docKey(id string) string {
	return r.docPrefix() + id
}

// EnsureIndex creates the vector index when absent. An existing index is left untouched.
// Returns true if the index was created.
func (r *Repo) EnsureIndex(ctx context.Context) (bool, error) {
	exists, err := r.store.IndexExists(ctx, r.IndexName())
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", r.IndexName(), err)
	}
	if exists {
		return false, nil
	}

	def, err := db.NewIndex(r.IndexName()).
		Prefix(r.docPrefix()).
		VectorHNSW("$.vector", "vector", r.dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruction).
		Tag("$.tags[*]", "tags").
		Text("$.content", "content").
		Build()
	if err != nil {
		return false, fmt.Errorf("build index: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		// Another replica won the race.
		if errors.Is(err, db.ErrIndexExists) {
			return false, nil
		}
		return false, fmt.Errorf("create index %s: %w", r.IndexName(), err)
	}
	return true, nil
}

// Upsert writes the record under its content-derived ID, replacing any previous version.
func (r *Repo) Upsert(ctx context.Context, rec *domimg.Record) error {
	data, err := json.Marshal(toJSONDoc(rec))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := r.docKey(rec.ID())
	if err := r.store.JSONSet(ctx, key, "$", data); err != nil {
		return fmt.Errorf("json.set %s: %w", key, err)
	}
	return nil
}

// Search returns the k records nearest to vector, optionally limited to records carrying any of tags.
func (r *Repo) Search(ctx context.Context, vector []float32, k int, tags []string) ([]domimg.Hit, error) {
	result, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.IndexName(),
		VectorField:  "vector",
		TagField:     "tags",
		Tags:         tags,
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("knn %s: %w", r.IndexName(), err)
	}
	if result == nil {
		return nil, nil
	}

	hits := make([]domimg.Hit, 0, len(result.Entries))
	for _, e := range result.Entries {
		hits = append(hits, domimg.Hit{
			ID:          strings.TrimPrefix(e.Key, r.docPrefix()),
			Score:       e.Score,
			ImageURL:    unquote(e.Fields[pathImageURL]),
			Description: unquote(e.Fields[pathDescription]),
			Tags:        parseTags(e.Fields[pathTags]),
		})
	}
	return hits, nil
}
