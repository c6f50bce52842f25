// Package analysis runs the analyze, embed and store pipeline for one image.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
	"github.com/kailas-cloud/phototag/internal/logger"
	"github.com/kailas-cloud/phototag/internal/metrics"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageAnalyze Stage = "analyze"
	StageEmbed   Stage = "embed"
	StageStore   Stage = "store"
)

// StageError reports which step failed. Its message is the underlying error text.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Result is what a successful run returns to the caller.
type Result struct {
	ID          string
	Description string
	Tags        []string
}

// Service runs the pipeline. Stages are strictly sequential and a failure stops the run.
type Service struct {
	analyzer   Analyzer
	embedder   Embedder
	store      Store
	dimensions int
	logger     *zap.Logger
}

// New creates an analysis service.
func New(analyzer Analyzer, embedder Embedder, store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{analyzer: analyzer, embedder: embedder, store: store, logger: logger}
}

// WithDimensions makes the service reject embeddings of any other length.
func (s *Service) WithDimensions(n int) *Service {
	s.dimensions = n
	return s
}

// Analyze describes, embeds and stores the image at imageURL.
func (s *Service) Analyze(ctx context.Context, imageURL string) (Result, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return Result{}, domain.NewMissingField("image_url")
	}

	log := logger.FromContext(ctx, s.logger).With(zap.String("image_url", imageURL))
	start := time.Now()

	a, err := s.analyzer.Analyze(ctx, imageURL)
	if err != nil {
		if !errors.Is(err, domain.ErrAnalysisFailed) && !errors.Is(err, domain.ErrInvalidAnalysis) {
			err = fmt.Errorf("%v: %w", err, domain.ErrAnalysisFailed)
		}
		return Result{}, s.fail(log, StageAnalyze, err)
	}

	text := a.EmbeddingText()
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingFailed) {
			err = fmt.Errorf("%v: %w", err, domain.ErrEmbeddingFailed)
		}
		return Result{}, s.fail(log, StageEmbed, err)
	}
	if s.dimensions > 0 && len(emb.Embedding) != s.dimensions {
		err := fmt.Errorf("embedding has %d dimensions, want %d: %w",
			len(emb.Embedding), s.dimensions, domain.ErrEmbeddingFailed)
		return Result{}, s.fail(log, StageEmbed, err)
	}

	rec, err := image.NewRecord(imageURL, a, emb.Embedding)
	if err != nil {
		return Result{}, s.fail(log, StageEmbed, err)
	}

	if err := s.store.Upsert(ctx, &rec); err != nil {
		if !errors.Is(err, domain.ErrStoreFailed) {
			err = fmt.Errorf("%v: %w", err, domain.ErrStoreFailed)
		}
		return Result{}, s.fail(log, StageStore, err)
	}

	log.Info("Image analysed",
		zap.String("id", rec.ID()),
		zap.Int("tags", len(rec.Tags())),
		zap.Int("embedding_tokens", emb.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return Result{ID: rec.ID(), Description: rec.Description(), Tags: rec.Tags()}, nil
}

func (s *Service) fail(log *zap.Logger, stage Stage, err error) error {
	metrics.PipelineFailuresTotal.WithLabelValues(string(stage)).Inc()
	log.Warn("Analysis pipeline failed", zap.String("stage", string(stage)), zap.Error(err))
	return &StageError{Stage: stage, Err: err}
}
