// Package match validates a matching request and selects the best tagged image.
package match

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
	dommatch "github.com/kailas-cloud/phototag/internal/domain/match"
	"github.com/kailas-cloud/phototag/internal/logger"
	"github.com/kailas-cloud/phototag/internal/metrics"
)

// Input is a decoded matching request. Nil fields were absent from the body.
type Input struct {
	SearchText *string
	ImageData  []image.TaggedItem
}

// Service runs the matching flow.
type Service struct {
	logger *zap.Logger
}

// New creates a match service.
func New(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// Best returns the URL of the best-matching item.
// An empty search text is valid and scores every eligible item zero.
func (s *Service) Best(ctx context.Context, in Input) (string, error) {
	if in.SearchText == nil {
		return "", domain.NewMissingField("search_text")
	}
	if in.ImageData == nil {
		return "", domain.NewMissingField("image_data")
	}

	log := logger.FromContext(ctx, s.logger)

	res, ok := dommatch.Best(*in.SearchText, in.ImageData)
	if !ok {
		metrics.MatchResultsTotal.WithLabelValues("no_match").Inc()
		log.Debug("No eligible image", zap.Int("items", len(in.ImageData)))
		return "", domain.ErrNoMatch
	}

	outcome := "match"
	if res.Score == 0 {
		outcome = "zero_score"
	}
	metrics.MatchResultsTotal.WithLabelValues(outcome).Inc()

	log.Debug("Image matched",
		zap.Int("index", res.Index),
		zap.Int("score", res.Score),
		zap.Int("items", len(in.ImageData)),
	)
	return res.Item.URL, nil
}
