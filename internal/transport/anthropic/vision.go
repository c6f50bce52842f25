// Package anthropic adapts the Anthropic Messages API to the vision contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
	"github.com/kailas-cloud/phototag/internal/metrics"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 512
)

// Config holds the Claude vision settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	TagCount  int
	Logger    *zap.Logger
}

// Vision describes and tags images with Claude.
type Vision struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tagCount  int
	logger    *zap.Logger
}

// NewVision creates a Claude vision analyzer. The SDK's automatic retries are disabled.
func NewVision(cfg *Config) *Vision {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	tagCount := cfg.TagCount
	if tagCount <= 0 {
		tagCount = image.DefaultTagCount
	}

	return &Vision{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
		tagCount:  tagCount,
		logger:    logger,
	}
}

// Analyze sends one user turn holding the instruction and a URL image block.
// Transport and decoding failures wrap domain.ErrAnalysisFailed, empty fields domain.ErrInvalidAnalysis.
func (v *Vision) Analyze(ctx context.Context, imageURL string) (image.Analysis, error) {
	model := string(v.model)
	params := anthropic.MessageNewParams{
		Model:     v.model,
		MaxTokens: v.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: imageURL}),
				anthropic.NewTextBlock(image.Prompt(v.tagCount)),
			),
		},
	}

	start := time.Now()
	resp, err := v.client.Messages.New(ctx, params)
	duration := time.Since(start)

	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues(providerName, model, "error").Inc()
		return image.Analysis{}, parseAPIError(err)
	}
	metrics.VisionRequestsTotal.WithLabelValues(providerName, model, "success").Inc()
	metrics.VisionRequestDuration.WithLabelValues(providerName, model).Observe(duration.Seconds())

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	analysis, err := image.ParseAnalysis(text.String(), v.tagCount)
	if err != nil {
		return image.Analysis{}, err
	}
	if n := len(analysis.Tags()); n < v.tagCount {
		v.logger.Warn("Vision model returned fewer tags than requested",
			zap.String("provider", providerName),
			zap.Int("requested", v.tagCount),
			zap.Int("returned", n),
		)
	}

	v.logger.Debug("Image analysed",
		zap.String("provider", providerName),
		zap.String("model", model),
		zap.Duration("duration", duration),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return analysis, nil
}

// Provider returns the provider label used in logs and metrics.
func (v *Vision) Provider() string { return providerName }

func parseAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("vision API error %d: %s: %w", apiErr.StatusCode, apiErr.Error(), domain.ErrAnalysisFailed)
	}
	return fmt.Errorf("vision request failed: %v: %w", err, domain.ErrAnalysisFailed)
}
