package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
	"github.com/kailas-cloud/phototag/internal/metrics"
)

const providerName = "openai"

// VisionConfig holds the vision model settings.
type VisionConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	TagCount  int
	// Detail is the image_url detail hint: low, high or auto.
	Detail string
	Logger *zap.Logger
}

// Vision describes and tags images with a multimodal chat model.
type Vision struct {
	client    *openai.Client
	model     string
	maxTokens int
	tagCount  int
	detail    openai.ImageURLDetail
	logger    *zap.Logger
}

// NewVision creates an OpenAI vision analyzer.
func NewVision(cfg *VisionConfig) *Vision {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	detail := openai.ImageURLDetail(cfg.Detail)
	if detail == "" {
		detail = openai.ImageURLDetailLow
	}
	tagCount := cfg.TagCount
	if tagCount <= 0 {
		tagCount = image.DefaultTagCount
	}
	return &Vision{
		client:    newClient(cfg.APIKey, cfg.BaseURL),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		tagCount:  tagCount,
		detail:    detail,
		logger:    logger,
	}
}

// Analyze sends one user message holding the instruction and the image URL.
// Transport and decoding failures wrap domain.ErrAnalysisFailed, empty fields domain.ErrInvalidAnalysis.
func (v *Vision) Analyze(ctx context.Context, imageURL string) (image.Analysis, error) {
	req := openai.ChatCompletionRequest{
		Model:     v.model,
		MaxTokens: v.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: image.Prompt(v.tagCount)},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: imageURL, Detail: v.detail},
				},
			},
		}},
	}

	start := time.Now()
	resp, err := v.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues(providerName, v.model, "error").Inc()
		return image.Analysis{}, parseAPIError("vision", err, domain.ErrAnalysisFailed)
	}
	metrics.VisionRequestsTotal.WithLabelValues(providerName, v.model, "success").Inc()
	metrics.VisionRequestDuration.WithLabelValues(providerName, v.model).Observe(duration.Seconds())

	if len(resp.Choices) == 0 {
		return image.Analysis{}, fmt.Errorf("vision response has no choices: %w", domain.ErrAnalysisFailed)
	}

	analysis, err := image.ParseAnalysis(resp.Choices[0].Message.Content, v.tagCount)
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
		zap.String("model", v.model),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return analysis, nil
}

// Provider returns the provider label used in logs and metrics.
func (v *Vision) Provider() string { return providerName }
