package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/metrics"
)

// chatRequest captures the fields the vision call must send.
type chatRequest struct {
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL    string `json:"url"`
				Detail string `json:"detail"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, content string, inspect func(chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(req)
		}

		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 90, "completion_tokens": 40, "total_tokens": 130},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestVision_Analyze(t *testing.T) {
	var got chatRequest
	server := chatServer(t, `{"description":"A red barn","tags":["barn","red","farm"]}`, func(r chatRequest) { got = r })
	defer server.Close()

	v := NewVision(&VisionConfig{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Model:     "vision-ok",
		MaxTokens: 300,
		TagCount:  3,
	})

	a, err := v.Analyze(context.Background(), "https://img.example/barn.jpg")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if a.Description() != "A red barn" || len(a.Tags()) != 3 {
		t.Errorf("analysis = %q %v", a.Description(), a.Tags())
	}

	if got.Model != "vision-ok" || got.MaxTokens != 300 {
		t.Errorf("model/max_tokens = %s/%d", got.Model, got.MaxTokens)
	}
	if got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %q, want json_object", got.ResponseFormat.Type)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("expected a single user message, got %+v", got.Messages)
	}
	parts := got.Messages[0].Content
	if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "image_url" {
		t.Fatalf("unexpected content parts: %+v", parts)
	}
	if parts[1].ImageURL.URL != "https://img.example/barn.jpg" || parts[1].ImageURL.Detail != "low" {
		t.Errorf("image part = %+v", parts[1].ImageURL)
	}
	if v := testutil.ToFloat64(metrics.VisionRequestsTotal.WithLabelValues("openai", "vision-ok", "success")); v != 1 {
		t.Errorf("vision success counter = %f, want 1", v)
	}
}

func TestVision_TruncatesAndWarnsOnShortLists(t *testing.T) {
	server := chatServer(t, `{"description":"d","tags":["a","b","c","d"]}`, nil)
	defer server.Close()

	v := NewVision(&VisionConfig{APIKey: "test-key", BaseURL: server.URL, Model: "m", TagCount: 2})
	a, err := v.Analyze(context.Background(), "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Tags()) != 2 {
		t.Errorf("expected truncation to 2 tags, got %v", a.Tags())
	}

	core, logs := observer.New(zap.WarnLevel)
	short := NewVision(&VisionConfig{APIKey: "test-key", BaseURL: server.URL, Model: "m", TagCount: 10, Logger: zap.New(core)})
	if _, err := short.Analyze(context.Background(), "u"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs.Len() != 1 {
		t.Errorf("expected one warning for a short tag list, got %d", logs.Len())
	}
}

func TestVision_InvalidAnalysis(t *testing.T) {
	server := chatServer(t, `{"description":"A sky","tags":[]}`, nil)
	defer server.Close()

	v := NewVision(&VisionConfig{APIKey: "test-key", BaseURL: server.URL, Model: "m"})
	_, err := v.Analyze(context.Background(), "u")
	if !errors.Is(err, domain.ErrInvalidAnalysis) {
		t.Fatalf("expected ErrInvalidAnalysis, got %v", err)
	}
}

func TestVision_MalformedReply(t *testing.T) {
	server := chatServer(t, "I cannot see the image.", nil)
	defer server.Close()

	v := NewVision(&VisionConfig{APIKey: "test-key", BaseURL: server.URL, Model: "m"})
	_, err := v.Analyze(context.Background(), "u")
	if !errors.Is(err, domain.ErrAnalysisFailed) {
		t.Fatalf("expected ErrAnalysisFailed, got %v", err)
	}
}

func TestVision_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid image URL","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	v := NewVision(&VisionConfig{APIKey: "test-key", BaseURL: server.URL, Model: "vision-err"})
	_, err := v.Analyze(context.Background(), "not-a-url")
	if !errors.Is(err, domain.ErrAnalysisFailed) {
		t.Fatalf("expected ErrAnalysisFailed, got %v", err)
	}
	if v := testutil.ToFloat64(metrics.VisionRequestsTotal.WithLabelValues("openai", "vision-err", "error")); v != 1 {
		t.Errorf("vision error counter = %f, want 1", v)
	}
}
