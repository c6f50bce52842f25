package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
	analysisuc "github.com/kailas-cloud/phototag/internal/usecase/analysis"
	embeddinguc "github.com/kailas-cloud/phototag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/phototag/internal/usecase/health"
	matchuc "github.com/kailas-cloud/phototag/internal/usecase/match"
	searchuc "github.com/kailas-cloud/phototag/internal/usecase/search"
)

// --- Fakes ---

type fakeAnalyzer struct {
	desc string
	tags []string
	err  error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) (image.Analysis, error) {
	if f.err != nil {
		return image.Analysis{}, f.err
	}
	return image.NewAnalysis(f.desc, f.tags, image.DefaultTagCount)
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	f.calls++
	if f.err != nil {
		return domain.EmbeddingResult{}, f.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}, TotalTokens: 11}, nil
}

type fakeStore struct {
	upserts int
	hits    []image.Hit
	err     error
}

func (f *fakeStore) Upsert(_ context.Context, _ *image.Record) error {
	f.upserts++
	return f.err
}

func (f *fakeStore) Search(_ context.Context, _ []float32, _ int, _ []string) ([]image.Hit, error) {
	return f.hits, f.err
}

func (f *fakeStore) Ping(_ context.Context) error { return f.err }

type deps struct {
	analyzer *fakeAnalyzer
	embedder *fakeEmbedder
	store    *fakeStore
}

func newTestServer(d deps) http.Handler {
	if d.analyzer == nil {
		d.analyzer = &fakeAnalyzer{desc: "A dog in a park", tags: []string{"dog", "park"}}
	}
	if d.embedder == nil {
		d.embedder = &fakeEmbedder{}
	}
	if d.store == nil {
		d.store = &fakeStore{}
	}
	emb := embeddinguc.NewInstrumentedEmbedder(d.embedder, "test-model", nil)
	srv := NewServer(
		matchuc.New(nil),
		analysisuc.New(d.analyzer, emb, d.store, nil),
		searchuc.New(d.store, emb),
		healthuc.New(d.store, nil, nil),
		nil,
	)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, out
}

// --- /images/match ---

func TestMatchImage(t *testing.T) {
	h := newTestServer(deps{})

	tests := []struct {
		name   string
		body   string
		status int
		key    string
		want   string
	}{
		{
			name:   "best match",
			body:   `{"search_text":"sunset beach","image_data":[{"url":"a","tags":["sunset","ocean"]},{"url":"b","tags":["beach","sunset"]}]}`,
			status: http.StatusOK, key: "best_match_url", want: "b",
		},
		{
			name:   "case insensitive",
			body:   `{"search_text":"Dog Park","image_data":[{"url":"p","tags":["DOG","park"]}]}`,
			status: http.StatusOK, key: "best_match_url", want: "p",
		},
		{
			name:   "zero score still matches",
			body:   `{"search_text":"city","image_data":[{"url":"m","tags":["mountain"]}]}`,
			status: http.StatusOK, key: "best_match_url", want: "m",
		},
		{
			name:   "malformed tags skipped",
			body:   `{"search_text":"dog","image_data":[{"url":"a","tags":"dog"},{"url":"b","tags":["dog"]}]}`,
			status: http.StatusOK, key: "best_match_url", want: "b",
		},
		{
			name:   "non-string url reads empty",
			body:   `{"search_text":"dog","image_data":[{"url":5,"tags":["dog"]}]}`,
			status: http.StatusOK, key: "best_match_url", want: "",
		},
		{
			name:   "untagged only",
			body:   `{"search_text":"x","image_data":[{"url":"a","tags":[]}]}`,
			status: http.StatusNotFound, key: "error", want: "No suitable image found.",
		},
		{
			name:   "empty list",
			body:   `{"search_text":"x","image_data":[]}`,
			status: http.StatusNotFound, key: "error", want: "No suitable image found.",
		},
		{
			name:   "missing search_text",
			body:   `{"image_data":[{"url":"a","tags":["x"]}]}`,
			status: http.StatusBadRequest, key: "error", want: "Missing 'search_text' in request body",
		},
		{
			name:   "missing image_data",
			body:   `{"search_text":"x"}`,
			status: http.StatusBadRequest, key: "error", want: "Missing 'image_data' in request body",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, out := do(t, h, http.MethodPost, "/images/match", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.status, rr.Body.String())
			}
			if got, _ := out[tc.key].(string); got != tc.want {
				t.Errorf("%s = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestMatchImage_MalformedBody(t *testing.T) {
	for _, body := range []string{`{"search_text":`, `{"search_text":"dog","image_data":"a"}`} {
		rr, out := do(t, newTestServer(deps{}), http.MethodPost, "/images/match", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, rr.Code)
		}
		if msg, _ := out["error"].(string); !strings.HasPrefix(msg, "Invalid request body") {
			t.Errorf("%s: error = %q", body, msg)
		}
	}
}

// --- /images/analyze ---

func TestAnalyzeImage_Success(t *testing.T) {
	st := &fakeStore{}
	rr, out := do(t, newTestServer(deps{store: st}), http.MethodPost, "/images/analyze",
		`{"image_url":"https://img/dog.jpg"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if out["description"] != "A dog in a park" {
		t.Errorf("description = %v", out["description"])
	}
	tags, _ := out["tags"].([]any)
	if len(tags) != 2 || tags[0] != "dog" {
		t.Errorf("tags = %v", out["tags"])
	}
	if st.upserts != 1 {
		t.Errorf("expected one upsert, got %d", st.upserts)
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got != "11" {
		t.Errorf("X-Embedding-Tokens = %q, want 11", got)
	}
}

func TestAnalyzeImage_FewerTagsNotPadded(t *testing.T) {
	d := deps{analyzer: &fakeAnalyzer{desc: "A lone tree", tags: []string{"tree", "field", "sky"}}}
	rr, out := do(t, newTestServer(d), http.MethodPost, "/images/analyze", `{"image_url":"u"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	tags, _ := out["tags"].([]any)
	if len(tags) != 3 || tags[0] != "tree" || tags[2] != "sky" {
		t.Errorf("tags = %v, want the three model tags unchanged", out["tags"])
	}
}

func TestAnalyzeImage_MissingURL(t *testing.T) {
	for _, body := range []string{`{}`, `{"image_url":"  "}`} {
		rr, out := do(t, newTestServer(deps{}), http.MethodPost, "/images/analyze", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
		if out["error"] != "Missing 'image_url' in request body" {
			t.Errorf("%s: error = %v", body, out["error"])
		}
	}
}

func TestAnalyzeImage_EmptyTagsIs500WithoutSideEffects(t *testing.T) {
	emb := &fakeEmbedder{}
	st := &fakeStore{}
	d := deps{analyzer: &fakeAnalyzer{desc: "A wall"}, embedder: emb, store: st}

	rr, out := do(t, newTestServer(d), http.MethodPost, "/images/analyze", `{"image_url":"u"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if msg, _ := out["error"].(string); msg == "" {
		t.Error("expected error text")
	}
	if emb.calls != 0 || st.upserts != 0 {
		t.Errorf("expected no embed/store calls, got %d/%d", emb.calls, st.upserts)
	}
}

func TestAnalyzeImage_DownstreamFailures(t *testing.T) {
	tests := []struct {
		name string
		d    deps
		msg  string
	}{
		{
			name: "vision",
			d:    deps{analyzer: &fakeAnalyzer{err: errors.New("vision unreachable")}},
			msg:  "vision unreachable: image analysis failed",
		},
		{
			name: "embedding",
			d:    deps{embedder: &fakeEmbedder{err: errors.New("quota")}},
			msg:  "quota: embedding failed",
		},
		{
			name: "store",
			d:    deps{store: &fakeStore{err: errors.New("index gone")}},
			msg:  "index gone: vector store failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, out := do(t, newTestServer(tc.d), http.MethodPost, "/images/analyze", `{"image_url":"u"}`)
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rr.Code)
			}
			if out["error"] != tc.msg {
				t.Errorf("error = %v, want %q", out["error"], tc.msg)
			}
		})
	}
}

// --- /images/search ---

func TestSearchImages(t *testing.T) {
	st := &fakeStore{hits: []image.Hit{{ID: "1", Score: 0.75, ImageURL: "a", Description: "d"}}}
	rr, out := do(t, newTestServer(deps{store: st}), http.MethodGet, "/images/search?q=dog&limit=3&tag=park", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	items, _ := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", out["items"])
	}
	item := items[0].(map[string]any)
	if item["id"] != "1" || item["image_url"] != "a" || item["score"] != 0.75 {
		t.Errorf("item = %v", item)
	}
	if tags, ok := item["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("expected empty tags array, got %v", item["tags"])
	}
}

func TestSearchImages_BadRequest(t *testing.T) {
	tests := []string{
		"/images/search",
		"/images/search?q=",
		"/images/search?q=x&limit=abc",
		"/images/search?q=x&limit=0",
		"/images/search?q=x&limit=1000",
	}
	h := newTestServer(deps{})
	for _, target := range tests {
		rr, out := do(t, h, http.MethodGet, target, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rr.Code)
		}
		if _, ok := out["error"]; !ok {
			t.Errorf("%s: missing error body", target)
		}
	}
}

func TestSearchImages_StoreError(t *testing.T) {
	rr, _ := do(t, newTestServer(deps{store: &fakeStore{err: errors.New("down")}}),
		http.MethodGet, "/images/search?q=x", "")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

// --- /health, /metrics, routing ---

func TestHealthCheck(t *testing.T) {
	rr, out := do(t, newTestServer(deps{}), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %v", out["status"])
	}

	rr, out = do(t, newTestServer(deps{store: &fakeStore{err: errors.New("down")}}), http.MethodGet, "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	checks, _ := out["checks"].(map[string]any)
	if checks["store"] != "error" {
		t.Errorf("checks = %v", out["checks"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr, _ := do(t, newTestServer(deps{}), http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestRouting_JSONErrors(t *testing.T) {
	h := newTestServer(deps{})

	rr, out := do(t, h, http.MethodGet, "/nope", "")
	if rr.Code != http.StatusNotFound || out["error"] == nil {
		t.Errorf("unknown path: %d %v", rr.Code, out)
	}

	rr, out = do(t, h, http.MethodGet, "/images/match", "")
	if rr.Code != http.StatusMethodNotAllowed || out["error"] == nil {
		t.Errorf("wrong method: %d %v", rr.Code, out)
	}
}

func TestRoutes_SearchOptional(t *testing.T) {
	srv := NewServer(matchuc.New(nil), analysisuc.New(&fakeAnalyzer{}, &fakeEmbedder{}, &fakeStore{}, nil),
		nil, healthuc.New(&fakeStore{}, nil, nil), nil)
	rr, _ := do(t, srv.Handler(), http.MethodGet, "/images/search?q=x", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a search service", rr.Code)
	}
}
