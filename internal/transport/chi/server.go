// Package chi exposes the matching, analysis and search flows over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/phototag/internal/domain"
	"github.com/kailas-cloud/phototag/internal/domain/image"
	"github.com/kailas-cloud/phototag/internal/logger"
	analysisuc "github.com/kailas-cloud/phototag/internal/usecase/analysis"
	healthuc "github.com/kailas-cloud/phototag/internal/usecase/health"
	matchuc "github.com/kailas-cloud/phototag/internal/usecase/match"
	searchuc "github.com/kailas-cloud/phototag/internal/usecase/search"
)

// NoMatchMessage is the 404 body text of the matching endpoint.
const NoMatchMessage = "No suitable image found."

const maxBodyBytes = 1 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	match         *matchuc.Service
	analysis      *analysisuc.Service
	search        *searchuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. search may be nil when no search backend is configured.
func NewServer(
	match *matchuc.Service,
	analysis *analysisuc.Service,
	search *searchuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		match:    match,
		analysis: analysis,
		search:   search,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, ""),
		sentinelHandler(domain.ErrNoMatch, http.StatusNotFound, NoMatchMessage),
	}
	return s
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/images/match", s.MatchImage)
	r.Post("/images/analyze", s.AnalyzeImage)
	if s.search != nil {
		r.Get("/images/search", s.SearchImages)
	}
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// Handler returns a router with all endpoints registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

type matchRequest struct {
	SearchText *string            `json:"search_text"`
	ImageData  []image.TaggedItem `json:"image_data"`
}

type matchResponse struct {
	BestMatchURL string `json:"best_match_url"`
}

// MatchImage handles POST /images/match.
func (s *Server) MatchImage(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !s.decode(w, r, &req) {
		return
	}

	url, err := s.match.Best(r.Context(), matchuc.Input{
		SearchText: req.SearchText,
		ImageData:  req.ImageData,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, matchResponse{BestMatchURL: url})
}

type analyzeRequest struct {
	ImageURL string `json:"image_url"`
}

type analyzeResponse struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// AnalyzeImage handles POST /images/analyze.
func (s *Server) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.analysis.Analyze(ctx, req.ImageURL)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, analyzeResponse{Description: res.Description, Tags: res.Tags})
}

type searchItem struct {
	ID          string   `json:"id"`
	Score       float64  `json:"score"`
	ImageURL    string   `json:"image_url"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

// SearchImages handles GET /images/search?q=&limit=&tag=.
func (s *Server) SearchImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'limit': must be an integer")
		return
	}
	var tags *[]string
	if err := runtime.BindQueryParameter("form", true, false, "tag", query, &tags); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'tag'")
		return
	}

	req := searchuc.Request{Query: query.Get("q")}
	if tags != nil {
		req.Tags = *tags
	}
	if limit != nil {
		req.Limit = *limit
		if req.Limit == 0 {
			writeError(w, http.StatusBadRequest, domain.NewInvalidField("limit", "must be positive").Error())
			return
		}
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	hits, err := s.search.Search(ctx, req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)

	items := make([]searchItem, len(hits))
	for i, h := range hits {
		items[i] = searchItem{
			ID:          h.ID,
			Score:       h.Score,
			ImageURL:    h.ImageURL,
			Description: h.Description,
			Tags:        h.Tags,
		}
		if items[i].Tags == nil {
			items[i].Tags = []string{}
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{Items: items})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Calls > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// sentinelHandler matches a single sentinel error. An empty message echoes the error text.
func sentinelHandler(sentinel error, status int, message string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, status, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), s.logger)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Debug("Request rejected", zap.Error(err))
			return
		}
	}

	fields := []zap.Field{zap.Error(err)}
	var se *analysisuc.StageError
	if errors.As(err, &se) {
		fields = append(fields, zap.String("stage", string(se.Stage)))
	}
	log.Error("Request failed", fields...)
	writeError(w, http.StatusInternalServerError, err.Error())
}
