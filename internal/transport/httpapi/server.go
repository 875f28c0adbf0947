// Package httpapi exposes the assistant pipeline over HTTP: embedding,
// vector CRUD, grounded question answering with an SSE streaming variant,
// session memory, and operational stats.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/repository/vectors"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the pipeline services into HTTP handlers.
type Server struct {
	answers       Answerer
	streamer      Streamer
	embedder      domain.Embedder
	vectors       VectorStore
	web           WebSearcher
	memory        Memory
	cache         CacheStatser
	queue         QueueStatser
	store         Pinger
	provider      HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server.
func NewServer(
	answers Answerer,
	streamer Streamer,
	embedder domain.Embedder,
	vectorStore VectorStore,
	web WebSearcher,
	memory Memory,
	cache CacheStatser,
	queueStats QueueStatser,
	store Pinger,
	provider HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		answers:  answers,
		streamer: streamer,
		embedder: embedder,
		vectors:  vectorStore,
		web:      web,
		memory:   memory,
		cache:    cache,
		queue:    queueStats,
		store:    store,
		provider: provider,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrTextTooShort, http.StatusBadRequest, "text_too_short"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrSuperseded, http.StatusConflict, "superseded"),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"),
		sentinelHandler(domain.ErrQueueClosed, http.StatusServiceUnavailable, "queue_closed"),
		sentinelHandler(domain.ErrProviderError, http.StatusBadGateway, "provider_error"),
	}
	return s
}

// Routes mounts every endpoint on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/ai/embed", s.Embed)
	r.Post("/ai/stream", s.AskStream)
	r.Post("/ask", s.Ask)
	r.Post("/search", s.Search)
	r.Post("/upsert", s.Upsert)
	r.Post("/delete", s.Delete)
	r.Post("/serp/search", s.WebSearch)
	r.Get("/memory/{session}", s.GetMemory)
	r.Delete("/memory/{session}", s.ClearMemory)
	r.Get("/cache/stats", s.CacheStats)
	r.Get("/queue/stats", s.QueueStats)
	r.Get("/stats", s.IndexStats)
	r.Get("/health", s.Health)
	r.Get("/metrics", s.Metrics)
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding    []float32 `json:"embedding"`
	Dimensions   int       `json:"dimensions"`
	PromptTokens int       `json:"promptTokens"`
	TotalTokens  int       `json:"totalTokens"`
}

// Embed handles POST /ai/embed.
func (s *Server) Embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "text is required")
		return
	}

	result, err := s.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, embedResponse{
		Embedding:    result.Embedding,
		Dimensions:   len(result.Embedding),
		PromptTokens: result.PromptTokens,
		TotalTokens:  result.TotalTokens,
	})
}

type searchRequest struct {
	QueryEmbedding []float32 `json:"queryEmbedding"`
	Namespace      string    `json:"namespace"`
	TopK           int       `json:"topK"`
}

type searchResponse struct {
	Results []domain.Hit `json:"results"`
	Count   int          `json:"count"`
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(req.QueryEmbedding) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "queryEmbedding is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	hits, err := s.vectors.Search(r.Context(), req.QueryEmbedding, req.Namespace, req.TopK)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if hits == nil {
		hits = []domain.Hit{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Results: hits, Count: len(hits)})
}

type upsertVector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Content  string    `json:"content"`
	Source   string    `json:"source"`
	Title    string    `json:"title"`
	Modified string    `json:"modified"`
}

type upsertRequest struct {
	Namespace string         `json:"namespace"`
	Vectors   []upsertVector `json:"vectors"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

// Upsert handles POST /upsert.
func (s *Server) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Namespace == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "namespace is required")
		return
	}
	if len(req.Vectors) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "vectors must not be empty")
		return
	}

	vecs := make([]vectors.Vector, 0, len(req.Vectors))
	for _, v := range req.Vectors {
		vec := vectors.Vector{
			ID:      v.ID,
			Values:  v.Values,
			Content: v.Content,
			Source:  v.Source,
			Title:   v.Title,
		}
		if v.Modified != "" {
			if t, err := parseModified(v.Modified); err == nil {
				vec.Modified = t
			}
		}
		vecs = append(vecs, vec)
	}

	count, err := s.vectors.Upsert(r.Context(), req.Namespace, vecs)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, upsertResponse{UpsertedCount: count})
}

type deleteRequest struct {
	Namespace string   `json:"namespace"`
	IDs       []string `json:"ids"`
}

type deleteResponse struct {
	DeletedCount int `json:"deletedCount"`
}

// Delete handles POST /delete. An empty ids list clears the whole
// namespace.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Namespace == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "namespace is required")
		return
	}

	count, err := s.vectors.Delete(r.Context(), req.Namespace, req.IDs)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{DeletedCount: count})
}

type askRequest struct {
	Query      string           `json:"query"`
	SessionID  string           `json:"sessionId"`
	Transcript string           `json:"transcript"`
	History    []domain.Message `json:"history"`
}

func (req askRequest) toDomain() (domain.Query, domain.Session) {
	query := domain.Query{
		Text:      req.Query,
		SessionID: req.SessionID,
		History:   req.History,
	}
	session := domain.Session{
		ID:         req.SessionID,
		Transcript: req.Transcript,
	}
	return query, session
}

// Ask handles POST /ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}

	query, session := req.toDomain()
	answer, err := s.answers.Ask(r.Context(), query, session)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// streamEvent is one SSE payload. The first event carries answer
// metadata; subsequent events carry tokens.
type streamEvent struct {
	Token       string   `json:"token,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	HasEvidence *bool    `json:"hasEvidence,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// AskStream handles POST /ai/stream: the answer pipeline with generation
// tokens streamed as server-sent events, terminated by a [DONE] marker.
func (s *Server) AskStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}

	query, session := req.toDomain()
	prepared, err := s.answers.Prepare(r.Context(), query, session)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !prepared.Conversational {
		hasEvidence := prepared.HasEvidence
		writeSSE(w, streamEvent{Sources: prepared.Sources, HasEvidence: &hasEvidence})
		flusher.Flush()
	}

	var full []byte
	err = s.streamer.Stream(r.Context(), prepared.Messages, func(token string) error {
		full = append(full, token...)
		writeSSE(w, streamEvent{Token: token})
		flusher.Flush()
		return nil
	})
	if err != nil {
		logFromRequest(s.logger, r).Warn("stream generation failed", zap.Error(err))
		writeSSE(w, streamEvent{Error: "generation failed"})
	} else {
		s.answers.RecordExchange(req.SessionID, req.Query, string(full))
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type webSearchRequest struct {
	Query string `json:"query"`
}

// WebSearch handles POST /serp/search.
func (s *Server) WebSearch(w http.ResponseWriter, r *http.Request) {
	if !s.web.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "web_search_disabled", "web search is not configured")
		return
	}

	var req webSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}

	results, err := s.web.Search(r.Context(), req.Query)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type memoryResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []domain.Message `json:"messages"`
}

// GetMemory handles GET /memory/{session}.
func (s *Server) GetMemory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	writeJSON(w, http.StatusOK, memoryResponse{
		SessionID: sessionID,
		Messages:  s.memory.History(sessionID),
	})
}

// ClearMemory handles DELETE /memory/{session}.
func (s *Server) ClearMemory(w http.ResponseWriter, r *http.Request) {
	s.memory.Clear(chi.URLParam(r, "session"))
	w.WriteHeader(http.StatusNoContent)
}

// CacheStats handles GET /cache/stats.
func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// QueueStats handles GET /queue/stats.
func (s *Server) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

// IndexStats handles GET /stats.
func (s *Server) IndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.vectors.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "healthy"}
	status := "healthy"
	httpStatus := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		checks["database"] = "unhealthy"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.provider != nil {
		checks["provider"] = "healthy"
		if err := s.provider.HealthCheck(r.Context()); err != nil {
			checks["provider"] = "unhealthy"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, httpStatus, healthResponse{Status: status, Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logFromRequest(s.logger, r).Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	logFromRequest(s.logger, r).Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// safeDomainMessage returns a sentinel error message for the client
// without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrRateLimited,
		domain.ErrProviderError,
		domain.ErrTextTooShort,
		domain.ErrQueueClosed,
		domain.ErrSuperseded,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler matching a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeSSE(w http.ResponseWriter, event streamEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func logFromRequest(base *zap.Logger, r *http.Request) *zap.Logger {
	if id := chiMiddleware.GetReqID(r.Context()); id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}

// parseModified accepts RFC 3339 timestamps or unix seconds, matching
// what sync clients send.
func parseModified(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse modified %q: %w", s, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}
