// Package api exposes the HTTP interface: query answering, crawl job
// management, and status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/config"
	"github.com/sitesage/sitesage/internal/convo"
	"github.com/sitesage/sitesage/internal/crawl"
	"github.com/sitesage/sitesage/internal/metrics"
	"github.com/sitesage/sitesage/internal/query"
	"github.com/sitesage/sitesage/internal/ratelimit"
	"github.com/sitesage/sitesage/internal/vector"
)

// DefaultNamespace scopes requests that do not name a namespace.
const DefaultNamespace = "default"

// IDGenerator mints job and session identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the crawler and query orchestrator.
type Server struct {
	router        chi.Router
	baseCtx       context.Context
	jobs          *crawl.JobStore
	crawler       *crawl.Crawler
	orchestrator  *query.Orchestrator
	limiter       *ratelimit.Limiter
	conversations *convo.Store
	vectors       vector.Store
	idGen         IDGenerator
	cfg           config.Config
	logger        *zap.Logger
}

// NewServer constructs a Server with middleware and routes. baseCtx bounds
// the lifetime of crawl jobs started by this server.
func NewServer(
	baseCtx context.Context,
	jobs *crawl.JobStore,
	crawler *crawl.Crawler,
	orchestrator *query.Orchestrator,
	limiter *ratelimit.Limiter,
	conversations *convo.Store,
	vectors vector.Store,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		baseCtx:       baseCtx,
		jobs:          jobs,
		crawler:       crawler,
		orchestrator:  orchestrator,
		limiter:       limiter,
		conversations: conversations,
		vectors:       vectors,
		idGen:         idGen,
		cfg:           cfg,
		logger:        logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/query", s.rateLimited("query", s.handleQuery))
		r.Post("/index", s.rateLimited("index", s.handleIndex))
		r.Get("/status", s.rateLimited("status", s.handleStatus))
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/status", s.rateLimited("status", s.handleJobStatus))
			r.Post("/cancel", s.rateLimited("index", s.handleJobCancel))
		})
		r.Delete("/conversations/{session_id}", s.rateLimited("query", s.handleDeleteConversation))
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// rateLimited wraps a handler with a fixed-window check for the operation
// class, keyed by the caller's credential.
func (s *Server) rateLimited(class string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision := s.limiter.Check(r.Context(), credentialOf(r), class)
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Namespace string `json:"namespace"`
}

type queryResponse struct {
	Answer    string         `json:"answer"`
	Sources   []query.Source `json:"sources"`
	SessionID string         `json:"session_id"`
	Cached    bool           `json:"cached"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Namespace == "" {
		req.Namespace = DefaultNamespace
	}
	if req.SessionID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session id generation failed")
			return
		}
		req.SessionID = id
	}

	answer, err := s.orchestrator.Answer(r.Context(), req.Namespace, req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, query.ErrUpstreamUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "upstream provider unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    answer.Text,
		Sources:   answer.Sources,
		SessionID: req.SessionID,
		Cached:    answer.Cached,
	})
}

type indexRequest struct {
	URL            string   `json:"url"`
	Namespace      string   `json:"namespace"`
	MaxDepth       int      `json:"max_depth"`
	MaxPages       int      `json:"max_pages"`
	AllowedDomains []string `json:"allowed_domains"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := crawl.NormalizeURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid url: %v", err))
		return
	}
	if req.Namespace == "" {
		req.Namespace = DefaultNamespace
	}
	if req.MaxDepth <= 0 {
		req.MaxDepth = s.cfg.Crawler.MaxDepthDefault
	}
	if req.MaxPages <= 0 {
		req.MaxPages = s.cfg.Crawler.MaxPagesDefault
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job id generation failed")
		return
	}
	job := crawl.Job{
		ID: jobID,
		Spec: crawl.JobSpec{
			RootURL:        req.URL,
			Namespace:      req.Namespace,
			MaxDepth:       req.MaxDepth,
			MaxPages:       req.MaxPages,
			AllowedDomains: req.AllowedDomains,
		},
	}
	if err := s.jobs.Create(job); err != nil {
		writeError(w, http.StatusInternalServerError, "job creation failed")
		return
	}

	// The crawl outlives this request; it is bounded by the server's base
	// context instead.
	go s.crawler.Run(s.baseCtx, job)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type jobStatusResponse struct {
	JobID     string          `json:"job_id"`
	Status    crawl.JobStatus `json:"status"`
	Namespace string          `json:"namespace"`
	RootURL   string          `json:"root_url"`
	Error     string          `json:"error,omitempty"`
	Counters  crawl.Counters  `json:"counters"`
	Submitted time.Time       `json:"submitted"`
	Started   *time.Time      `json:"started,omitempty"`
	Finished  *time.Time      `json:"finished,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobStatusResponse(job))
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawl.JobCanceled)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	status := "operational"
	fragments, err := s.vectors.Count(r.Context(), namespace)
	if err != nil {
		s.logger.Warn("vector store count failed", zap.Error(err))
		status = "degraded"
	}

	active := 0
	for _, job := range s.jobs.List() {
		if job.Status == crawl.JobQueued || job.Status == crawl.JobRunning {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"namespace":   namespace,
		"fragments":   fragments,
		"active_jobs": active,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := s.conversations.Delete(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toJobStatusResponse(job crawl.Job) jobStatusResponse {
	resp := jobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Namespace: job.Spec.Namespace,
		RootURL:   job.Spec.RootURL,
		Error:     job.Error,
		Counters:  job.Counters,
		Submitted: job.Submitted,
	}
	if !job.Started.IsZero() {
		started := job.Started
		resp.Started = &started
	}
	if !job.Finished.IsZero() {
		finished := job.Finished
		resp.Finished = &finished
	}
	return resp
}

// credentialOf identifies the caller for rate limiting: the API key when
// present, else the remote address.
func credentialOf(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
