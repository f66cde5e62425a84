// Package api exposes the HTTP interface for submitting and querying
// scrape jobs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/metrics"
	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Config controls the HTTP surface and admission policy.
type Config struct {
	// APIToken guards the /v1 routes. Empty disables authentication
	// (local development).
	APIToken string
	// RequestTimeout bounds one request end to end.
	RequestTimeout time.Duration
	// AdmissionDelay postpones the first delivery of a new job, letting
	// transient upstream state settle before the first fetch.
	AdmissionDelay time.Duration
	// MaxAttempts is the retry budget given to each enqueued message.
	MaxAttempts int
	// BackoffBase seeds the exponential backoff between retries.
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.AdmissionDelay <= 0 {
		c.AdmissionDelay = 25 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 10 * time.Second
	}
	return c
}

// JurisdictionChecker reports whether a jurisdiction code has a
// registered scraper strategy.
type JurisdictionChecker interface {
	Supports(code string) bool
}

// Server wires HTTP handlers to the stores and the work queue.
type Server struct {
	router  chi.Router
	jobs    nfce.JobStore
	results nfce.ResultStore
	queue   nfce.Queue
	checker JurisdictionChecker
	ids     nfce.IDGenerator
	clock   nfce.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs nfce.JobStore,
	results nfce.ResultStore,
	queue nfce.Queue,
	checker JurisdictionChecker,
	ids nfce.IDGenerator,
	clock nfce.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:    jobs,
		results: results,
		queue:   queue,
		checker: checker,
		ids:     ids,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(s.cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.APIToken != "" {
			r.Use(bearerTokenMiddleware(s.cfg.APIToken))
		}
		r.Route("/notas", func(r chi.Router) {
			r.Post("/", s.submitNota)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getNotaStatus)
				r.Post("/reprocess", s.reprocessNota)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	URL        string `json:"url"`
	WebhookURL string `json:"webhookUrl"`
}

func (s *Server) submitNota(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	normalized, err := nfce.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code, err := nfce.JurisdictionFromURL(normalized)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.checker != nil && !s.checker.Supports(code) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("jurisdiction %q: %s", code, nfce.ErrUnknownJurisdiction))
		return
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate job id")
		return
	}
	job := nfce.Job{
		ID:               jobID,
		URL:              req.URL,
		NormalizedURL:    normalized,
		JurisdictionCode: code,
		Status:           nfce.StatusPending,
		WebhookURL:       req.WebhookURL,
		OwnerTokenID:     ownerTokenID(r.Context()),
		CreatedAt:        s.clock.Now(),
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := s.enqueue(r.Context(), job, s.cfg.AdmissionDelay); err != nil {
		s.logger.Error("enqueue failed after ledger write",
			zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) getNotaStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, nfce.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}

	resp := map[string]any{
		"jobId":                job.ID,
		"status":               job.Status,
		"url":                  job.URL,
		"createdAt":            job.CreatedAt,
		"processingStartedAt":  job.ProcessingStartedAt,
		"processingEndedAt":    job.ProcessingEndedAt,
		"processingDurationMs": job.ProcessingDuration().Milliseconds(),
	}
	if job.LastErrorMessage != "" {
		resp["lastErrorMessage"] = job.LastErrorMessage
	}

	result, found, err := s.results.GetResultByJobID(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	}
	if found {
		resp["metadata"] = result.Payload
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reprocessNota(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	if err := s.jobs.ResetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, nfce.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	if err := s.enqueue(r.Context(), job, 0); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": string(nfce.StatusPending)})
}

func (s *Server) enqueue(ctx context.Context, job nfce.Job, delay time.Duration) error {
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := nfce.Message{
		JobID:            job.ID,
		URL:              job.NormalizedURL,
		JurisdictionCode: job.JurisdictionCode,
		WebhookURL:       job.WebhookURL,
		MaxAttempts:      s.cfg.MaxAttempts,
	}
	messageID, err := s.queue.Enqueue(queueCtx, msg, nfce.EnqueueOptions{
		Delay:       delay,
		MaxAttempts: s.cfg.MaxAttempts,
		BackoffBase: s.cfg.BackoffBase,
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	if err := s.jobs.SetQueueMessageID(ctx, job.ID, messageID); err != nil {
		return fmt.Errorf("store queue message id: %w", err)
	}
	return nil
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
