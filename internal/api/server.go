// Package api exposes the run trigger surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/logging"
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/ratelimit"
	"corpus-pipeline/internal/store"
	"corpus-pipeline/internal/telemetry"
)

// RunStore creates and reads run rows.
type RunStore interface {
	CreateRun(ctx context.Context, p store.CreateRunParams) (models.Run, error)
	GetRun(ctx context.Context, id string) (models.Run, error)
	MarkRunning(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// Enqueuer hands run ids to workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID string) error
}

// Limiter throttles triggers per user.
type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the trigger API.
type Server struct {
	cfg     config.Config
	store   RunStore
	queue   Enqueuer
	limiter Limiter
	log     *zap.Logger
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, st RunStore, q Enqueuer, limiter Limiter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/admin/augment", func(r chi.Router) {
		r.Post("/", s.handleTrigger)
		r.Get("/{id}", s.handleGetRun)
	})
	return r
}

type triggerRequest struct {
	Sample     *bool `json:"sample"`
	SampleSize *int  `json:"sample_size"`
}

type triggerResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"runId"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sampleSize, err := s.resolveSampleSize(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := userFromRequest(r)
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), user)
		if err != nil {
			s.log.Error("rate limiter", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	run, err := s.store.CreateRun(r.Context(), store.CreateRunParams{TriggeredBy: user, SampleSize: sampleSize})
	if err != nil {
		s.log.Error("create run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	log := s.log.With(zap.String(logging.FieldRunID, run.ID))

	if err := s.queue.Enqueue(r.Context(), run.ID); err != nil {
		log.Error("enqueue run", zap.Error(err))
		s.abandon(r.Context(), run.ID, err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	telemetry.RunsTriggered.Inc()
	log.Info("run queued", zap.String("triggered_by", user))
	writeJSON(w, http.StatusAccepted, triggerResponse{OK: true, RunID: run.ID})
}

// abandon fails a run that never reached the queue so it does not stay queued forever.
func (s *Server) abandon(ctx context.Context, runID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.MarkRunning(ctx, runID); err != nil {
		s.log.Warn("abandon run", zap.String(logging.FieldRunID, runID), zap.Error(err))
		return
	}
	if err := s.store.MarkFailed(ctx, runID, "enqueue failed: "+cause.Error()); err != nil {
		s.log.Warn("abandon run", zap.String(logging.FieldRunID, runID), zap.Error(err))
	}
}

func (s *Server) resolveSampleSize(req triggerRequest) (*int, error) {
	if req.Sample != nil && !*req.Sample {
		return nil, nil
	}
	if req.SampleSize == nil {
		n := s.cfg.Pipeline.DefaultSampleSize
		return &n, nil
	}
	if *req.SampleSize <= 0 {
		return nil, errors.New("sample_size must be positive")
	}
	return req.SampleSize, nil
}

type runResponse struct {
	ID           string           `json:"id"`
	Status       models.RunStatus `json:"status"`
	Metrics      models.Counts    `json:"metrics"`
	ArtifactPath *string          `json:"artifact_path"`
	CreatedAt    string           `json:"created_at"`
	StartedAt    *string          `json:"started_at"`
	FinishedAt   *string          `json:"finished_at"`
	Error        *string          `json:"error"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.log.Error("get run", zap.String(logging.FieldRunID, id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func toRunResponse(run models.Run) runResponse {
	metrics := run.Metrics
	if metrics == nil {
		metrics = models.Counts{}
	}
	return runResponse{
		ID:           run.ID,
		Status:       run.Status,
		Metrics:      metrics,
		ArtifactPath: run.ArtifactPath,
		CreatedAt:    isoTime(run.CreatedAt),
		StartedAt:    isoTimePtr(run.StartedAt),
		FinishedAt:   isoTimePtr(run.FinishedAt),
		Error:        run.Error,
	}
}

func userFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
