// Package tracker drives a run through queued -> running -> succeeded|failed
// around one orchestrator invocation.
package tracker

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"corpus-pipeline/internal/logging"
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/pipeline"
	"corpus-pipeline/internal/store"
	"corpus-pipeline/internal/telemetry"
)

// RunStore persists run state transitions.
type RunStore interface {
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string, out store.RunOutcome) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// Runner executes one cleaning pass.
type Runner interface {
	RunOnce(ctx context.Context, runID string, sampleSize int) (pipeline.Result, error)
}

// Tracker records the lifecycle of runs it executes.
type Tracker struct {
	store      RunStore
	runner     Runner
	log        *zap.Logger
	errorLimit int
	// finalizeTimeout bounds the terminal write after the run context is gone.
	finalizeTimeout time.Duration
}

func New(st RunStore, runner Runner, log *zap.Logger, errorLimit int) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if errorLimit <= 0 {
		errorLimit = 4000
	}
	return &Tracker{
		store:           st,
		runner:          runner,
		log:             log,
		errorLimit:      errorLimit,
		finalizeTimeout: 10 * time.Second,
	}
}

// Execute runs the pipeline for a queued run and records the outcome. The
// returned error is the run failure, already persisted, or a bookkeeping
// error if the run could not be moved to running.
func (t *Tracker) Execute(ctx context.Context, runID string, sampleSize int) (pipeline.Result, error) {
	log := t.log.With(zap.String(logging.FieldRunID, runID))
	if err := t.store.MarkRunning(ctx, runID); err != nil {
		return pipeline.Result{}, errors.Wrap(err, "start run")
	}
	telemetry.RunsStarted.Inc()
	log.Info("run started", zap.Int("sample_size", sampleSize))

	started := time.Now()
	res, runErr := t.runner.RunOnce(ctx, runID, sampleSize)
	telemetry.RunDuration.Observe(time.Since(started).Seconds())

	// The run context may already be cancelled; terminal state must still land.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.finalizeTimeout)
	defer cancel()

	if runErr != nil {
		msg := Truncate(fmt.Sprintf("%+v", runErr), t.errorLimit)
		if err := t.store.MarkFailed(fctx, runID, msg); err != nil {
			log.Error("record failure", zap.Error(err))
			return pipeline.Result{}, errors.CombineErrors(runErr, err)
		}
		telemetry.RunsFailed.Inc()
		log.Error("run failed", zap.Error(runErr))
		return pipeline.Result{}, runErr
	}

	if err := t.store.MarkSucceeded(fctx, runID, store.RunOutcome{
		Metrics:        res.Counts,
		RuntimeSeconds: res.RuntimeSeconds,
		ArtifactPath:   res.ArtifactPath,
	}); err != nil {
		log.Error("record success", zap.Error(err))
		return pipeline.Result{}, errors.Wrap(err, "finish run")
	}
	telemetry.RunsSucceeded.Inc()
	log.Info("run succeeded",
		zap.String(logging.FieldPath, res.ArtifactPath),
		zap.Int(logging.FieldKept, res.Counts[models.CountClean]),
		zap.Float64("runtime_seconds", res.RuntimeSeconds))
	return res, nil
}

// Fail moves a running run to failed without executing anything.
func (t *Tracker) Fail(ctx context.Context, runID, reason string) error {
	if err := t.store.MarkFailed(ctx, runID, Truncate(reason, t.errorLimit)); err != nil {
		return err
	}
	telemetry.RunsFailed.Inc()
	t.log.Warn("run failed", zap.String(logging.FieldRunID, runID), zap.String("reason", reason))
	return nil
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
