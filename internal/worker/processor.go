// Package worker leases queued run ids and executes them one at a time per
// job name.
package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/logging"
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/pipeline"
	"corpus-pipeline/internal/queue"
	"corpus-pipeline/internal/store"
	"corpus-pipeline/internal/telemetry"
)

// LeaseExpired is recorded on runs whose worker stopped heartbeating.
const LeaseExpired = "lease expired"

const reclaimBatch = 100

// RunQueue is the lease-based run id queue.
type RunQueue interface {
	Enqueue(ctx context.Context, runID string) error
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, runID string, extension time.Duration) error
	Ack(ctx context.Context, runID string) error
	Schedule(ctx context.Context, runID string, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	ReclaimExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Locker guards a job name against concurrent runs.
type Locker interface {
	Acquire(ctx context.Context, jobName, owner string) error
	Refresh(ctx context.Context, jobName, owner string) error
	Release(ctx context.Context, jobName, owner string) error
}

// RunReader loads run rows.
type RunReader interface {
	GetRun(ctx context.Context, id string) (models.Run, error)
}

// Executor runs a queued run through its lifecycle.
type Executor interface {
	Execute(ctx context.Context, runID string, sampleSize int) (pipeline.Result, error)
	Fail(ctx context.Context, runID, reason string) error
}

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.Config
	queue    RunQueue
	lock     Locker
	runs     RunReader
	exec     Executor
	log      *zap.Logger
	workerID string
	now      func() time.Time
}

// NewProcessor creates a processor identified by workerID in lock ownership and logs.
func NewProcessor(cfg config.Config, q RunQueue, lock Locker, runs RunReader, exec Executor, log *zap.Logger, workerID string) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		lock:     lock,
		runs:     runs,
		exec:     exec,
		log:      log.With(zap.String(logging.FieldWorkerID, workerID)),
		workerID: workerID,
		now:      time.Now,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("worker started",
		zap.Duration("visibility", p.cfg.VisibilityTimeout),
		zap.Duration("lock_ttl", p.cfg.JobLockTTL))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		worked, err := p.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error("worker tick", zap.Error(err))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.WorkerPollInterval):
		}
	}
}

// Tick performs housekeeping and handles at most one run id. It reports
// whether a run id was dequeued.
func (p *Processor) Tick(ctx context.Context) (bool, error) {
	now := p.now()
	if _, err := p.queue.PromoteScheduled(ctx, now, reclaimBatch); err != nil {
		p.log.Warn("promote scheduled", zap.Error(err))
	}
	p.reclaim(ctx, now)
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	runID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, err
	}
	if runID == "" {
		return false, nil
	}
	return true, p.handle(ctx, runID)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	log := p.log.With(zap.String(logging.FieldRunID, runID))
	run, err := p.runs.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("dropping unknown run id")
		return p.queue.Ack(ctx, runID)
	}
	if err != nil {
		return errors.Wrapf(err, "load run %s", runID)
	}
	if run.Status != models.RunQueued {
		log.Warn("dropping run that is not queued", zap.String(logging.FieldStatus, string(run.Status)))
		return p.queue.Ack(ctx, runID)
	}

	jobName := p.cfg.Pipeline.JobName
	owner := p.workerID + "/" + runID
	if err := p.lock.Acquire(ctx, jobName, owner); err != nil {
		if !errors.Is(err, queue.ErrLocked) {
			return err
		}
		telemetry.LockContention.Inc()
		retryAt := p.now().Add(p.cfg.LockRetryDelay)
		log.Info("job busy, deferring run", zap.String(logging.FieldJobName, jobName), zap.Time("retry_at", retryAt))
		return p.queue.Schedule(ctx, runID, retryAt)
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.heartbeat(hbCtx, runID, jobName, owner)
	}()

	sampleSize := 0
	if run.SampleSize != nil {
		sampleSize = *run.SampleSize
	}
	_, execErr := p.exec.Execute(ctx, runID, sampleSize)

	stopHeartbeat()
	<-done

	cleanup := context.WithoutCancel(ctx)
	if err := p.lock.Release(cleanup, jobName, owner); err != nil {
		log.Warn("release job lock", zap.Error(err))
	}
	if err := p.queue.Ack(cleanup, runID); err != nil {
		log.Warn("ack run", zap.Error(err))
	}
	if execErr != nil {
		log.Info("run finished with error", zap.Error(execErr))
	}
	return nil
}

// heartbeat keeps the lease and job lock alive while a run executes.
func (p *Processor) heartbeat(ctx context.Context, runID, jobName, owner string) {
	interval := p.cfg.VisibilityTimeout / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, runID, p.cfg.VisibilityTimeout); err != nil {
				p.log.Warn("extend lease", zap.String(logging.FieldRunID, runID), zap.Error(err))
			}
			if err := p.lock.Refresh(ctx, jobName, owner); err != nil {
				p.log.Warn("refresh job lock", zap.String(logging.FieldRunID, runID), zap.Error(err))
			}
		}
	}
}

// reclaim settles runs whose lease expired. Runs that were started are
// failed; runs that never left queued go back on the ready list.
func (p *Processor) reclaim(ctx context.Context, now time.Time) {
	ids, err := p.queue.ReclaimExpired(ctx, now, reclaimBatch)
	if err != nil {
		p.log.Warn("reclaim expired", zap.Error(err))
		return
	}
	for _, id := range ids {
		log := p.log.With(zap.String(logging.FieldRunID, id))
		run, err := p.runs.GetRun(ctx, id)
		if err != nil {
			log.Warn("load expired run", zap.Error(err))
			continue
		}
		switch run.Status {
		case models.RunRunning:
			if err := p.exec.Fail(ctx, id, LeaseExpired); err != nil {
				log.Warn("fail expired run", zap.Error(err))
			}
		case models.RunQueued:
			if err := p.queue.Enqueue(ctx, id); err != nil {
				log.Warn("requeue expired run", zap.Error(err))
			}
		}
	}
}
