package models

import (
	"time"

	"github.com/cockroachdb/errors"
)

// RunStatus enumerates augmentation run lifecycle states persisted in Postgres.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ErrInvalidTransition is returned when a run status change is not allowed.
var ErrInvalidTransition = errors.New("invalid run status transition")

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunQueued:
		return next == RunRunning
	case RunRunning:
		return next == RunSucceeded || next == RunFailed
	default:
		return false
	}
}

// CheckTransition returns ErrInvalidTransition with context when s cannot move to next.
func CheckTransition(s, next RunStatus) error {
	if !s.CanTransition(next) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", s, next)
	}
	return nil
}

// Run is one invocation of the cleaning pipeline.
type Run struct {
	ID             string     `json:"id"`
	Status         RunStatus  `json:"status"`
	TriggeredBy    *string    `json:"triggered_by,omitempty"`
	SampleSize     *int       `json:"sample_size,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	RuntimeSeconds *float64   `json:"runtime_seconds,omitempty"`
	Metrics        Counts     `json:"metrics"`
	ArtifactPath   *string    `json:"artifact_path"`
	Error          *string    `json:"error"`
}
