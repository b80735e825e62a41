// Package pipeline runs one incremental cleaning pass over newly approved
// translation pairs: extract past the cursor, normalize, filter, split,
// write artifacts, validate, and only then advance the cursor.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"corpus-pipeline/internal/artifact"
	"corpus-pipeline/internal/filter"
	"corpus-pipeline/internal/langid"
	"corpus-pipeline/internal/logging"
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/normalize"
	"corpus-pipeline/internal/split"
	"corpus-pipeline/internal/telemetry"
)

// ErrValidation marks a run whose output broke a post-run invariant.
var ErrValidation = errors.New("post-run validation failed")

// Source is the relational store as seen by the pipeline.
type Source interface {
	// EnsureCursor returns the job's cursor, creating it at -inf if absent.
	EnsureCursor(ctx context.Context, jobName string) (models.Cursor, error)
	// ExtractApproved returns approved pairs with a target text whose
	// (approved_at, id) exceeds after, ascending. limit <= 0 means no limit.
	ExtractApproved(ctx context.Context, after models.Watermark, limit int) ([]models.Row, error)
	// AdvanceCursor moves the watermark from -> to, failing if it is no longer at from.
	AdvanceCursor(ctx context.Context, jobName string, from, to models.Watermark) error
}

// Result summarizes a successful run.
type Result struct {
	Counts         models.Counts `json:"counts"`
	ArtifactPath   string        `json:"artifact_path"`
	RuntimeSeconds float64       `json:"runtime_seconds"`
	CardPath       string        `json:"card_path"`
}

// Orchestrator sequences the cleaning run for one job name. At most one
// RunOnce per job name may execute at a time; callers enforce that.
type Orchestrator struct {
	source Source
	sink   artifact.Sink
	params Params
	stages []filter.Stage
	log    *zap.Logger
	now    func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithStages replaces the default filter chain.
func WithStages(stages ...filter.Stage) Option {
	return func(o *Orchestrator) { o.stages = stages }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New validates params and builds an orchestrator.
func New(source Source, sink artifact.Sink, classifier langid.Classifier, params Params, log *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if err := params.Fractions.Validate(); err != nil {
		return nil, err
	}
	if params.JobName == "" {
		return nil, errors.New("pipeline: job name is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		source: source,
		sink:   sink,
		params: params,
		log:    log,
		now:    time.Now,
	}
	if classifier != nil {
		o.stages = DefaultStages(params, classifier)
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.stages) == 0 {
		return nil, errors.New("pipeline: no filter stages configured")
	}
	return o, nil
}

// RunOnce processes one bounded window. It returns an error wrapping
// ErrValidation when the written output breaks an invariant; in that case
// the artifacts stay on disk and the cursor is not moved.
func (o *Orchestrator) RunOnce(ctx context.Context, runID string, sampleSize int) (Result, error) {
	started := o.now()
	log := o.log.With(zap.String(logging.FieldRunID, runID), zap.String(logging.FieldJobName, o.params.JobName))

	cursor, err := o.source.EnsureCursor(ctx, o.params.JobName)
	if err != nil {
		return Result{}, errors.Wrap(err, "load cursor")
	}
	batch, err := o.source.ExtractApproved(ctx, cursor.Watermark, sampleSize)
	if err != nil {
		return Result{}, errors.Wrap(err, "extract approved pairs")
	}
	log.Info("extracted batch", zap.Int(logging.FieldCount, len(batch)), zap.Any(logging.FieldWatermark, cursor.Watermark))

	counts := models.Counts{models.CountExported: len(batch)}
	rows := normalize.Rows(batch)

	w := &writer{ctx: ctx, sink: o.sink, dir: runID}
	for _, st := range o.stages {
		res := st.Apply(rows)
		counts.Merge(res.Stats)
		log.Info("stage done",
			zap.String(logging.FieldStage, st.Name()),
			zap.Int(logging.FieldKept, len(res.Kept)),
			zap.Int(logging.FieldDropped, len(res.Drops)))
		if len(res.Drops) > 0 {
			w.jsonl("drops_"+st.Name()+".jsonl", res.Drops)
		}
		w.json("_stats_"+st.Name()+".json", nonNil(res.Stats))
		rows = res.Kept
	}
	counts[models.CountClean] = len(rows)
	artifactPath := w.jsonl("pairs.jsonl", rows)

	splits, err := split.Rows(rows, o.params.SplitSeed, o.params.Fractions)
	if err != nil {
		return Result{}, err
	}
	for _, name := range split.Names {
		w.jsonl(name+".jsonl", splits[name])
	}

	window := CardWindow{From: cursor.Watermark}
	if len(batch) > 0 {
		to := batch[len(batch)-1].Watermark()
		window.To = &to
	}
	card := newCard(runID, started.UTC().Format(time.RFC3339), o.params, sampleSize, counts, rows, splits, window)
	cardPath := w.json("_card.json", card)
	if w.err != nil {
		return Result{}, w.err
	}

	report := Validate(rows, counts, splits)
	if extra := checkWindow(cursor.Watermark, batch); len(extra) > 0 {
		report.Issues = append(report.Issues, extra...)
		report.OK = false
	}
	w.json("_validate.json", report)
	if w.err != nil {
		return Result{}, w.err
	}
	telemetry.ObserveCounts(counts)
	if !report.OK {
		log.Error("validation failed", zap.Strings("issues", report.Issues))
		return Result{}, errors.Wrapf(ErrValidation, "%d issue(s):\n%s", len(report.Issues), strings.Join(report.Issues, "\n"))
	}

	if window.To != nil {
		if err := o.source.AdvanceCursor(ctx, o.params.JobName, cursor.Watermark, *window.To); err != nil {
			return Result{}, errors.Wrap(err, "advance cursor")
		}
		log.Info("cursor advanced", zap.Any("from", cursor.Watermark), zap.Any("to", *window.To))
	}

	runtime := o.now().Sub(started).Seconds()
	return Result{
		Counts:         counts,
		ArtifactPath:   artifactPath,
		RuntimeSeconds: math.Round(runtime*100) / 100,
		CardPath:       cardPath,
	}, nil
}

// writer stores artifacts under the run directory and keeps the first error.
type writer struct {
	ctx  context.Context
	sink artifact.Sink
	dir  string
	err  error
}

func (w *writer) jsonl(name string, items any) string {
	if w.err != nil {
		return ""
	}
	var loc string
	switch v := items.(type) {
	case []models.Row:
		loc, w.err = artifact.PutJSONL(w.ctx, w.sink, path.Join(w.dir, name), v)
	case []models.Drop:
		loc, w.err = artifact.PutJSONL(w.ctx, w.sink, path.Join(w.dir, name), v)
	default:
		w.err = errors.Newf("unsupported jsonl payload %T", items)
	}
	if w.err != nil {
		w.err = errors.Wrapf(w.err, "write %s", name)
	}
	return loc
}

func (w *writer) json(name string, v any) string {
	if w.err != nil {
		return ""
	}
	loc, err := artifact.PutJSON(w.ctx, w.sink, path.Join(w.dir, name), v)
	if err != nil {
		w.err = errors.Wrapf(err, "write %s", name)
	}
	return loc
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

// FormatWatermark renders a watermark for logs and CLI output.
func FormatWatermark(w models.Watermark) string {
	if w.IsZero() {
		return "-inf"
	}
	id := int64(0)
	if w.ID != nil {
		id = *w.ID
	}
	return fmt.Sprintf("(%s, %d)", w.ApprovedAt.UTC().Format(time.RFC3339Nano), id)
}
