// Package store persists translation pairs, the pipeline cursor and
// augmentation runs in Postgres.
package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"corpus-pipeline/internal/models"
)

var (
	// ErrNotFound is returned when a run id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCursorMoved is returned when the cursor no longer holds the
	// watermark the caller read.
	ErrCursorMoved = errors.New("pipeline cursor moved concurrently")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureCursor returns the cursor for jobName, creating it at -inf if absent.
func (s *Store) EnsureCursor(ctx context.Context, jobName string) (models.Cursor, error) {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_cursor (job_name, last_approved_at, last_id, updated_at)
		VALUES ($1, NULL, NULL, NOW())
		ON CONFLICT (job_name) DO NOTHING
	`, jobName); err != nil {
		return models.Cursor{}, errors.Wrap(err, "insert cursor")
	}

	var (
		c      = models.Cursor{JobName: jobName}
		lastAt pgtype.Timestamptz
		lastID pgtype.Int8
	)
	err := s.pool.QueryRow(ctx, `
		SELECT last_approved_at, last_id, updated_at FROM pipeline_cursor WHERE job_name = $1
	`, jobName).Scan(&lastAt, &lastID, &c.UpdatedAt)
	if err != nil {
		return models.Cursor{}, errors.Wrap(err, "select cursor")
	}
	c.Watermark = watermark(lastAt, lastID)
	return c, nil
}

// ExtractApproved returns approved pairs with a target text strictly after
// the watermark, ordered by (approved_at, id). limit <= 0 reads everything.
func (s *Store) ExtractApproved(ctx context.Context, after models.Watermark, limit int) ([]models.Row, error) {
	var lim *int64
	if limit > 0 {
		n := int64(limit)
		lim = &n
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tp.id, tp.source_text, tp.target_text, sl.iso_code, tl.iso_code, tp.created_at, tp.approved_at
		FROM translation_pairs tp
		JOIN languages sl ON sl.id = tp.source_language_id
		JOIN languages tl ON tl.id = tp.target_language_id
		WHERE tp.status = 'approved'
		  AND tp.target_text IS NOT NULL
		  AND ($1::timestamptz IS NULL
		       OR (tp.approved_at, tp.id) > ($1::timestamptz, COALESCE($2::bigint, 0)))
		ORDER BY tp.approved_at, tp.id
		LIMIT $3
	`, after.ApprovedAt, after.ID, lim)
	if err != nil {
		return nil, errors.Wrap(err, "query approved pairs")
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var r models.Row
		if err := rows.Scan(&r.ID, &r.SourceText, &r.TargetText, &r.SourceLang, &r.TargetLang, &r.CreatedAt, &r.ApprovedAt); err != nil {
			return nil, errors.Wrap(err, "scan pair")
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.ApprovedAt = r.ApprovedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate pairs")
	}
	return out, nil
}

// AdvanceCursor moves the job's watermark from -> to. It only succeeds
// when the stored watermark still equals from and to is strictly greater.
func (s *Store) AdvanceCursor(ctx context.Context, jobName string, from, to models.Watermark) error {
	if !from.Less(to) {
		return errors.Newf("cursor must move forward: %v -> %v", fmtWatermark(from), fmtWatermark(to))
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE pipeline_cursor
		SET last_approved_at = $2, last_id = $3, updated_at = NOW()
		WHERE job_name = $1
		  AND last_approved_at IS NOT DISTINCT FROM $4::timestamptz
		  AND last_id IS NOT DISTINCT FROM $5::bigint
	`, jobName, to.ApprovedAt, to.ID, from.ApprovedAt, from.ID)
	if err != nil {
		return errors.Wrap(err, "update cursor")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrCursorMoved, "job %s expected %s", jobName, fmtWatermark(from))
	}
	return errors.Wrap(tx.Commit(ctx), "commit cursor")
}

// CreateRunParams collects inputs required to insert a run.
type CreateRunParams struct {
	TriggeredBy string
	SampleSize  *int
}

// CreateRun inserts a queued run with a fresh id.
func (s *Store) CreateRun(ctx context.Context, p CreateRunParams) (models.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	triggeredBy := emptyToNil(p.TriggeredBy)

	var sample *int32
	if p.SampleSize != nil {
		n := int32(*p.SampleSize)
		sample = &n
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO augmentation_runs (id, status, triggered_by, sample_size, created_at, metrics)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb)
	`, id, models.RunQueued, triggeredBy, sample, now)
	if err != nil {
		return models.Run{}, errors.Wrap(err, "insert run")
	}
	return models.Run{
		ID:          id,
		Status:      models.RunQueued,
		TriggeredBy: triggeredBy,
		SampleSize:  p.SampleSize,
		CreatedAt:   now,
		Metrics:     models.Counts{},
	}, nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (models.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Run{}, errors.Wrapf(ErrNotFound, "run %q", id)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id::text, status, triggered_by, sample_size, created_at, started_at, finished_at,
		       runtime_seconds, metrics, artifact_path, error
		FROM augmentation_runs WHERE id = $1
	`, id)

	var (
		run         models.Run
		status      string
		triggeredBy pgtype.Text
		sample      pgtype.Int4
		started     pgtype.Timestamptz
		finished    pgtype.Timestamptz
		runtime     pgtype.Float8
		metrics     []byte
		artifact    pgtype.Text
		errText     pgtype.Text
	)
	err := row.Scan(&run.ID, &status, &triggeredBy, &sample, &run.CreatedAt, &started, &finished, &runtime, &metrics, &artifact, &errText)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, errors.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return models.Run{}, errors.Wrap(err, "scan run")
	}

	run.Status = models.RunStatus(status)
	run.TriggeredBy = textPtr(triggeredBy)
	if sample.Valid {
		n := int(sample.Int32)
		run.SampleSize = &n
	}
	run.StartedAt = timePtr(started)
	run.FinishedAt = timePtr(finished)
	if runtime.Valid {
		run.RuntimeSeconds = &runtime.Float64
	}
	run.ArtifactPath = textPtr(artifact)
	run.Error = textPtr(errText)
	run.Metrics = models.Counts{}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &run.Metrics); err != nil {
			return models.Run{}, errors.Wrap(err, "unmarshal metrics")
		}
	}
	return run, nil
}

// MarkRunning moves a queued run to running and stamps started_at.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE augmentation_runs SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.RunRunning, models.RunQueued)
	if err != nil {
		return errors.Wrap(err, "mark running")
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.RunRunning)
	}
	return nil
}

// RunOutcome is what a successful run records.
type RunOutcome struct {
	Metrics        models.Counts
	RuntimeSeconds float64
	ArtifactPath   string
}

// MarkSucceeded stores the outcome of a running run.
func (s *Store) MarkSucceeded(ctx context.Context, id string, out RunOutcome) error {
	metrics, err := json.Marshal(out.Metrics)
	if err != nil {
		return errors.Wrap(err, "marshal metrics")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE augmentation_runs
		SET status = $2, finished_at = NOW(), metrics = $3, runtime_seconds = $4, artifact_path = $5, error = NULL
		WHERE id = $1 AND status = $6
	`, id, models.RunSucceeded, metrics, out.RuntimeSeconds, emptyToNil(out.ArtifactPath), models.RunRunning)
	if err != nil {
		return errors.Wrap(err, "mark succeeded")
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.RunSucceeded)
	}
	return nil
}

// MarkFailed records the failure message of a running run.
func (s *Store) MarkFailed(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE augmentation_runs SET status = $2, finished_at = NOW(), error = $3
		WHERE id = $1 AND status = $4
	`, id, models.RunFailed, message, models.RunRunning)
	if err != nil {
		return errors.Wrap(err, "mark failed")
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.RunFailed)
	}
	return nil
}

// CountRuns returns how many runs are in the given status.
func (s *Store) CountRuns(ctx context.Context, status models.RunStatus) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM augmentation_runs WHERE status = $1
	`, status).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count runs")
	}
	return n, nil
}

func (s *Store) transitionError(ctx context.Context, id string, next models.RunStatus) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := models.CheckTransition(run.Status, next); err != nil {
		return errors.Wrapf(err, "run %s", id)
	}
	return errors.Wrapf(models.ErrInvalidTransition, "run %s changed concurrently", id)
}

func watermark(at pgtype.Timestamptz, id pgtype.Int8) models.Watermark {
	var w models.Watermark
	if at.Valid {
		t := at.Time.UTC()
		w.ApprovedAt = &t
	}
	if id.Valid {
		n := id.Int64
		w.ID = &n
	}
	return w
}

func fmtWatermark(w models.Watermark) string {
	if w.IsZero() {
		return "-inf"
	}
	id := int64(0)
	if w.ID != nil {
		id = *w.ID
	}
	return w.ApprovedAt.UTC().Format(time.RFC3339Nano) + "/" + strconv.FormatInt(id, 10)
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time.UTC()
		return &v
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
