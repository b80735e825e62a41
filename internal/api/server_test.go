package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/ratelimit"
	"corpus-pipeline/internal/store"
)

type memStore struct {
	runs    map[string]models.Run
	created []store.CreateRunParams
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]models.Run{}}
}

func (m *memStore) CreateRun(_ context.Context, p store.CreateRunParams) (models.Run, error) {
	m.created = append(m.created, p)
	id := "run-" + string(rune('0'+len(m.created)))
	run := models.Run{ID: id, Status: models.RunQueued, SampleSize: p.SampleSize, CreatedAt: time.Now()}
	m.runs[id] = run
	return run, nil
}

func (m *memStore) GetRun(_ context.Context, id string) (models.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return models.Run{}, errors.Wrapf(store.ErrNotFound, "run %s", id)
	}
	return run, nil
}

func (m *memStore) transition(id string, next models.RunStatus) error {
	run := m.runs[id]
	if err := models.CheckTransition(run.Status, next); err != nil {
		return err
	}
	run.Status = next
	m.runs[id] = run
	return nil
}

func (m *memStore) MarkRunning(_ context.Context, id string) error {
	return m.transition(id, models.RunRunning)
}

func (m *memStore) MarkFailed(_ context.Context, id string, message string) error {
	if err := m.transition(id, models.RunFailed); err != nil {
		return err
	}
	run := m.runs[id]
	run.Error = &message
	m.runs[id] = run
	return nil
}

type memQueue struct {
	ids []string
	err error
}

func (q *memQueue) Enqueue(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 20 * time.Second}, nil
}

func newTestServer(t *testing.T, lim Limiter) (*memStore, *memQueue, http.Handler) {
	t.Helper()
	st := newMemStore()
	q := &memQueue{}
	cfg := config.Config{Pipeline: config.Pipeline{DefaultSampleSize: 50}}
	return st, q, New(cfg, st, q, lim, zaptest.NewLogger(t)).Router()
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTrigger_SampleDefaults(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *int
	}{
		{name: "empty body", body: "", want: intPtr(50)},
		{name: "sample only", body: `{"sample":true}`, want: intPtr(50)},
		{name: "explicit size", body: `{"sample_size":10}`, want: intPtr(10)},
		{name: "unbounded", body: `{"sample":false,"sample_size":10}`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, q, h := newTestServer(t, nil)
			rec := do(h, http.MethodPost, "/admin/augment", tt.body, map[string]string{"X-User-ID": "alice"})
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, true, resp["ok"])
			assert.Equal(t, "run-1", resp["runId"])

			require.Len(t, st.created, 1)
			assert.Equal(t, tt.want, st.created[0].SampleSize)
			assert.Equal(t, "alice", st.created[0].TriggeredBy)
			assert.Equal(t, []string{"run-1"}, q.ids)
		})
	}
}

func TestTrigger_RejectsBadInput(t *testing.T) {
	_, q, h := newTestServer(t, nil)
	rec := do(h, http.MethodPost, "/admin/augment", `{"sample_size":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/admin/augment", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, q.ids)
}

func TestTrigger_RateLimited(t *testing.T) {
	st, q, h := newTestServer(t, denyAll{})
	rec := do(h, http.MethodPost, "/admin/augment", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
	assert.Empty(t, st.created)
	assert.Empty(t, q.ids)
}

func TestTrigger_EnqueueFailureFailsRun(t *testing.T) {
	st, q, h := newTestServer(t, nil)
	q.err = errors.New("redis down")

	rec := do(h, http.MethodPost, "/admin/augment", `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	run := st.runs["run-1"]
	assert.Equal(t, models.RunFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "redis down")
}

func TestGetRun(t *testing.T) {
	st, _, h := newTestServer(t, nil)
	created := time.Date(2025, 8, 17, 12, 0, 0, 0, time.UTC)
	path := "data/processed/r1/pairs.jsonl"
	st.runs["r1"] = models.Run{
		ID:           "r1",
		Status:       models.RunSucceeded,
		CreatedAt:    created,
		StartedAt:    &created,
		FinishedAt:   &created,
		Metrics:      models.Counts{models.CountExported: 3, models.CountClean: 1},
		ArtifactPath: &path,
	}

	rec := do(h, http.MethodGet, "/admin/augment/r1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp["id"])
	assert.Equal(t, "succeeded", resp["status"])
	assert.Equal(t, path, resp["artifact_path"])
	assert.Equal(t, "2025-08-17T12:00:00Z", resp["created_at"])
	assert.Nil(t, resp["error"])
	assert.Equal(t, map[string]any{"exported": float64(3), "clean": float64(1)}, resp["metrics"])

	rec = do(h, http.MethodGet, "/admin/augment/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	_, _, h := newTestServer(t, nil)
	rec := do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func intPtr(n int) *int { return &n }
