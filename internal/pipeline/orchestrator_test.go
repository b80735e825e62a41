package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"corpus-pipeline/internal/artifact"
	"corpus-pipeline/internal/filter"
	"corpus-pipeline/internal/langid"
	"corpus-pipeline/internal/models"
	"corpus-pipeline/internal/split"
)

type memSource struct {
	rows     []models.Row
	cursors  map[string]models.Cursor
	advances int
}

func newMemSource(rows ...models.Row) *memSource {
	return &memSource{rows: rows, cursors: map[string]models.Cursor{}}
}

func (m *memSource) EnsureCursor(_ context.Context, job string) (models.Cursor, error) {
	c, ok := m.cursors[job]
	if !ok {
		c = models.Cursor{JobName: job}
		m.cursors[job] = c
	}
	return c, nil
}

func (m *memSource) ExtractApproved(_ context.Context, after models.Watermark, limit int) ([]models.Row, error) {
	sorted := append([]models.Row(nil), m.rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Watermark().Less(sorted[j].Watermark()) })
	var out []models.Row
	for _, r := range sorted {
		if !after.Admits(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memSource) AdvanceCursor(_ context.Context, job string, from, to models.Watermark) error {
	c := m.cursors[job]
	if from.Less(c.Watermark) || c.Watermark.Less(from) {
		return errors.New("cursor moved")
	}
	c.Watermark = to
	m.cursors[job] = c
	m.advances++
	return nil
}

type englishClassifier struct{}

func (englishClassifier) Supports(lang string) bool { return lang == "en" || lang == "fr" }

func (englishClassifier) Classify(string) langid.Detection {
	return langid.Detection{Label: "en", Prob: 0.99, Margin: 0.98}
}

var base = time.Date(2025, 8, 17, 12, 0, 0, 0, time.UTC)

func pair(id int64, src, tgt string, approvedOffset time.Duration) models.Row {
	return models.Row{
		ID:         id,
		SourceText: src,
		TargetText: tgt,
		SourceLang: "en",
		TargetLang: "byv",
		CreatedAt:  base.Add(-time.Hour),
		ApprovedAt: base.Add(approvedOffset),
	}
}

func testParams() Params {
	return Params{
		JobName:             "pipeline_clean",
		LangIDMinProb:       0.55,
		LangIDMinMargin:     0.20,
		SkipShortWords:      3,
		SkipSymboly:         true,
		LenLow:              0.33,
		LenHigh:             3.0,
		SkipLenCheckIfShort: 3,
		DupNearJaccard:      0.9,
		DupNearKey:          filter.KeySource,
		SplitSeed:           42,
		Fractions:           split.Default,
	}
}

func newTestOrchestrator(t *testing.T, src Source, opts ...Option) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	o, err := New(src, artifact.NewLocalSink(dir), englishClassifier{}, testParams(), zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return o, dir
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestRunOnce_EndToEndScenario(t *testing.T) {
	src := newMemSource(
		pair(1, "Hello", "Mba", 1*time.Second),
		pair(2, "Hello", "Mba", 2*time.Second),
		pair(3, "", "x", 3*time.Second),
	)
	o, dir := newTestOrchestrator(t, src)

	res, err := o.RunOnce(context.Background(), "run-1", 50)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Counts[models.CountExported])
	assert.Equal(t, 1, res.Counts[models.CountClean])
	assert.Equal(t, 1, res.Counts[models.CountDroppedDup])
	assert.Equal(t, 1, res.Counts[models.CountDroppedEmpty])
	assert.Equal(t, res.Counts[models.CountExported], res.Counts[models.CountClean]+res.Counts.Dropped())
	assert.Equal(t, filepath.Join(dir, "run-1", "pairs.jsonl"), res.ArtifactPath)
	assert.Equal(t, filepath.Join(dir, "run-1", "_card.json"), res.CardPath)

	for _, name := range []string{"pairs.jsonl", "drops_bad.jsonl", "_stats_bad.json", "_stats_lang.json", "_stats_dup_near.json", "train.jsonl", "dev.jsonl", "test.jsonl", "_validate.json", "_card.json"} {
		assert.FileExists(t, filepath.Join(dir, "run-1", name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "run-1", "drops_lang.jsonl"))
	assert.NoFileExists(t, filepath.Join(dir, "run-1", "drops_dup_near.jsonl"))

	var report Report
	readJSON(t, filepath.Join(dir, "run-1", "_validate.json"), &report)
	assert.True(t, report.OK)
	assert.Empty(t, report.Issues)

	var card Card
	readJSON(t, res.CardPath, &card)
	assert.Equal(t, "run-1", card.RunID)
	assert.Equal(t, []string{"en"}, card.Langs.Source)
	assert.Equal(t, []string{"byv"}, card.Langs.Target)
	assert.Equal(t, []float64{0.8, 0.1, 0.1}, card.Splits.Frac)
	require.NotNil(t, card.Modes.SampleSize)
	assert.Equal(t, 50, *card.Modes.SampleSize)

	cur := src.cursors["pipeline_clean"].Watermark
	require.False(t, cur.IsZero())
	assert.Equal(t, int64(3), *cur.ID)
	assert.True(t, cur.ApprovedAt.Equal(base.Add(3*time.Second)))
}

func TestRunOnce_CursorMonotonicAndIdempotentReread(t *testing.T) {
	src := newMemSource(
		pair(1, "one two three", "a b c", time.Second),
		pair(2, "four five six", "d e f", time.Second),
		pair(3, "seven eight nine", "g h i", 2*time.Second),
	)
	o, _ := newTestOrchestrator(t, src)
	ctx := context.Background()

	res, err := o.RunOnce(ctx, "run-a", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Counts[models.CountExported])
	first := src.cursors["pipeline_clean"].Watermark
	assert.Equal(t, int64(2), *first.ID)

	res, err = o.RunOnce(ctx, "run-b", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts[models.CountExported])
	second := src.cursors["pipeline_clean"].Watermark
	assert.True(t, first.Less(second))
	assert.Equal(t, int64(3), *second.ID)

	res, err = o.RunOnce(ctx, "run-c", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Counts[models.CountExported])
	assert.Equal(t, second, src.cursors["pipeline_clean"].Watermark)
	assert.Equal(t, 2, src.advances)
}

func TestRunOnce_AllDroppedStillAdvances(t *testing.T) {
	src := newMemSource(pair(1, "", "", time.Second))
	o, _ := newTestOrchestrator(t, src)

	res, err := o.RunOnce(context.Background(), "run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Counts[models.CountClean])
	assert.Equal(t, int64(1), *src.cursors["pipeline_clean"].Watermark.ID)
}

type passthrough struct{}

func (passthrough) Name() string { return "passthrough" }

func (passthrough) Apply(rows []models.Row) filter.Result {
	return filter.Result{Kept: rows, Stats: map[string]int{}}
}

func TestRunOnce_ValidationFailureLeavesCursor(t *testing.T) {
	src := newMemSource(
		pair(1, "Hello", "Mba", time.Second),
		pair(2, "Hello", "Mba", 2*time.Second),
	)
	o, dir := newTestOrchestrator(t, src, WithStages(passthrough{}))

	_, err := o.RunOnce(context.Background(), "run-bad", 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Residual duplicate")

	assert.True(t, src.cursors["pipeline_clean"].Watermark.IsZero())
	assert.Zero(t, src.advances)

	var report Report
	readJSON(t, filepath.Join(dir, "run-bad", "_validate.json"), &report)
	assert.False(t, report.OK)
	assert.NotEmpty(t, report.Issues)
	assert.FileExists(t, filepath.Join(dir, "run-bad", "pairs.jsonl"))
}

func TestNew_RejectsBadFractions(t *testing.T) {
	p := testParams()
	p.Fractions = split.Fractions{Train: 0.9, Dev: 0.2}
	_, err := New(newMemSource(), artifact.NewLocalSink(t.TempDir()), englishClassifier{}, p, nil)
	assert.ErrorIs(t, err, split.ErrInvalidFractions)
}
