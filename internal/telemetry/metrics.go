package telemetry

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"corpus-pipeline/internal/models"
)

var (
	once sync.Once

	RunsTriggered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_runs_triggered_total", Help: "Runs created via the trigger API"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_trigger_rate_limit_rejects_total", Help: "Trigger requests rejected by rate limiter"})
	RunsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_runs_started_total", Help: "Runs moved to running"})
	RunsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_runs_succeeded_total", Help: "Runs that finished and validated"})
	RunsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_runs_failed_total", Help: "Runs that failed, including validation failures"})
	LockContention   = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_job_lock_contention_total", Help: "Runs deferred because another run held the job lock"})
	RowsExported     = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_rows_exported_total", Help: "Rows read past the cursor"})
	RowsClean        = prometheus.NewCounter(prometheus.CounterOpts{Name: "corpus_rows_clean_total", Help: "Rows surviving every filter"})
	RowsDropped      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "corpus_rows_dropped_total", Help: "Rows dropped by reason"}, []string{"reason"})
	RunDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "corpus_run_duration_seconds", Help: "Wall time of run_once", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "corpus_run_queue_depth", Help: "Queued run ids waiting for a worker"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "corpus_runs_inflight", Help: "Runs currently leased by a worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}

func register() {
	once.Do(func() {
		prometheus.MustRegister(
			RunsTriggered,
			RateLimitRejects,
			RunsStarted,
			RunsSucceeded,
			RunsFailed,
			LockContention,
			RowsExported,
			RowsClean,
			RowsDropped,
			RunDuration,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
}

// ObserveCounts records the row accounting of a finished run.
func ObserveCounts(c models.Counts) {
	RowsExported.Add(float64(c[models.CountExported]))
	RowsClean.Add(float64(c[models.CountClean]))
	for _, k := range c.DropReasons() {
		RowsDropped.WithLabelValues(strings.TrimPrefix(k, "dropped_")).Add(float64(c[k]))
	}
}
