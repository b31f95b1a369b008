package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

var (
	runsFinished = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Number of finished sync runs, differentiated by kind and terminal status.",
		},
		[]string{"kind", "status"},
	)

	recordsHandled = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Number of records handled by sync runs, differentiated by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// observeRun feeds one finished run into the Prometheus counters.
func observeRun(kind models.SyncKind, status models.RunStatus, stats models.SyncStats) {
	runsFinished.WithLabelValues(string(kind), string(status)).Inc()

	recordsHandled.WithLabelValues(string(kind), "created").Add(float64(stats.Created))
	recordsHandled.WithLabelValues(string(kind), "updated").Add(float64(stats.Updated))
	recordsHandled.WithLabelValues(string(kind), "skipped").Add(float64(stats.Skipped))
	recordsHandled.WithLabelValues(string(kind), "failed").Add(float64(stats.Failed))
}
