// Package metrics exposes Prometheus collectors for the unit of work and
// the migration runner.
//
// Collectors are registered on a caller-supplied Registerer so tests and
// embedding applications control exposure. All methods are safe on a nil
// *Metrics, which records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "uow"
)

// Metrics holds the collectors.
type Metrics struct {
	savedEntities     *prometheus.CounterVec
	saveDuration      prometheus.Histogram
	unchangedSkipped  prometheus.Counter
	trackingOverflows *prometheus.CounterVec
	migrationsApplied *prometheus.CounterVec
	migrationDuration prometheus.Histogram
	migrationFailures prometheus.Counter
}

// New creates the collectors and registers them on reg. Registering twice
// on the same Registerer panics, as with promauto.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		savedEntities: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracking",
				Name:      "saved_entities_total",
				Help:      "Total number of entities written by SaveChanges",
			},
			[]string{"collection"},
		),
		saveDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tracking",
				Name:      "save_duration_seconds",
				Help:      "Duration of SaveChanges calls that wrote at least one entity",
				Buckets:   prometheus.DefBuckets,
			},
		),
		unchangedSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracking",
				Name:      "unchanged_skipped_total",
				Help:      "Total number of tracked entities skipped because they were unchanged",
			},
		),
		trackingOverflows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracking",
				Name:      "overflows_total",
				Help:      "Total number of attaches beyond the per-root tracking limit",
			},
			[]string{"root"},
		),
		migrationsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "migrations",
				Name:      "applied_total",
				Help:      "Total number of migrations applied",
			},
			[]string{"number"},
		),
		migrationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "migrations",
				Name:      "duration_seconds",
				Help:      "Duration of applied migrations",
				Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 600},
			},
		),
		migrationFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "migrations",
				Name:      "failures_total",
				Help:      "Total number of migrations that failed and were rolled back",
			},
		),
	}
}

// EntitiesSaved records n entities written to collection.
func (m *Metrics) EntitiesSaved(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.savedEntities.WithLabelValues(collection).Add(float64(n))
}

// SaveDuration records the duration of one SaveChanges call.
func (m *Metrics) SaveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.saveDuration.Observe(d.Seconds())
}

// UnchangedSkipped records n tracked entities that needed no write.
func (m *Metrics) UnchangedSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unchangedSkipped.Add(float64(n))
}

// TrackingOverflow records an attach beyond the tracking limit of root.
func (m *Metrics) TrackingOverflow(root string) {
	if m == nil {
		return
	}
	m.trackingOverflows.WithLabelValues(root).Inc()
}

// MigrationApplied records a successful migration.
func (m *Metrics) MigrationApplied(number int64, d time.Duration) {
	if m == nil {
		return
	}
	m.migrationsApplied.WithLabelValues(strconv.FormatInt(number, 10)).Inc()
	m.migrationDuration.Observe(d.Seconds())
}

// MigrationFailed records a rolled-back migration.
func (m *Metrics) MigrationFailed() {
	if m == nil {
		return
	}
	m.migrationFailures.Inc()
}
