package metrics

import (
	"github.com/V4T54L/fuel-importer/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ImporterMetrics holds all Prometheus metrics for the importer service.
type ImporterMetrics struct {
	RunsTotal            *prometheus.CounterVec
	StageFailures        *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	RecordsTotal         *prometheus.CounterVec
	EventsTotal          prometheus.Counter
	TicksSkipped         prometheus.Counter
	LastSuccess          prometheus.Gauge
	ProcessedIDCacheHits prometheus.Counter
	ProcessedIDCacheMiss prometheus.Counter
}

// NewImporterMetrics initializes the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewImporterMetrics(reg prometheus.Registerer) *ImporterMetrics {
	factory := promauto.With(reg)
	return &ImporterMetrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of import runs by status.",
		}, []string{"status"}), // status: succeeded, empty, failed, skipped
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "run",
			Name:      "stage_failures_total",
			Help:      "Total number of failed runs by failing stage.",
		}, []string{"stage"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fuel_importer",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of import runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Upstream records seen by the pipeline by outcome.",
		}, []string{"outcome"}), // outcome: fetched, parsed, rejected, fresh
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total number of consolidated events persisted.",
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because a run was still in flight.",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel_importer",
			Subsystem: "run",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without error.",
		}),
		ProcessedIDCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "dedup",
			Name:      "cache_hits_total",
			Help:      "Processed ids answered from the local cache.",
		}),
		ProcessedIDCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_importer",
			Subsystem: "dedup",
			Name:      "cache_misses_total",
			Help:      "Processed ids looked up in the database.",
		}),
	}
}

// ObserveRun records the outcome of one run. It is a no-op on a nil receiver.
func (m *ImporterMetrics) ObserveRun(report domain.RunReport) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(report.Status)).Inc()
	if report.Status == domain.RunSkipped {
		return
	}
	m.RunDuration.Observe(report.Duration().Seconds())
	m.RecordsTotal.WithLabelValues("fetched").Add(float64(report.Fetched))
	m.RecordsTotal.WithLabelValues("parsed").Add(float64(report.Parsed))
	m.RecordsTotal.WithLabelValues("rejected").Add(float64(report.Rejected))
	m.RecordsTotal.WithLabelValues("fresh").Add(float64(report.Fresh))

	if report.Status == domain.RunFailed {
		m.StageFailures.WithLabelValues(string(report.Stage)).Inc()
		return
	}
	m.EventsTotal.Add(float64(report.Events))
	m.LastSuccess.Set(float64(report.FinishedAt.Unix()))
}
