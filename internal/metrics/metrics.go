package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for evaluation runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Engine
	DefinitionsEvaluated *prometheus.CounterVec
	UndefinedValues      *prometheus.CounterVec
	UnstableDefinitions  prometheus.Counter
	SortTrials           prometheus.Counter
	EvaluationDuration   prometheus.Histogram

	// Result sink
	RowsWritten   *prometheus.CounterVec
	WriteRetries  prometheus.Counter
	WriteFailures prometheus.Counter
	WriteDuration prometheus.Histogram

	// Subset membership cache
	SubsetCacheHits   prometheus.Counter
	SubsetCacheMisses prometheus.Counter
}

// New creates all collectors on a fresh registry, so several evaluators in
// one process (or one test binary) never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		DefinitionsEvaluated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankeval_definitions_evaluated_total",
				Help: "Number of metric definitions evaluated, per metric",
			},
			[]string{"metric"},
		),
		UndefinedValues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankeval_undefined_values_total",
				Help: "Number of metric values recorded as NULL because the input was degenerate",
			},
			[]string{"metric"},
		),
		UnstableDefinitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rankeval_unstable_definitions_total",
			Help: "Number of definitions whose worst and best values differed beyond tolerance",
		}),
		SortTrials: factory.NewCounter(prometheus.CounterOpts{
			Name: "rankeval_sort_trials_total",
			Help: "Number of stochastic tie-break trials run",
		}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rankeval_evaluation_duration_seconds",
			Help:    "Time spent evaluating all definitions for one matrix",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		RowsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankeval_rows_written_total",
				Help: "Number of evaluation rows inserted, per table",
			},
			[]string{"table"},
		),
		WriteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "rankeval_write_retries_total",
			Help: "Number of scope writes retried after a transient failure",
		}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rankeval_write_failures_total",
			Help: "Number of scope writes that failed permanently",
		}),
		WriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rankeval_write_duration_seconds",
			Help:    "Time spent replacing one scope, retries included",
			Buckets: prometheus.DefBuckets,
		}),

		SubsetCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "rankeval_subset_cache_hits_total",
			Help: "Number of subset membership lookups served from cache",
		}),
		SubsetCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "rankeval_subset_cache_misses_total",
			Help: "Number of subset membership lookups that went to the database",
		}),
	}
}

// ObserveDefinition counts one evaluated definition.
func (m *Metrics) ObserveDefinition(metric string, undefined bool) {
	if m == nil {
		return
	}
	m.DefinitionsEvaluated.WithLabelValues(metric).Inc()
	if undefined {
		m.UndefinedValues.WithLabelValues(metric).Inc()
	}
}

// ObserveTrials counts an unstable definition and the trials it ran.
func (m *Metrics) ObserveTrials(n int) {
	if m == nil {
		return
	}
	m.UnstableDefinitions.Inc()
	m.SortTrials.Add(float64(n))
}

// ObserveEvaluation records the wall time of one full evaluation.
func (m *Metrics) ObserveEvaluation(start time.Time) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(time.Since(start).Seconds())
}

// ObserveWrite records the outcome of one scope replacement.
func (m *Metrics) ObserveWrite(table string, rows int, start time.Time, err error) {
	if m == nil {
		return
	}
	m.WriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.WriteFailures.Inc()
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(rows))
}

// ObserveRetry counts one retried write attempt.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.WriteRetries.Inc()
}

// ObserveCache counts a subset cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SubsetCacheHits.Inc()
	} else {
		m.SubsetCacheMisses.Inc()
	}
}
