package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the engine and service
type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec // by outcome: done, failed
	ValidationErrors *prometheus.CounterVec // by field
	CacheHits        prometheus.Counter
	StoreErrors      prometheus.Counter
	JournalErrors    prometheus.Counter
	RateLimited      prometheus.Counter

	MetricEvaluations *prometheus.CounterVec // by metric and status
	MetricFailures    *prometheus.CounterVec // by metric
	RiskLevels        *prometheus.CounterVec // by level
	SkippedCombos     prometheus.Counter
	CellsAnalyzed     *prometheus.CounterVec // by status

	Disparity        *prometheus.HistogramVec
	AnalysisDuration prometheus.Histogram
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		AnalysesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairmind_analyses_total",
				Help: "Total number of bias analyses by terminal state",
			},
			[]string{"outcome"},
		),
		ValidationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairmind_validation_errors_total",
				Help: "Analyses rejected during validation, by offending field",
			},
			[]string{"field"},
		),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "fairmind_cache_hits_total",
			Help: "Number of analyses served from the result cache",
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "fairmind_store_errors_total",
			Help: "Number of result store read or write failures",
		}),
		JournalErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "fairmind_journal_errors_total",
			Help: "Number of journal append failures",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "fairmind_rate_limited_total",
			Help: "Number of requests rejected by the rate limiter",
		}),

		MetricEvaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairmind_metric_evaluations_total",
				Help: "Fairness metric evaluations by metric and status",
			},
			[]string{"metric", "status"},
		),
		MetricFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairmind_metric_failures_total",
				Help: "Fairness metric evaluations that did not pass",
			},
			[]string{"metric"},
		),
		RiskLevels: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairmind_risk_level_total",
				Help: "Completed analyses by overall risk level",
			},
			[]string{"level"},
		),
		SkippedCombos: f.NewCounter(prometheus.CounterOpts{
			Name: "fairmind_skipped_combinations_total",
			Help: "Intersectional combinations skipped for exceeding the cell ceiling",
		}),
		CellsAnalyzed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairmind_intersectional_cells_total",
				Help: "Intersectional cells by status",
			},
			[]string{"status"},
		),

		Disparity: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairmind_disparity",
				Help:    "Distribution of computed disparities",
				Buckets: prometheus.LinearBuckets(0, 0.05, 20),
			},
			[]string{"metric"},
		),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fairmind_analysis_duration_seconds",
			Help:    "Wall time of completed analyses",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
}
