package metrics

import (
	"errors"
	"time"

	"github.com/fractal-lba/fairmind/internal/api"
)

// ObserveResult records a completed analysis. Safe on a nil receiver.
func (m *Metrics) ObserveResult(res *api.BiasAnalysisResult, elapsed time.Duration) {
	if m == nil || res == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues("done").Inc()
	m.RiskLevels.WithLabelValues(string(res.OverallRisk)).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
	m.SkippedCombos.Add(float64(len(res.Metadata.SkippedCombinations)))

	for i := range res.Metrics {
		r := &res.Metrics[i]
		m.MetricEvaluations.WithLabelValues(r.Metric.String(), string(r.Status)).Inc()
		if r.Failed() {
			m.MetricFailures.WithLabelValues(r.Metric.String()).Inc()
		}
		if r.Status == api.StatusComputed && !r.SingleGroup {
			m.Disparity.WithLabelValues(r.Metric.String()).Observe(float64(r.Disparity))
		}
	}
	for _, c := range res.Intersectional {
		m.CellsAnalyzed.WithLabelValues(string(c.Status)).Inc()
	}
}

// ObserveFailure records an analysis that ended in the failed state.
func (m *Metrics) ObserveFailure(err error) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues("failed").Inc()
	var verr *api.ValidationError
	if errors.As(err, &verr) {
		m.ValidationErrors.WithLabelValues(verr.Field).Inc()
	}
}
