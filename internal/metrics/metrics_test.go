package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/fractal-lba/fairmind/internal/api"
)

func TestNew_IsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not panic on duplicate
	// registration.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func TestObserveResult(t *testing.T) {
	m := New(prometheus.NewRegistry())
	failed := false
	res := &api.BiasAnalysisResult{
		OverallRisk: api.RiskMedium,
		Metrics: []api.FairnessMetricResult{
			{Metric: api.DemographicParity, Status: api.StatusComputed, Disparity: 0.4, Passed: &failed},
			{Metric: api.EqualizedOdds, Status: api.StatusUndefined, Disparity: api.NaN()},
		},
		Intersectional: []api.IntersectionalCellResult{{Status: api.StatusInsufficientSample}},
		Metadata: api.Metadata{
			SkippedCombinations: []api.SkippedCombination{{Attributes: []string{"a", "b"}, CellCount: 900}},
		},
	}

	m.ObserveResult(res, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskLevels.WithLabelValues("medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MetricFailures.WithLabelValues("demographic_parity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MetricEvaluations.WithLabelValues("equalized_odds", "undefined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedCombos))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CellsAnalyzed.WithLabelValues("insufficient_sample")))
}

func TestObserveFailure(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveFailure(fmt.Errorf("wrapped: %w", &api.ValidationError{Field: "dataset.ground_truth", Message: "length"}))
	m.ObserveFailure(fmt.Errorf("cancelled"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationErrors.WithLabelValues("dataset.ground_truth")))
}

func TestNilReceiver(t *testing.T) {
	var m *Metrics
	m.ObserveResult(&api.BiasAnalysisResult{}, time.Second)
	m.ObserveFailure(fmt.Errorf("x"))
}
