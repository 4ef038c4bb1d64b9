package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/metrics"
)

func noResampling() api.AnalysisConfig {
	cfg := api.DefaultAnalysisConfig()
	cfg.BootstrapIterations = 0
	cfg.PermutationIterations = 0
	return cfg
}

func rows(attr string, values ...string) []map[string]string {
	out := make([]map[string]string, len(values))
	for i, v := range values {
		out[i] = map[string]string{attr: v}
	}
	return out
}

func labels(vs ...int) []*int {
	out := make([]*int, len(vs))
	for i := range vs {
		v := vs[i]
		out[i] = &v
	}
	return out
}

// biased returns n rows per group of a and b, where a is always predicted
// positive and b never, with a second attribute h aligned to g.
func biased(n int) api.Dataset {
	var ds api.Dataset
	for i := 0; i < 2*n; i++ {
		g, h, p := "a", "x", 1
		if i >= n {
			g, h, p = "b", "y", 0
		}
		ds.Predictions = append(ds.Predictions, p)
		ds.Attributes = append(ds.Attributes, map[string]string{"g": g, "h": h})
		truth := i % 2
		ds.GroundTruth = append(ds.GroundTruth, &truth)
	}
	return ds
}

func TestAnalyze_TwoGroupDemographicParity(t *testing.T) {
	cfg := noResampling()
	cfg.MinCellSize = 1
	req := &api.AnalysisRequest{
		Dataset: api.Dataset{
			Predictions: []int{1, 1, 0, 0},
			Attributes:  rows("group", "A", "A", "B", "B"),
		},
		ProtectedAttributes: []string{"group"},
		Metrics:             []api.Metric{api.DemographicParity},
		Config:              cfg,
	}

	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Metrics, 1)

	m := res.Metrics[0]
	assert.Equal(t, map[string]float64{"A": 1, "B": 0}, m.PerGroupScore())
	assert.Equal(t, 1.0, float64(m.Disparity))
	require.NotNil(t, m.Passed)
	assert.False(t, *m.Passed)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, api.RiskMedium, res.OverallRisk)
	assert.Equal(t, []string{"validating", "computing_group_metrics", "assessing", "done"}, res.Metadata.States)
	assert.NotEmpty(t, res.AnalysisID)
	assert.NotNil(t, res.Intersectional)
}

func TestAnalyze_MissingGroundTruthIsReported(t *testing.T) {
	cfg := noResampling()
	cfg.MinCellSize = 1
	req := &api.AnalysisRequest{
		Dataset: api.Dataset{
			Predictions: []int{1, 0, 1, 0},
			Attributes:  rows("group", "A", "A", "B", "B"),
		},
		ProtectedAttributes: []string{"group"},
		Metrics:             []api.Metric{api.EqualizedOdds},
		Config:              cfg,
	}

	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Metrics, 1)

	m := res.Metrics[0]
	assert.Equal(t, api.StatusUndefined, m.Status)
	require.NotEmpty(t, m.Warnings)
	assert.Equal(t, api.UndefinedMetricWarning, m.Warnings[0].Kind)
	assert.Equal(t, 0, res.FailedCount)
	assert.Equal(t, api.RiskLow, res.OverallRisk)
	assert.False(t, res.Metadata.HasGroundTruth)
}

func TestAnalyze_SingleGroupAttribute(t *testing.T) {
	cfg := noResampling()
	cfg.MinCellSize = 1
	req := &api.AnalysisRequest{
		Dataset: api.Dataset{
			Predictions: []int{1, 0, 1, 1},
			Attributes:  rows("group", "A", "A", "A", "A"),
		},
		ProtectedAttributes: []string{"group"},
		Metrics:             []api.Metric{api.DemographicParity},
		Config:              cfg,
	}

	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)

	m := res.Metrics[0]
	assert.True(t, m.SingleGroup)
	assert.Equal(t, 0.0, float64(m.Disparity))
	assert.Equal(t, 0, res.FailedCount)
	require.Len(t, res.Metadata.Attributes, 1)
	assert.True(t, res.Metadata.Attributes[0].SingleGroup)
	require.NotEmpty(t, res.Metadata.Warnings)
	assert.Equal(t, api.SingleGroupWarning, res.Metadata.Warnings[0].Kind)
}

func TestAnalyze_ThreeBinaryAttributesIntersectional(t *testing.T) {
	var ds api.Dataset
	for r := 0; r < 5; r++ {
		for _, a := range []string{"a0", "a1"} {
			for _, b := range []string{"b0", "b1"} {
				for _, c := range []string{"c0", "c1"} {
					p := 0
					if a == "a1" && b == "b1" {
						p = 1
					}
					ds.Predictions = append(ds.Predictions, p)
					ds.Attributes = append(ds.Attributes, map[string]string{"a": a, "b": b, "c": c})
				}
			}
		}
	}
	cfg := noResampling()
	req := &api.AnalysisRequest{
		Dataset:             ds,
		ProtectedAttributes: []string{"a", "b", "c"},
		Metrics:             []api.Metric{api.DemographicParity},
		Intersectional:      true,
		Config:              cfg,
	}

	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Metadata.CombinationsAttempted)
	assert.Empty(t, res.Metadata.SkippedCombinations)
	// 3 pairs x 4 cells + 8 triples.
	assert.Len(t, res.Intersectional, 20)
	assert.Contains(t, res.Metadata.States, string(StateComputingIntersectional))

	top := res.Intersectional[0]
	assert.Equal(t, api.StatusComputed, top.Status)
	// a1,b1 cells select at 1.0 vs population 0.25.
	assert.InDelta(t, 0.75, float64(top.MaxDisparity), 1e-12)
}

func TestAnalyze_IntersectionalIsOptIn(t *testing.T) {
	req := &api.AnalysisRequest{
		Dataset:             biased(10),
		ProtectedAttributes: []string{"g", "h"},
		Metrics:             []api.Metric{api.DemographicParity},
		Config:              noResampling(),
	}
	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Intersectional)
	assert.NotContains(t, res.Metadata.States, string(StateComputingIntersectional))
}

func TestAnalyze_TwoFailuresIsHighRisk(t *testing.T) {
	req := &api.AnalysisRequest{
		Dataset:             biased(10),
		ProtectedAttributes: []string{"g", "h"},
		Metrics:             []api.Metric{api.DemographicParity},
		Config:              noResampling(),
	}

	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, api.RiskHigh, res.OverallRisk)
	assert.NotEmpty(t, res.Recommendations)
}

func TestAnalyze_ResamplingAndAdjustedPValues(t *testing.T) {
	cfg := api.DefaultAnalysisConfig().WithSeed(42)
	cfg.BootstrapIterations = 200
	cfg.PermutationIterations = 200
	req := &api.AnalysisRequest{
		Dataset:             biased(20),
		ProtectedAttributes: []string{"g"},
		Metrics:             []api.Metric{api.DemographicParity, api.PredictiveParity},
		Config:              cfg,
	}

	res, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)

	dp := res.Metrics[0]
	require.NotNil(t, dp.ConfidenceInterval)
	assert.LessOrEqual(t, float64(dp.ConfidenceInterval.Lower), float64(dp.ConfidenceInterval.Upper))
	require.NotNil(t, dp.PValue)
	assert.Less(t, float64(*dp.PValue), 0.05)
	require.NotNil(t, dp.AdjustedPValue)
	assert.GreaterOrEqual(t, float64(*dp.AdjustedPValue), float64(*dp.PValue))
}

func TestAnalyze_Idempotent(t *testing.T) {
	cfg := api.DefaultAnalysisConfig().WithSeed(7)
	cfg.BootstrapIterations = 100
	cfg.PermutationIterations = 100
	req := &api.AnalysisRequest{
		Dataset:             biased(10),
		ProtectedAttributes: []string{"g", "h"},
		Intersectional:      true,
		Config:              cfg,
	}

	first, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)

	req.Config.Workers = 1
	second, err := New().Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.AnalysisID, second.AnalysisID, "worker count does not change identity")

	// Config.Workers is echoed in metadata; compare everything else.
	first.Metadata.Config.Workers, second.Metadata.Config.Workers = 0, 0
	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestAnalyze_ValidationFailures(t *testing.T) {
	base := func() *api.AnalysisRequest {
		cfg := noResampling()
		cfg.MinCellSize = 1
		return &api.AnalysisRequest{
			Dataset: api.Dataset{
				Predictions: []int{1, 0, 1, 0},
				GroundTruth: labels(1, 0, 0, 1),
				Attributes:  rows("g", "a", "a", "b", "b"),
			},
			ProtectedAttributes: []string{"g"},
			Config:              cfg,
		}
	}

	tests := []struct {
		name   string
		mutate func(*api.AnalysisRequest)
		field  string
	}{
		{"no attributes", func(r *api.AnalysisRequest) { r.ProtectedAttributes = nil }, "protected_attributes"},
		{"duplicate attribute", func(r *api.AnalysisRequest) { r.ProtectedAttributes = []string{"g", "g"} }, "protected_attributes"},
		{"empty dataset", func(r *api.AnalysisRequest) { r.Dataset = api.Dataset{} }, "dataset.predictions"},
		{"ground truth length", func(r *api.AnalysisRequest) { r.Dataset.GroundTruth = labels(1) }, "dataset.ground_truth"},
		{"attribute rows", func(r *api.AnalysisRequest) { r.Dataset.Attributes = r.Dataset.Attributes[:3] }, "dataset.attributes"},
		{"unknown attribute", func(r *api.AnalysisRequest) { r.ProtectedAttributes = []string{"race"} }, "dataset.attributes[0].race"},
		{"positive label", func(r *api.AnalysisRequest) { r.Config.PositiveLabel = 2 }, "config.positive_label"},
		{"non-binary prediction", func(r *api.AnalysisRequest) { r.Dataset.Predictions[2] = 2 }, "dataset.predictions[2]"},
		{"non-binary ground truth", func(r *api.AnalysisRequest) { r.Dataset.GroundTruth = labels(1, 0, 7, 1) }, "dataset.ground_truth[2]"},
		{"unknown metric", func(r *api.AnalysisRequest) { r.Metrics = []api.Metric{api.Metric(9)} }, "metrics"},
		{"seed", func(r *api.AnalysisRequest) { r.Config.BootstrapIterations = 10 }, "config.random_seed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(req)

			res, err := New().Analyze(context.Background(), req)
			assert.Nil(t, res)

			var serr *StateError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, StateValidating, serr.State)

			var verr *api.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAnalyze_Cancelled(t *testing.T) {
	cfg := api.DefaultAnalysisConfig().WithSeed(1)
	req := &api.AnalysisRequest{
		Dataset:             biased(10),
		ProtectedAttributes: []string{"g"},
		Config:              cfg,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Analyze(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateComputingGroupMetrics, serr.State)
}

func TestAnalyze_RecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	engine := New(WithLogger(zap.NewNop()), WithMetrics(m))

	_, err := engine.Analyze(context.Background(), &api.AnalysisRequest{
		Dataset:             biased(10),
		ProtectedAttributes: []string{"g"},
		Metrics:             []api.Metric{api.DemographicParity},
		Config:              noResampling(),
	})
	require.NoError(t, err)
	_, err = engine.Analyze(context.Background(), &api.AnalysisRequest{Config: noResampling()})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationErrors.WithLabelValues("protected_attributes")))
}

func TestAnalysisID_Stable(t *testing.T) {
	req := &api.AnalysisRequest{
		Dataset:             biased(3),
		ProtectedAttributes: []string{"g"},
		Config:              noResampling(),
	}
	a, err := AnalysisID(req)
	require.NoError(t, err)

	req.Metrics = api.AllMetrics
	b, err := AnalysisID(req)
	require.NoError(t, err)
	assert.Equal(t, a, b, "empty metric list means all metrics")

	req.Config.Threshold = 0.2
	c, err := AnalysisID(req)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
