package api

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	for _, m := range AllMetrics {
		parsed, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	parsed, err := ParseMetric("  Equalized_Odds ")
	require.NoError(t, err)
	assert.Equal(t, EqualizedOdds, parsed)

	_, err = ParseMetric("equality_of_outcome")
	assert.Error(t, err)
}

func TestMetric_JSON(t *testing.T) {
	data, err := json.Marshal([]Metric{DemographicParity, PredictiveParity})
	require.NoError(t, err)
	assert.JSONEq(t, `["demographic_parity","predictive_parity"]`, string(data))

	var back []Metric
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Metric{DemographicParity, PredictiveParity}, back)

	_, err = json.Marshal(Metric(42))
	assert.Error(t, err)
}

func TestFloat_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   Float
		want string
	}{
		{"finite", 0.25, `0.25`},
		{"nan", NaN(), `null`},
		{"pos_inf", Float(math.Inf(1)), `"+Inf"`},
		{"neg_inf", Float(math.Inf(-1)), `"-Inf"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))

			var back Float
			require.NoError(t, json.Unmarshal(data, &back))
			if tt.in.IsNaN() {
				assert.True(t, back.IsNaN())
			} else {
				assert.Equal(t, tt.in, back)
			}
		})
	}
}

func TestDataset_Samples(t *testing.T) {
	one := 1
	ds := Dataset{
		Predictions: []int{1, 0},
		GroundTruth: []*int{&one, nil},
		Attributes:  []map[string]string{{"g": "a"}, {"g": "b"}},
	}

	samples := ds.Samples()
	require.Len(t, samples, 2)
	assert.True(t, samples[0].Labeled())
	assert.Equal(t, 1, *samples[0].GroundTruth)
	assert.False(t, samples[1].Labeled())
	assert.Equal(t, "b", samples[1].Attributes["g"])

	// Rows own their label copies.
	*samples[0].GroundTruth = 0
	assert.Equal(t, 1, one)
}

func TestAnalysisRequest_RequestedMetrics(t *testing.T) {
	req := AnalysisRequest{}
	assert.Equal(t, AllMetrics, req.RequestedMetrics())

	req.Metrics = []Metric{PredictiveParity, DemographicParity, PredictiveParity}
	assert.Equal(t, []Metric{DemographicParity, PredictiveParity}, req.RequestedMetrics())
}

func TestFairnessMetricResult_Failed(t *testing.T) {
	var r FairnessMetricResult
	assert.False(t, r.Failed(), "unevaluated result must not count as failed")

	passed := false
	r.Passed = &passed
	assert.True(t, r.Failed())
}

func TestDefaultAnalysisConfig_Validate(t *testing.T) {
	cfg := DefaultAnalysisConfig()

	err := cfg.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "default config has no seed, got %v", err)
	assert.Equal(t, "config.random_seed", verr.Field)

	require.NoError(t, cfg.WithSeed(7).Validate())

	cfg.BootstrapIterations = 0
	cfg.PermutationIterations = 0
	assert.NoError(t, cfg.Validate(), "seed is optional without resampling")
}

func TestAnalysisConfig_ValidateFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AnalysisConfig)
		field  string
	}{
		{"threshold", func(c *AnalysisConfig) { c.Threshold = 0 }, "config.threshold"},
		{"ratio", func(c *AnalysisConfig) { c.RatioThreshold = 1.5 }, "config.ratio_threshold"},
		{"criterion", func(c *AnalysisConfig) { c.FairnessCriterion = "parity" }, "config.fairness_criterion"},
		{"confidence", func(c *AnalysisConfig) { c.ConfidenceLevel = 1 }, "config.confidence_level"},
		{"min_cell", func(c *AnalysisConfig) { c.MinCellSize = 0 }, "config.min_cell_size"},
		{"order", func(c *AnalysisConfig) { c.MaxIntersectionOrder = 1 }, "config.max_intersection_order"},
		{"cells", func(c *AnalysisConfig) { c.MaxCellsPerCombination = 0 }, "config.max_cells_per_combination"},
		{"bootstrap", func(c *AnalysisConfig) { c.BootstrapIterations = -1 }, "config.bootstrap_iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAnalysisConfig().WithSeed(1)
			tt.mutate(&cfg)

			var verr *ValidationError
			require.ErrorAs(t, cfg.Validate(), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAnalysisRequest_UnmarshalDefaults(t *testing.T) {
	var req AnalysisRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"dataset": {"predictions": [1, 0], "attributes": [{"g": "a"}, {"g": "b"}]},
		"protected_attributes": ["g"]
	}`), &req))
	assert.Equal(t, DefaultAnalysisConfig(), req.Config)

	require.NoError(t, json.Unmarshal([]byte(`{
		"protected_attributes": ["g"],
		"config": {"threshold": 0.2, "random_seed": 9, "fairness_criterion": "ratio"}
	}`), &req))
	assert.Equal(t, 0.2, req.Config.Threshold)
	assert.Equal(t, CriterionRatio, req.Config.FairnessCriterion)
	assert.Equal(t, int64(9), req.Config.Seed())
	assert.Equal(t, 1000, req.Config.BootstrapIterations, "unspecified fields keep defaults")
}

func TestRiskLevel_Severity(t *testing.T) {
	assert.Less(t, RiskLow.Severity(), RiskMedium.Severity())
	assert.Less(t, RiskHigh.Severity(), RiskCritical.Severity())
	assert.Equal(t, -1, RiskLevel("severe").Severity())

	l, err := ParseRiskLevel(" High ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, l)
	_, err = ParseRiskLevel("severe")
	assert.Error(t, err)
}
