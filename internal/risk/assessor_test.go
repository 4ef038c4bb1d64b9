package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/fairmind/internal/api"
)

func result(metric api.Metric, attr string, passed *bool) api.FairnessMetricResult {
	return api.FairnessMetricResult{Metric: metric, Attribute: attr, Passed: passed, Status: api.StatusComputed}
}

func boolp(b bool) *bool { return &b }

func TestLevel(t *testing.T) {
	tests := []struct {
		failed int
		want   api.RiskLevel
	}{
		{0, api.RiskLow},
		{1, api.RiskMedium},
		{2, api.RiskHigh},
		{3, api.RiskCritical},
		{7, api.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Level(tt.failed), "failed=%d", tt.failed)
	}
}

func TestAssess_TwoFailuresIsHigh(t *testing.T) {
	a := Assess([]api.FairnessMetricResult{
		result(api.DemographicParity, "gender", boolp(false)),
		result(api.EqualizedOdds, "gender", boolp(false)),
		result(api.PredictiveParity, "gender", boolp(true)),
	}, nil)

	assert.Equal(t, 2, a.FailedCount)
	assert.Equal(t, api.RiskHigh, a.Level)
	// Two metric templates plus one shared representation line.
	assert.Len(t, a.Recommendations, 3)
}

func TestAssess_UnevaluatedMetricsDoNotFail(t *testing.T) {
	undefined := api.FairnessMetricResult{
		Metric:    api.EqualizedOdds,
		Attribute: "gender",
		Status:    api.StatusUndefined,
		Groups:    []api.GroupScore{{Group: "a", Score: api.NaN()}},
	}
	single := result(api.DemographicParity, "region", nil)
	single.SingleGroup = true

	a := Assess([]api.FairnessMetricResult{undefined, single}, nil)
	assert.Equal(t, 0, a.FailedCount)
	assert.Equal(t, api.RiskLow, a.Level)
	assert.Equal(t, []string{"Collect ground truth labels to evaluate equalized_odds"}, a.Recommendations)
}

func TestAssess_RecommendationsAreASet(t *testing.T) {
	metrics := []api.FairnessMetricResult{
		result(api.DemographicParity, "gender", boolp(false)),
		result(api.DemographicParity, "gender", boolp(false)),
	}
	a := Assess(metrics, nil)
	assert.Equal(t, 2, a.FailedCount)
	assert.Len(t, a.Recommendations, 2, "duplicates collapse")
}

func TestAssess_IntersectionalDoesNotRaiseTier(t *testing.T) {
	cells := []api.IntersectionalCellResult{{
		Label:   "gender=f,race=b",
		Metrics: []api.FairnessMetricResult{result(api.DemographicParity, "gender&race", boolp(false))},
	}}
	a := Assess(nil, cells)

	assert.Equal(t, 0, a.FailedCount)
	assert.Equal(t, api.RiskLow, a.Level)
	require.Len(t, a.Recommendations, 1)
	assert.Contains(t, a.Recommendations[0], "gender=f,race=b")
}

func TestAssess_NoFindings(t *testing.T) {
	a := Assess([]api.FairnessMetricResult{result(api.DemographicParity, "gender", boolp(true))}, nil)
	assert.Equal(t, api.RiskLow, a.Level)
	assert.Equal(t, []string{noFindings}, a.Recommendations)
}
