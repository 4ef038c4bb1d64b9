package intersectional

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/fairness"
	"github.com/fractal-lba/fairmind/internal/partition"
)

// population builds gender x race rows where only (f, b) is ever predicted
// positive. Cell (m, b) is deliberately small.
func population() []api.Sample {
	var out []api.Sample
	add := func(g, r string, n, positives int) {
		for i := 0; i < n; i++ {
			p := 0
			if i < positives {
				p = 1
			}
			out = append(out, api.Sample{Prediction: p, Attributes: map[string]string{"gender": g, "race": r}})
		}
	}
	add("f", "b", 10, 10)
	add("f", "w", 10, 0)
	add("m", "w", 18, 0)
	add("m", "b", 2, 0)
	return out
}

func newAnalyzer(cfg api.AnalysisConfig) *Analyzer {
	return New(
		fairness.NewCalculator(fairness.OptionsFromConfig(cfg)),
		partition.New(cfg, zap.NewNop()),
		cfg,
		zap.NewNop(),
	)
}

func TestAnalyze_CellsAgainstBaseline(t *testing.T) {
	cfg := api.DefaultAnalysisConfig()
	cfg.BootstrapIterations = 0
	cfg.PermutationIterations = 0

	res, err := newAnalyzer(cfg).Analyze(context.Background(), population(), []string{"gender", "race"},
		[]api.Metric{api.DemographicParity, api.EqualizedOdds}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempted)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Cells, 4)

	top := res.Cells[0]
	assert.Equal(t, "gender=f,race=b", top.Label)
	assert.Equal(t, api.StatusComputed, top.Status)
	require.Len(t, top.Metrics, 1, "ground-truth metrics are not applicable")
	// Cell rate 1.0 against population rate 10/40.
	assert.InDelta(t, 0.75, float64(top.MaxDisparity), 1e-12)
	assert.Equal(t, []string{"gender", "race"}, top.Attributes)

	last := res.Cells[3]
	assert.Equal(t, "gender=m,race=b", last.Label)
	assert.Equal(t, api.StatusInsufficientSample, last.Status)
	assert.Nil(t, last.Metrics)
	assert.NotEmpty(t, last.Reason)
	assert.Equal(t, 2, last.Size)

	// Equal disparities (0.25) tie-break on size: 18 before 10.
	assert.Equal(t, "gender=m,race=w", res.Cells[1].Label)
	assert.Equal(t, "gender=f,race=w", res.Cells[2].Label)
}

func TestAnalyze_BootstrapIntervals(t *testing.T) {
	cfg := api.DefaultAnalysisConfig().WithSeed(11)
	cfg.BootstrapIterations = 100

	res, err := newAnalyzer(cfg).Analyze(context.Background(), population(), []string{"gender", "race"},
		[]api.Metric{api.DemographicParity}, false)
	require.NoError(t, err)

	ci := res.Cells[0].Metrics[0].ConfidenceInterval
	require.NotNil(t, ci)
	assert.LessOrEqual(t, float64(ci.Lower), float64(ci.Upper))

	again, err := newAnalyzer(cfg).Analyze(context.Background(), population(), []string{"gender", "race"},
		[]api.Metric{api.DemographicParity}, false)
	require.NoError(t, err)
	assert.Equal(t, *ci, *again.Cells[0].Metrics[0].ConfidenceInterval)
}

func TestAnalyze_Cancelled(t *testing.T) {
	cfg := api.DefaultAnalysisConfig().WithSeed(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAnalyzer(cfg).Analyze(ctx, population(), []string{"gender", "race"},
		[]api.Metric{api.DemographicParity}, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplicableMetrics(t *testing.T) {
	dp := []api.Metric{api.DemographicParity}
	assert.Equal(t, dp, ApplicableMetrics(api.AllMetrics, false))
	assert.Equal(t, api.AllMetrics, ApplicableMetrics(api.AllMetrics, true))
	assert.Equal(t, dp, ApplicableMetrics([]api.Metric{api.EqualOpportunity}, false))
	assert.Equal(t, []api.Metric{api.DemographicParity, api.EqualOpportunity},
		ApplicableMetrics([]api.Metric{api.EqualOpportunity}, true))
	assert.Equal(t, dp, ApplicableMetrics(nil, true))
}

func TestAnalyze_DemographicParityAlwaysApplied(t *testing.T) {
	cfg := api.DefaultAnalysisConfig()
	cfg.BootstrapIterations = 0
	cfg.PermutationIterations = 0

	res, err := newAnalyzer(cfg).Analyze(context.Background(), population(), []string{"gender", "race"},
		[]api.Metric{api.EqualOpportunity}, false)
	require.NoError(t, err)
	require.Len(t, res.Cells, 4)

	eligible := 0
	for _, c := range res.Cells {
		if c.Status == api.StatusInsufficientSample {
			continue
		}
		eligible++
		assert.Equal(t, api.StatusComputed, c.Status, c.Label)
		require.Len(t, c.Metrics, 1, c.Label)
		assert.Equal(t, api.DemographicParity, c.Metrics[0].Metric, c.Label)
		assert.Equal(t, api.StatusComputed, c.Metrics[0].Status, c.Label)
		assert.False(t, c.MaxDisparity.IsNaN(), c.Label)
	}
	assert.Equal(t, 3, eligible)
	assert.InDelta(t, 0.75, float64(res.Cells[0].MaxDisparity), 1e-12)
}

func TestAnalyzer_WorkerBudget(t *testing.T) {
	cfg := api.DefaultAnalysisConfig()
	cfg.Workers = 0
	assert.Equal(t, runtime.GOMAXPROCS(0), newAnalyzer(cfg).workers())
	assert.Equal(t, 1, newAnalyzer(cfg).resampleOptions().Workers)

	cfg.Workers = 3
	assert.Equal(t, 3, newAnalyzer(cfg).workers())
	assert.Equal(t, 1, newAnalyzer(cfg).resampleOptions().Workers)
}

func TestAnalyze_WorkerCountDoesNotChangeResult(t *testing.T) {
	run := func(workers int) Result {
		cfg := api.DefaultAnalysisConfig().WithSeed(5)
		cfg.BootstrapIterations = 200
		cfg.Workers = workers
		res, err := newAnalyzer(cfg).Analyze(context.Background(), population(), []string{"gender", "race"},
			[]api.Metric{api.DemographicParity}, false)
		require.NoError(t, err)
		return res
	}

	serial := run(1)
	for _, other := range []Result{run(0), run(8)} {
		require.Len(t, other.Cells, len(serial.Cells))
		for i, want := range serial.Cells {
			got := other.Cells[i]
			assert.Equal(t, want.Label, got.Label)
			if want.Status != api.StatusComputed {
				continue
			}
			assert.Equal(t, want.MaxDisparity, got.MaxDisparity, want.Label)
			require.NotNil(t, got.Metrics[0].ConfidenceInterval, want.Label)
			assert.Equal(t, *want.Metrics[0].ConfidenceInterval, *got.Metrics[0].ConfidenceInterval, want.Label)
		}
	}
}

func TestSortCells_NaNLast(t *testing.T) {
	cells := []api.IntersectionalCellResult{
		{Label: "x", MaxDisparity: api.NaN(), Size: 100},
		{Label: "b", MaxDisparity: 0.2, Size: 5},
		{Label: "a", MaxDisparity: 0.2, Size: 5},
		{Label: "c", MaxDisparity: 0.4, Size: 1},
	}
	SortCells(cells)
	labels := []string{cells[0].Label, cells[1].Label, cells[2].Label, cells[3].Label}
	assert.Equal(t, []string{"c", "a", "b", "x"}, labels)
}
