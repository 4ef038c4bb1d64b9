package fairness

import (
	"math"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/partition"
)

// Options carries the per-analysis knobs of the calculator.
type Options struct {
	PositiveLabel   int
	Threshold       float64
	RatioThreshold  float64
	Criterion       api.FairnessCriterion
	ConfidenceLevel float64
}

// OptionsFromConfig extracts calculator options from an analysis config.
func OptionsFromConfig(cfg api.AnalysisConfig) Options {
	return Options{
		PositiveLabel:   cfg.PositiveLabel,
		Threshold:       cfg.Threshold,
		RatioThreshold:  cfg.RatioThreshold,
		Criterion:       cfg.FairnessCriterion,
		ConfidenceLevel: cfg.ConfidenceLevel,
	}
}

// component is one rate a metric compares across groups, with the counts
// behind it.
type component struct {
	name  string
	value float64
	num   int
	den   int
}

type extractor func(cs ConfusionStats) []component

// metricTable binds each metric to its rates once, at init.
var metricTable = [...]struct {
	title   string
	extract extractor
}{
	api.DemographicParity: {"demographic parity", func(cs ConfusionStats) []component {
		return []component{{"selection_rate", cs.SelectionRate, cs.Positives, cs.N}}
	}},
	api.EqualizedOdds: {"equalized odds", func(cs ConfusionStats) []component {
		return []component{
			{"tpr", cs.TPR, cs.TP, cs.TP + cs.FN},
			{"fpr", cs.FPR, cs.FP, cs.FP + cs.TN},
		}
	}},
	api.EqualOpportunity: {"equal opportunity", func(cs ConfusionStats) []component {
		return []component{{"tpr", cs.TPR, cs.TP, cs.TP + cs.FN}}
	}},
	api.PredictiveParity: {"predictive parity", func(cs ConfusionStats) []component {
		return []component{{"ppv", cs.PPV, cs.TP, cs.TP + cs.FP}}
	}},
}

// Title returns the human readable metric name.
func Title(m api.Metric) string {
	if !m.Valid() {
		return m.String()
	}
	return metricTable[m].title
}

// Calculator computes the canonical group-fairness metrics.
type Calculator struct {
	opts Options
}

// NewCalculator creates a calculator.
func NewCalculator(opts Options) *Calculator {
	return &Calculator{opts: opts}
}

// Options returns the calculator options.
func (c *Calculator) Options() Options { return c.opts }

type groupEval struct {
	group      partition.Group
	components []component
}

// aggregate is the shared core of Compute and Disparity.
type aggregate struct {
	evals       []groupEval
	disparity   float64
	ratio       float64
	status      api.Status
	singleGroup bool
	labeled     int
	eligible    int // groups meeting the minimum cell size
}

func (c *Calculator) aggregate(metric api.Metric, samples []api.Sample, groups []partition.Group) aggregate {
	agg := aggregate{disparity: math.NaN(), ratio: math.NaN()}
	for _, s := range samples {
		if s.Labeled() {
			agg.labeled++
		}
	}

	if len(groups) == 0 {
		agg.status = api.StatusUndefined
		return agg
	}
	if metric.RequiresGroundTruth() && agg.labeled == 0 {
		agg.status = api.StatusUndefined
		return agg
	}

	extract := metricTable[metric].extract
	agg.evals = make([]groupEval, len(groups))
	for i, g := range groups {
		agg.evals[i] = groupEval{group: g, components: extract(Confusion(samples, g.Indices, c.opts.PositiveLabel))}
		if !g.InsufficientSample {
			agg.eligible++
		}
	}

	if len(groups) == 1 {
		agg.singleGroup = true
		agg.disparity = 0
		agg.status = api.StatusComputed
		if !groups[0].InsufficientSample {
			if v := agg.evals[0].components[0].value; !math.IsNaN(v) {
				agg.ratio = minMaxRatio(v, v)
			}
		}
		return agg
	}

	ncomp := len(agg.evals[0].components)
	found := false
	for k := 0; k < ncomp; k++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		n := 0
		for _, e := range agg.evals {
			v := e.components[k].value
			if e.group.InsufficientSample || math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			n++
		}
		if n < 2 {
			continue
		}
		gap, r := hi-lo, minMaxRatio(lo, hi)
		if !found {
			agg.disparity, agg.ratio = gap, r
			found = true
			continue
		}
		agg.disparity = math.Max(agg.disparity, gap)
		agg.ratio = math.Min(agg.ratio, r)
	}

	switch {
	case found:
		agg.status = api.StatusComputed
	case agg.eligible < 2:
		agg.status = api.StatusInsufficientSample
	default:
		agg.status = api.StatusUndefined
	}
	return agg
}

// minMaxRatio is min/max with the +Inf sentinel when max is zero.
func minMaxRatio(lo, hi float64) float64 {
	if hi == 0 {
		return math.Inf(1)
	}
	return lo / hi
}

// Disparity returns the scalar disparity of metric over groups, NaN when
// it cannot be computed. It is the statistic handed to resampling.
func (c *Calculator) Disparity(metric api.Metric, samples []api.Sample, groups []partition.Group) float64 {
	agg := c.aggregate(metric, samples, groups)
	if agg.status != api.StatusComputed {
		return math.NaN()
	}
	return agg.disparity
}

// Passes applies the configured fairness criterion.
func (c *Calculator) Passes(disparity, ratio float64) bool {
	if c.opts.Criterion == api.CriterionRatio {
		return ratio >= c.opts.RatioThreshold
	}
	return disparity < c.opts.Threshold
}

// Compute evaluates metric for the given partition of samples.
func (c *Calculator) Compute(metric api.Metric, attribute string, samples []api.Sample, groups []partition.Group) api.FairnessMetricResult {
	agg := c.aggregate(metric, samples, groups)

	res := api.FairnessMetricResult{
		Metric:      metric,
		Attribute:   attribute,
		Disparity:   api.Float(agg.disparity),
		Ratio:       api.Float(agg.ratio),
		Status:      agg.status,
		SingleGroup: agg.singleGroup,
	}

	if agg.evals == nil {
		// Nothing was evaluated per group: missing ground truth or no groups.
		for _, g := range groups {
			res.Groups = append(res.Groups, api.GroupScore{
				Group:      g.Label,
				Attributes: g.Cell(),
				Size:       g.Size(),
				Score:      api.NaN(),
				Status:     api.StatusUndefined,
			})
		}
		if metric.RequiresGroundTruth() && agg.labeled == 0 {
			res.Warnings = append(res.Warnings, api.Warning{
				Kind:      api.UndefinedMetricWarning,
				Attribute: attribute,
				Message:   Title(metric) + " requires ground truth labels and none were supplied",
			})
		}
		res.Interpretation = c.interpret(metric, attribute, &res, agg)
		return res
	}

	for _, e := range agg.evals {
		gs, warns := c.groupScore(metric, attribute, e)
		res.Groups = append(res.Groups, gs)
		res.Warnings = append(res.Warnings, warns...)
	}

	if agg.singleGroup {
		res.Warnings = append(res.Warnings, api.Warning{
			Kind:      api.SingleGroupWarning,
			Attribute: attribute,
			Message:   "only one group observed; comparison is not meaningful",
		})
	} else if agg.status == api.StatusComputed {
		passed := c.Passes(agg.disparity, agg.ratio)
		res.Passed = &passed
	}

	res.Interpretation = c.interpret(metric, attribute, &res, agg)
	return res
}

func (c *Calculator) groupScore(metric api.Metric, attribute string, e groupEval) (api.GroupScore, []api.Warning) {
	g := e.group
	gs := api.GroupScore{
		Group:      g.Label,
		Attributes: g.Cell(),
		Size:       g.Size(),
		Score:      api.NaN(),
	}

	if g.InsufficientSample {
		gs.Status = api.StatusInsufficientSample
		return gs, []api.Warning{{
			Kind:      api.InsufficientSampleWarning,
			Attribute: attribute,
			Group:     g.Label,
			Message:   "group is below the minimum cell size and is excluded from comparison",
		}}
	}

	var warns []api.Warning
	defined := 0
	if len(e.components) > 1 {
		gs.Components = make(map[string]api.Float, len(e.components))
	}
	for _, comp := range e.components {
		if gs.Components != nil {
			gs.Components[comp.name] = api.Float(comp.value)
		}
		if math.IsNaN(comp.value) {
			warns = append(warns, api.Warning{
				Kind:      api.UndefinedMetricWarning,
				Attribute: attribute,
				Group:     g.Label,
				Message:   comp.name + " is undefined (zero denominator)",
			})
			continue
		}
		defined++
	}

	primary := e.components[0]
	gs.Score = api.Float(primary.value)
	if !math.IsNaN(primary.value) {
		gs.Interval = WilsonInterval(primary.num, primary.den, c.opts.ConfidenceLevel)
	}
	if defined == 0 {
		gs.Status = api.StatusUndefined
	} else {
		gs.Status = api.StatusComputed
	}
	return gs, warns
}
