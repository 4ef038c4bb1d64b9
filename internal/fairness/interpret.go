package fairness

import (
	"fmt"
	"math"

	"github.com/fractal-lba/fairmind/internal/api"
	"gonum.org/v1/gonum/stat/distuv"
)

// WilsonInterval returns the Wilson score interval for successes out of
// trials at the given confidence level, nil when trials is zero.
func WilsonInterval(successes, trials int, level float64) *api.Interval {
	if trials <= 0 {
		return nil
	}
	if level <= 0 || level >= 1 {
		level = 0.95
	}
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	n := float64(trials)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom

	return &api.Interval{
		Lower: api.Float(math.Max(0, center-margin)),
		Upper: api.Float(math.Min(1, center+margin)),
		Level: level,
	}
}

func (c *Calculator) interpret(metric api.Metric, attribute string, res *api.FairnessMetricResult, agg aggregate) string {
	title := Title(metric)
	switch {
	case metric.RequiresGroundTruth() && agg.labeled == 0:
		return fmt.Sprintf("%s cannot be evaluated for %s without ground truth labels", title, attribute)
	case agg.singleGroup:
		return fmt.Sprintf("Only one group of %s was observed; %s comparison is not meaningful", attribute, title)
	case res.Status == api.StatusInsufficientSample:
		return fmt.Sprintf("Fewer than two groups of %s are large enough to compare %s", attribute, title)
	case res.Status == api.StatusUndefined:
		return fmt.Sprintf("%s is undefined for all but at most one group of %s", title, attribute)
	}

	d, r := float64(res.Disparity), float64(res.Ratio)
	passed := res.Passed != nil && *res.Passed
	if c.opts.Criterion == api.CriterionRatio {
		if passed {
			return fmt.Sprintf("%s ratio of %s across %s groups meets the %.2f threshold",
				title, fmtRatio(r), attribute, c.opts.RatioThreshold)
		}
		return fmt.Sprintf("%s ratio of %s across %s groups falls below the %.2f threshold",
			title, fmtRatio(r), attribute, c.opts.RatioThreshold)
	}
	if passed {
		return fmt.Sprintf("%s disparity of %.3f across %s groups is within the %.2f threshold",
			title, d, attribute, c.opts.Threshold)
	}
	return fmt.Sprintf("%s disparity of %.3f across %s groups exceeds the %.2f threshold",
		title, d, attribute, c.opts.Threshold)
}

func fmtRatio(r float64) string {
	if math.IsInf(r, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%.3f", r)
}
