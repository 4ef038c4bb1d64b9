// Package risk turns metric findings into a risk tier and remediation
// recommendations.
package risk

import (
	"fmt"
	"sort"

	"github.com/fractal-lba/fairmind/internal/api"
)

// Assessment is the aggregate verdict of an analysis.
type Assessment struct {
	Level           api.RiskLevel
	FailedCount     int
	Recommendations []string
}

// Level maps a failed-metric count to a risk tier.
func Level(failed int) api.RiskLevel {
	switch {
	case failed >= 3:
		return api.RiskCritical
	case failed == 2:
		return api.RiskHigh
	case failed == 1:
		return api.RiskMedium
	default:
		return api.RiskLow
	}
}

var templates = map[api.Metric]string{
	api.DemographicParity: "Selection rates differ across %s groups; consider reweighing training data or adjusting decision thresholds per group",
	api.EqualizedOdds:     "Error rates differ across %s groups; apply equalized-odds post-processing or retrain with fairness constraints",
	api.EqualOpportunity:  "True positive rates differ across %s groups; review label quality and positive-class coverage for under-served groups",
	api.PredictiveParity:  "Positive predictions are not equally reliable across %s groups; recalibrate scores per group",
}

const (
	representationTemplate = "Review how %s groups are represented in the training data"
	groundTruthTemplate    = "Collect ground truth labels to evaluate %s"
	intersectionalTemplate = "Investigate the intersectional subgroup %s, which deviates from the overall population"
	lowSampleTemplate      = "Increase sample size for %s; some groups are too small to evaluate"
	noFindings             = "No significant bias detected under the configured thresholds; continue monitoring"
)

// Assess aggregates single-attribute results and intersectional cells.
// Only single-attribute failures count toward the risk tier.
func Assess(metrics []api.FairnessMetricResult, cells []api.IntersectionalCellResult) Assessment {
	set := make(map[string]struct{})
	add := func(format string, args ...any) { set[fmt.Sprintf(format, args...)] = struct{}{} }

	failed := 0
	for i := range metrics {
		m := &metrics[i]
		switch {
		case m.Failed():
			failed++
			if tpl, ok := templates[m.Metric]; ok {
				add(tpl, m.Attribute)
			}
			add(representationTemplate, m.Attribute)
		case m.Status == api.StatusUndefined && m.Metric.RequiresGroundTruth() && !hasScores(m):
			add(groundTruthTemplate, m.Metric.String())
		case m.Status == api.StatusInsufficientSample:
			add(lowSampleTemplate, m.Attribute)
		}
	}

	for _, c := range cells {
		for i := range c.Metrics {
			if c.Metrics[i].Failed() {
				add(intersectionalTemplate, c.Label)
				break
			}
		}
	}

	if len(set) == 0 {
		add(noFindings)
	}

	recs := make([]string, 0, len(set))
	for r := range set {
		recs = append(recs, r)
	}
	sort.Strings(recs)

	return Assessment{Level: Level(failed), FailedCount: failed, Recommendations: recs}
}

// hasScores reports whether any group was actually scored.
func hasScores(m *api.FairnessMetricResult) bool {
	for _, g := range m.Groups {
		if !g.Score.IsNaN() {
			return true
		}
	}
	return false
}
