package api

import (
	"fmt"
	"sort"
	"strings"
)

// Sample is one evaluation row: a thresholded prediction, an optional
// ground-truth label and the protected attribute values of the subject.
type Sample struct {
	Prediction  int               `json:"prediction"`
	GroundTruth *int              `json:"ground_truth,omitempty"`
	Attributes  map[string]string `json:"attributes"`
}

// Labeled reports whether the row carries a ground-truth label.
func (s Sample) Labeled() bool { return s.GroundTruth != nil }

// Dataset is the columnar input contract handed over by the simulation and
// dataset services. GroundTruth is nil when no labels exist at all; a nil
// entry marks an individual unlabeled row.
type Dataset struct {
	Predictions []int               `json:"predictions"`
	GroundTruth []*int              `json:"ground_truth,omitempty"`
	Attributes  []map[string]string `json:"attributes"`
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Predictions) }

// Samples zips the columns into rows. Callers must validate lengths first.
// Attribute maps are shared with the dataset, never mutated.
func (d *Dataset) Samples() []Sample {
	samples := make([]Sample, len(d.Predictions))
	for i, p := range d.Predictions {
		samples[i].Prediction = p
		if d.GroundTruth != nil && d.GroundTruth[i] != nil {
			v := *d.GroundTruth[i]
			samples[i].GroundTruth = &v
		}
		if i < len(d.Attributes) {
			samples[i].Attributes = d.Attributes[i]
		}
	}
	return samples
}

// Metric identifies one of the four canonical group-fairness metrics.
type Metric int

const (
	DemographicParity Metric = iota
	EqualizedOdds
	EqualOpportunity
	PredictiveParity
)

// AllMetrics lists every metric in canonical order.
var AllMetrics = []Metric{DemographicParity, EqualizedOdds, EqualOpportunity, PredictiveParity}

var metricNames = [...]string{
	DemographicParity: "demographic_parity",
	EqualizedOdds:     "equalized_odds",
	EqualOpportunity:  "equal_opportunity",
	PredictiveParity:  "predictive_parity",
}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("metric(%d)", int(m))
	}
	return metricNames[m]
}

// Valid reports whether m is one of the canonical metrics.
func (m Metric) Valid() bool { return m >= 0 && int(m) < len(metricNames) }

// RequiresGroundTruth reports whether the metric conditions on true labels.
func (m Metric) RequiresGroundTruth() bool { return m != DemographicParity }

// ParseMetric maps a metric name to its Metric.
func ParseMetric(name string) (Metric, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range metricNames {
		if s == n {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid metric %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Status tells a consumer whether a value was actually computed.
type Status string

const (
	StatusComputed           Status = "computed"
	StatusInsufficientSample Status = "insufficient_sample"
	StatusUndefined          Status = "undefined"
)

// RiskLevel is the overall risk tier of an analysis.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Severity orders risk levels from low (0) to critical (3); unknown levels
// are -1.
func (l RiskLevel) Severity() int {
	if s, ok := riskOrder[l]; ok {
		return s
	}
	return -1
}

// ParseRiskLevel maps a name to its RiskLevel.
func ParseRiskLevel(name string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(name)))
	if l.Severity() < 0 {
		return "", fmt.Errorf("unknown risk level %q", name)
	}
	return l, nil
}

// Interval is a two-sided interval at the given confidence level.
type Interval struct {
	Lower Float   `json:"lower"`
	Upper Float   `json:"upper"`
	Level float64 `json:"level"`
}

// Width returns Upper-Lower, NaN when either bound is undefined.
func (i Interval) Width() float64 { return float64(i.Upper) - float64(i.Lower) }

// GroupScore is the per-group entry of a metric result.
type GroupScore struct {
	Group      string            `json:"group"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Size       int               `json:"size"`
	Score      Float             `json:"score"`
	Components map[string]Float  `json:"components,omitempty"`
	Interval   *Interval         `json:"interval,omitempty"`
	Status     Status            `json:"status"`
}

// FairnessMetricResult is created once per metric per attribute (or
// intersectional cell) and never modified afterwards.
type FairnessMetricResult struct {
	Metric             Metric       `json:"metric_name"`
	Attribute          string       `json:"attribute"`
	Groups             []GroupScore `json:"groups"`
	Disparity          Float        `json:"disparity"`
	Ratio              Float        `json:"ratio"`
	Passed             *bool        `json:"passed"`
	Status             Status       `json:"status"`
	SingleGroup        bool         `json:"single_group"`
	ConfidenceInterval *Interval    `json:"confidence_interval,omitempty"`
	PValue             *Float       `json:"p_value,omitempty"`
	AdjustedPValue     *Float       `json:"adjusted_p_value,omitempty"`
	Warnings           []Warning    `json:"warnings,omitempty"`
	Interpretation     string       `json:"interpretation"`
}

// PerGroupScore returns the group label -> score view of Groups.
func (r *FairnessMetricResult) PerGroupScore() map[string]float64 {
	out := make(map[string]float64, len(r.Groups))
	for _, g := range r.Groups {
		out[g.Group] = float64(g.Score)
	}
	return out
}

// Failed reports whether the metric was evaluated and did not pass.
func (r *FairnessMetricResult) Failed() bool { return r.Passed != nil && !*r.Passed }

// IntersectionalCellResult holds the metrics of one compound-identity cell
// measured against the full population.
type IntersectionalCellResult struct {
	Label        string                 `json:"label"`
	Cell         map[string]string      `json:"cell"`
	Attributes   []string               `json:"attributes"`
	Size         int                    `json:"size"`
	Status       Status                 `json:"status"`
	Reason       string                 `json:"reason,omitempty"`
	Metrics      []FairnessMetricResult `json:"metrics"`
	MaxDisparity Float                  `json:"max_disparity"`
}

// AttributeSummary describes a protected attribute as observed in-sample.
type AttributeSummary struct {
	Name        string         `json:"name"`
	Values      []string       `json:"observed_values"`
	GroupSizes  map[string]int `json:"group_sizes"`
	SingleGroup bool           `json:"single_group"`
}

// SkippedCombination is an attribute combination omitted for exceeding the
// cell-count ceiling.
type SkippedCombination struct {
	Attributes []string `json:"attributes"`
	CellCount  int      `json:"cell_count"`
}

// Metadata records how an analysis was run.
type Metadata struct {
	SampleCount             int                  `json:"sample_count"`
	LabeledCount            int                  `json:"labeled_count"`
	HasGroundTruth          bool                 `json:"has_ground_truth"`
	PositiveLabel           int                  `json:"positive_label"`
	Attributes              []AttributeSummary   `json:"attributes"`
	MetricsRequested        []Metric             `json:"metrics_requested"`
	IntersectionalRequested bool                 `json:"intersectional_requested"`
	CombinationsAttempted   int                  `json:"combinations_attempted"`
	SkippedCombinations     []SkippedCombination `json:"skipped_combinations,omitempty"`
	Warnings                []Warning            `json:"warnings,omitempty"`
	States                  []string             `json:"states"`
	Config                  AnalysisConfig       `json:"config"`
}

// BiasAnalysisResult is the immutable outcome of one analysis call.
type BiasAnalysisResult struct {
	AnalysisID      string                     `json:"analysis_id"`
	Metrics         []FairnessMetricResult     `json:"metrics"`
	Intersectional  []IntersectionalCellResult `json:"intersectional"`
	OverallRisk     RiskLevel                  `json:"overall_risk"`
	FailedCount     int                        `json:"failed_count"`
	Recommendations []string                   `json:"recommendations"`
	Metadata        Metadata                   `json:"metadata"`
}

// AnalysisRequest is the orchestrator input.
type AnalysisRequest struct {
	Dataset             Dataset        `json:"dataset"`
	ProtectedAttributes []string       `json:"protected_attributes"`
	Metrics             []Metric       `json:"metrics,omitempty"`
	Intersectional      bool           `json:"intersectional"`
	Config              AnalysisConfig `json:"config"`
}

// RequestedMetrics returns the metrics to compute, all four when unset,
// deduplicated and in canonical order.
func (r *AnalysisRequest) RequestedMetrics() []Metric {
	if len(r.Metrics) == 0 {
		return append([]Metric(nil), AllMetrics...)
	}
	seen := make(map[Metric]bool, len(r.Metrics))
	out := make([]Metric, 0, len(r.Metrics))
	for _, m := range r.Metrics {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
