package fairness

import (
	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/partition"
)

// BaselineLabel names the full-population group intersectional cells are
// compared against.
const BaselineLabel = "overall"

// Row pairs a sample with its group label so resampling keeps them
// together.
type Row struct {
	Sample api.Sample
	Label  string
}

// Rows zips samples with a label column.
func Rows(samples []api.Sample, labels []string) []Row {
	rows := make([]Row, len(samples))
	for i, s := range samples {
		rows[i] = Row{Sample: s, Label: labels[i]}
	}
	return rows
}

var unbounded = &partition.Partitioner{}

// RowDisparity returns the disparity statistic of metric over rows grouped
// by label. Group size floors do not apply to replicates. With baseline
// set, only rows labelled target are kept as a group and compared with the
// whole replicate.
func (c *Calculator) RowDisparity(metric api.Metric, baseline bool, target string) func([]Row) float64 {
	return func(rows []Row) float64 {
		samples := make([]api.Sample, len(rows))
		labels := make([]string, len(rows))
		for i, r := range rows {
			samples[i] = r.Sample
			labels[i] = r.Label
		}
		if !baseline {
			return c.Disparity(metric, samples, unbounded.PartitionLabels(labels))
		}
		return c.Disparity(metric, samples, BaselineGroups(labels, target))
	}
}

// LabelDisparity returns the disparity of metric over samples as a function
// of a (possibly permuted) label column.
func (c *Calculator) LabelDisparity(metric api.Metric, samples []api.Sample) func([]string) float64 {
	return func(labels []string) float64 {
		return c.Disparity(metric, samples, unbounded.PartitionLabels(labels))
	}
}

// BaselineGroups builds the target cell and the full-population baseline
// from a label column.
func BaselineGroups(labels []string, target string) []partition.Group {
	cell := partition.Group{Label: target, Values: []string{target}}
	all := partition.Group{Label: BaselineLabel, Values: []string{BaselineLabel}, Indices: make([]int, len(labels))}
	for i, l := range labels {
		all.Indices[i] = i
		if l == target {
			cell.Indices = append(cell.Indices, i)
		}
	}
	return []partition.Group{cell, all}
}
