// Package intersectional measures compound-identity cells, such as
// "gender=f,race=b", against the full population.
package intersectional

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/fairness"
	"github.com/fractal-lba/fairmind/internal/partition"
	"github.com/fractal-lba/fairmind/internal/resample"
)

// Result is the cross-tabulated outcome of an intersectional pass.
type Result struct {
	Cells     []api.IntersectionalCellResult
	Skipped   []api.SkippedCombination
	Attempted int
}

// Analyzer re-applies the metric calculator to every intersectional cell.
type Analyzer struct {
	calc   *fairness.Calculator
	part   *partition.Partitioner
	cfg    api.AnalysisConfig
	logger *zap.Logger
}

// New creates an analyzer.
func New(calc *fairness.Calculator, part *partition.Partitioner, cfg api.AnalysisConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{calc: calc, part: part, cfg: cfg, logger: logger}
}

// ApplicableMetrics returns the metrics computed per cell: demographic
// parity always and first, then the requested ground-truth metrics when
// labels exist.
func ApplicableMetrics(requested []api.Metric, hasGroundTruth bool) []api.Metric {
	out := []api.Metric{api.DemographicParity}
	if !hasGroundTruth {
		return out
	}
	for _, m := range requested {
		if m.RequiresGroundTruth() && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

type job struct {
	combo partition.Combination
	cell  partition.Group
}

// Analyze partitions samples by every attribute combination and computes
// the applicable metrics per cell. Cells run in parallel; the result is
// sorted by max disparity, descending.
func (a *Analyzer) Analyze(ctx context.Context, samples []api.Sample, attributes []string, metrics []api.Metric, hasGroundTruth bool) (Result, error) {
	combos, skipped := a.part.PartitionByCombination(samples, attributes, a.cfg.MaxIntersectionOrder)
	res := Result{Skipped: skipped, Attempted: len(combos) + len(skipped)}
	applicable := ApplicableMetrics(metrics, hasGroundTruth)

	var jobs []job
	for _, c := range combos {
		for _, cell := range c.Cells {
			jobs = append(jobs, job{combo: c, cell: cell})
		}
	}
	a.logger.Debug("intersectional analysis",
		zap.Int("combinations", len(combos)),
		zap.Int("skipped", len(skipped)),
		zap.Int("cells", len(jobs)))

	cells := make([]api.IntersectionalCellResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	for i, j := range jobs {
		g.Go(func() error {
			out, err := a.analyzeCell(gctx, samples, j, applicable)
			if err != nil {
				return fmt.Errorf("cell %s: %w", j.cell.Label, err)
			}
			cells[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	SortCells(cells)
	res.Cells = cells
	return res, nil
}

func (a *Analyzer) analyzeCell(ctx context.Context, samples []api.Sample, j job, metrics []api.Metric) (api.IntersectionalCellResult, error) {
	cell := j.cell
	out := api.IntersectionalCellResult{
		Label:        cell.Label,
		Cell:         cell.Cell(),
		Attributes:   j.combo.Attributes,
		Size:         cell.Size(),
		MaxDisparity: api.NaN(),
	}
	if cell.InsufficientSample {
		out.Status = api.StatusInsufficientSample
		out.Reason = fmt.Sprintf("cell has %d samples, below the minimum cell size of %d", cell.Size(), a.part.MinCellSize)
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	groups := []partition.Group{cell, baseline(len(samples))}
	attr := strings.Join(j.combo.Attributes, "&")

	var labels []string
	if a.cfg.BootstrapIterations > 0 {
		labels = make([]string, len(samples))
		for _, idx := range cell.Indices {
			labels[idx] = cell.Label
		}
	}

	maxDisp := math.NaN()
	out.Metrics = make([]api.FairnessMetricResult, 0, len(metrics))
	for _, m := range metrics {
		r := a.calc.Compute(m, attr, samples, groups)
		if r.Status == api.StatusComputed && a.cfg.BootstrapIterations > 0 {
			iv, err := resample.BootstrapCI(ctx, fairness.Rows(samples, labels),
				a.calc.RowDisparity(m, true, cell.Label), a.resampleOptions())
			if err != nil {
				return out, err
			}
			r.ConfidenceInterval = &iv
		}
		if d := float64(r.Disparity); r.Status == api.StatusComputed && (math.IsNaN(maxDisp) || d > maxDisp) {
			maxDisp = d
		}
		out.Metrics = append(out.Metrics, r)
	}

	out.MaxDisparity = api.Float(maxDisp)
	out.Status = api.StatusComputed
	if math.IsNaN(maxDisp) {
		out.Status = api.StatusUndefined
		out.Reason = "no applicable metric could be computed for this cell"
	}
	return out, nil
}

// workers is the budget shared by all cells: cells run on it and each
// cell resamples serially.
func (a *Analyzer) workers() int {
	if a.cfg.Workers > 0 {
		return a.cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// resampleOptions runs a cell's bootstrap on one worker. Results do not
// depend on the worker count.
func (a *Analyzer) resampleOptions() resample.Options {
	return resample.Options{
		Iterations:      a.cfg.BootstrapIterations,
		ConfidenceLevel: a.cfg.ConfidenceLevel,
		Seed:            a.cfg.Seed(),
		Workers:         1,
	}
}

func baseline(n int) partition.Group {
	g := partition.Group{Label: fairness.BaselineLabel, Values: []string{fairness.BaselineLabel}, Indices: make([]int, n)}
	for i := range g.Indices {
		g.Indices[i] = i
	}
	return g
}

// SortCells orders cells by max disparity descending, then size
// descending, then label. Cells without a disparity go last.
func SortCells(cells []api.IntersectionalCellResult) {
	sort.SliceStable(cells, func(i, j int) bool {
		di, dj := cells[i].MaxDisparity, cells[j].MaxDisparity
		switch {
		case di.IsNaN() != dj.IsNaN():
			return dj.IsNaN()
		case !di.IsNaN() && di != dj:
			return di > dj
		case cells[i].Size != cells[j].Size:
			return cells[i].Size > cells[j].Size
		}
		return cells[i].Label < cells[j].Label
	})
}
