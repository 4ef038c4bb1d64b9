// Package analysis is the public entry point of the bias engine. It drives
// validation, per-attribute metrics, the optional intersectional pass and
// risk assessment, and assembles an immutable BiasAnalysisResult.
package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/fairness"
	"github.com/fractal-lba/fairmind/internal/intersectional"
	"github.com/fractal-lba/fairmind/internal/metrics"
	"github.com/fractal-lba/fairmind/internal/partition"
	"github.com/fractal-lba/fairmind/internal/resample"
	"github.com/fractal-lba/fairmind/internal/risk"
	"github.com/fractal-lba/fairmind/pkg/otel"
)

const tracerName = "fairmind/analysis"

// Engine runs analyses. It holds no per-analysis state and is safe for
// concurrent use.
type Engine struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records Prometheus metrics for every analysis.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// run carries the working set of one analysis.
type run struct {
	req      *api.AnalysisRequest
	cfg      api.AnalysisConfig
	samples  []api.Sample
	labeled  int
	metrics  []api.Metric
	calc     *fairness.Calculator
	part     *partition.Partitioner
	logger   *zap.Logger
	warnings []api.Warning
}

// Analyze runs one analysis. On failure the error is a *StateError naming
// the state that failed; validation failures wrap *api.ValidationError.
func (e *Engine) Analyze(ctx context.Context, req *api.AnalysisRequest) (*api.BiasAnalysisResult, error) {
	start := time.Now()
	st := &tracker{}
	st.enter(StateValidating)

	ctx, span := otel.StartSpan(ctx, tracerName, "analysis.Analyze")
	defer span.End()

	res, err := e.analyze(ctx, req, st)
	if err != nil {
		serr := st.fail(err)
		otel.RecordError(span, serr, string(serr.State))
		e.metrics.ObserveFailure(serr)
		e.logger.Warn("analysis failed", zap.Error(serr), zap.Strings("states", st.visited))
		return nil, serr
	}

	otel.AddEvent(span, "done", otel.RiskAttributes(string(res.OverallRisk), res.FailedCount)...)
	e.metrics.ObserveResult(res, time.Since(start))
	e.logger.Info("analysis complete",
		zap.String("analysis_id", res.AnalysisID),
		zap.String("risk", string(res.OverallRisk)),
		zap.Int("failed", res.FailedCount),
		zap.Int("samples", res.Metadata.SampleCount),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (e *Engine) analyze(ctx context.Context, req *api.AnalysisRequest, st *tracker) (*api.BiasAnalysisResult, error) {
	if req == nil {
		return nil, &api.ValidationError{Field: "request", Message: "request is nil"}
	}
	if err := Validate(req); err != nil {
		return nil, err
	}
	id, err := AnalysisID(req)
	if err != nil {
		return nil, fmt.Errorf("fingerprint request: %w", err)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(otel.AnalysisAttributes(id, req.Dataset.Len(), len(req.ProtectedAttributes), req.Intersectional)...)

	r := &run{
		req:     req,
		cfg:     req.Config,
		samples: req.Dataset.Samples(),
		metrics: req.RequestedMetrics(),
		calc:    fairness.NewCalculator(fairness.OptionsFromConfig(req.Config)),
		logger:  e.logger.With(zap.String("analysis_id", id)),
	}
	r.part = partition.New(r.cfg, r.logger)
	for _, s := range r.samples {
		if s.Labeled() {
			r.labeled++
		}
	}

	st.enter(StateComputingGroupMetrics)
	otel.AddEvent(span, "state", otel.AttrState.String(string(st.current)))
	results, summaries, err := r.groupMetrics(ctx)
	if err != nil {
		return nil, err
	}
	for i := range results {
		m := &results[i]
		otel.AddEvent(span, "metric", otel.MetricAttributes(m.Metric.String(), m.Attribute, float64(m.Disparity), m.Passed)...)
	}

	var inter intersectional.Result
	intersectionalRan := req.Intersectional && len(req.ProtectedAttributes) >= 2
	if req.Intersectional && !intersectionalRan {
		r.logger.Info("intersectional analysis needs at least two protected attributes; skipping")
	}
	if intersectionalRan {
		st.enter(StateComputingIntersectional)
		otel.AddEvent(span, "state", otel.AttrState.String(string(st.current)))
		analyzer := intersectional.New(r.calc, r.part, r.cfg, r.logger)
		inter, err = analyzer.Analyze(ctx, r.samples, req.ProtectedAttributes, r.metrics, r.labeled > 0)
		if err != nil {
			return nil, err
		}
		for _, sk := range inter.Skipped {
			r.warnings = append(r.warnings, api.Warning{
				Kind:    api.TooManyCellsWarning,
				Message: fmt.Sprintf("combination %v has %d cells and was skipped", sk.Attributes, sk.CellCount),
			})
		}
		span.SetAttributes(otel.AttrCells.Int(len(inter.Cells)))
	}

	st.enter(StateAssessing)
	otel.AddEvent(span, "state", otel.AttrState.String(string(st.current)))
	assessment := risk.Assess(results, inter.Cells)

	st.enter(StateDone)
	cells := inter.Cells
	if cells == nil {
		cells = []api.IntersectionalCellResult{}
	}
	return &api.BiasAnalysisResult{
		AnalysisID:      id,
		Metrics:         results,
		Intersectional:  cells,
		OverallRisk:     assessment.Level,
		FailedCount:     assessment.FailedCount,
		Recommendations: assessment.Recommendations,
		Metadata: api.Metadata{
			SampleCount:             len(r.samples),
			LabeledCount:            r.labeled,
			HasGroundTruth:          r.labeled > 0,
			PositiveLabel:           r.cfg.PositiveLabel,
			Attributes:              summaries,
			MetricsRequested:        r.metrics,
			IntersectionalRequested: req.Intersectional,
			CombinationsAttempted:   inter.Attempted,
			SkippedCombinations:     inter.Skipped,
			Warnings:                r.warnings,
			States:                  append([]string(nil), st.visited...),
			Config:                  r.cfg,
		},
	}, nil
}

// groupMetrics computes every requested metric for every protected
// attribute, then attaches resampled confidence and adjusted p-values.
func (r *run) groupMetrics(ctx context.Context) ([]api.FairnessMetricResult, []api.AttributeSummary, error) {
	var results []api.FairnessMetricResult
	var summaries []api.AttributeSummary
	var pvals []float64
	var pidx []int

	for _, attr := range r.req.ProtectedAttributes {
		groups := r.part.PartitionBy(r.samples, attr)
		summary := api.AttributeSummary{
			Name:        attr,
			Values:      partition.ObservedValues(r.samples, attr),
			GroupSizes:  make(map[string]int, len(groups)),
			SingleGroup: len(groups) == 1,
		}
		for _, g := range groups {
			summary.GroupSizes[g.Label] = g.Size()
		}
		summaries = append(summaries, summary)
		if summary.SingleGroup {
			r.warnings = append(r.warnings, api.Warning{
				Kind:      api.SingleGroupWarning,
				Attribute: attr,
				Message:   "attribute has a single observed value and is excluded from risk aggregation",
			})
		}

		eligibleSamples, eligibleLabels := eligible(r.samples, groups)

		for _, m := range r.metrics {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			res := r.calc.Compute(m, attr, r.samples, groups)

			if res.Status == api.StatusComputed && !res.SingleGroup {
				if r.cfg.BootstrapIterations > 0 {
					iv, err := resample.BootstrapCI(ctx, fairness.Rows(eligibleSamples, eligibleLabels),
						r.calc.RowDisparity(m, false, ""), r.options(r.cfg.BootstrapIterations))
					if err != nil {
						return nil, nil, fmt.Errorf("bootstrap %s/%s: %w", m, attr, err)
					}
					res.ConfidenceInterval = &iv
				}
				if r.cfg.PermutationIterations > 0 {
					p, err := resample.PermutationTest(ctx, eligibleLabels,
						r.calc.LabelDisparity(m, eligibleSamples), r.options(r.cfg.PermutationIterations))
					if err != nil {
						return nil, nil, fmt.Errorf("permutation %s/%s: %w", m, attr, err)
					}
					if !math.IsNaN(p) {
						res.PValue = api.Float(p).Ptr()
						pvals = append(pvals, p)
						pidx = append(pidx, len(results))
					}
				}
			}

			r.logger.Debug("metric computed",
				zap.String("metric", m.String()),
				zap.String("attribute", attr),
				zap.String("status", string(res.Status)),
				zap.Float64("disparity", float64(res.Disparity)))
			results = append(results, res)
		}
	}

	for i, adj := range resample.BenjaminiHochberg(pvals) {
		results[pidx[i]].AdjustedPValue = api.Float(adj).Ptr()
	}
	return results, summaries, nil
}

func (r *run) options(iterations int) resample.Options {
	return resample.Options{
		Iterations:      iterations,
		ConfidenceLevel: r.cfg.ConfidenceLevel,
		Seed:            r.cfg.Seed(),
		Workers:         r.cfg.Workers,
	}
}

// eligible returns the rows of groups that meet the minimum cell size,
// with their group labels.
func eligible(samples []api.Sample, groups []partition.Group) ([]api.Sample, []string) {
	var out []api.Sample
	var labels []string
	for _, g := range groups {
		if g.InsufficientSample {
			continue
		}
		for _, idx := range g.Indices {
			out = append(out, samples[idx])
			labels = append(labels, g.Label)
		}
	}
	return out, labels
}
