package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fractal-lba/fairmind/internal/analysis"
	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/store"
)

type analyzeOpts struct {
	format         string
	attributes     []string
	metrics        []string
	intersectional bool
	output         string
	failOn         string
	persist        bool
	compact        bool
}

// configKey binds an AnalysisConfig field to a flag and a viper key under
// "analysis.".
type configKey struct {
	key   string
	flag  string
	usage string
	apply func(v *viper.Viper, key string, cfg *api.AnalysisConfig)
}

var configKeys = []configKey{
	{"threshold", "threshold", "maximum tolerated disparity", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.Threshold = v.GetFloat64(k) }},
	{"ratio_threshold", "ratio-threshold", "minimum tolerated min/max ratio", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.RatioThreshold = v.GetFloat64(k) }},
	{"fairness_criterion", "criterion", "pass criterion: disparity or ratio", func(v *viper.Viper, k string, c *api.AnalysisConfig) {
		c.FairnessCriterion = api.FairnessCriterion(v.GetString(k))
	}},
	{"bootstrap_iterations", "bootstrap", "bootstrap resamples for confidence intervals (0 disables)", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.BootstrapIterations = v.GetInt(k) }},
	{"permutation_iterations", "permutations", "label permutations for p-values (0 disables)", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.PermutationIterations = v.GetInt(k) }},
	{"confidence_level", "confidence", "confidence level of intervals", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.ConfidenceLevel = v.GetFloat64(k) }},
	{"min_cell_size", "min-cell-size", "minimum group size for comparison", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.MinCellSize = v.GetInt(k) }},
	{"max_intersection_order", "max-order", "largest attribute combination analyzed", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.MaxIntersectionOrder = v.GetInt(k) }},
	{"max_cells_per_combination", "max-cells", "skip combinations with more cells than this", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.MaxCellsPerCombination = v.GetInt(k) }},
	{"positive_label", "positive-label", "prediction value treated as the favorable outcome", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.PositiveLabel = v.GetInt(k) }},
	{"workers", "workers", "parallel workers (0 uses GOMAXPROCS)", func(v *viper.Viper, k string, c *api.AnalysisConfig) { c.Workers = v.GetInt(k) }},
	{"random_seed", "seed", "seed for bootstrap and permutation resampling", func(v *viper.Viper, k string, c *api.AnalysisConfig) {
		seed := v.GetInt64(k)
		c.RandomSeed = &seed
	}},
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOpts
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Run a bias analysis on a request file (JSON) or dataset (CSV)",
		Long: `Reads an analysis request as JSON, or a dataset as CSV, from the given
file or stdin ("-" or no argument) and prints the analysis result as JSON.

Config values resolve in order: flags, FAIRMIND_ANALYSIS_* environment
variables, the "analysis" section of the config file, the request itself,
then the built-in defaults.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			in, err := openInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()
			if opts.format == "" {
				opts.format = formatFor(path)
			}

			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return a.runAnalyze(ctx, in, out, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "input format: json or csv (default from file extension)")
	f.StringSliceVar(&opts.attributes, "attributes", nil, "protected attributes (required for CSV input)")
	f.StringSliceVar(&opts.metrics, "metrics", nil, "metrics to compute (default all)")
	f.BoolVar(&opts.intersectional, "intersectional", false, "also analyze attribute intersections")
	f.StringVarP(&opts.output, "output", "o", "", "write the result to a file instead of stdout")
	f.StringVar(&opts.failOn, "fail-on", "", "exit with status 2 when the risk level is at or above this level")
	f.BoolVar(&opts.persist, "persist", false, "save the result in the configured result store")
	f.BoolVar(&opts.compact, "compact", false, "print compact JSON")

	defaults := api.DefaultAnalysisConfig()
	for _, ck := range configKeys {
		switch ck.key {
		case "threshold", "ratio_threshold", "confidence_level":
			f.Float64(ck.flag, 0, ck.usage)
		case "fairness_criterion":
			f.String(ck.flag, string(defaults.FairnessCriterion), ck.usage)
		case "random_seed":
			f.Int64(ck.flag, 0, ck.usage)
		default:
			f.Int(ck.flag, 0, ck.usage)
		}
		mustBind(a.v, "analysis."+ck.key, f.Lookup(ck.flag))
	}
	return cmd
}

// applyConfig overlays every configured analysis key on cfg.
func applyConfig(v *viper.Viper, cfg *api.AnalysisConfig) {
	for _, ck := range configKeys {
		key := "analysis." + ck.key
		if v.IsSet(key) {
			ck.apply(v, key, cfg)
		}
	}
}

func (a *app) runAnalyze(ctx context.Context, in io.Reader, out io.Writer, opts analyzeOpts) error {
	var failOn api.RiskLevel
	if opts.failOn != "" {
		l, err := api.ParseRiskLevel(opts.failOn)
		if err != nil {
			return err
		}
		failOn = l
	}

	req, err := readRequest(in, opts)
	if err != nil {
		return err
	}
	applyConfig(a.v, &req.Config)

	engine := analysis.New(analysis.WithLogger(a.logger))
	res, err := engine.Analyze(ctx, req)
	if err != nil {
		return err
	}

	if opts.persist {
		if err := a.persist(ctx, res); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	if !opts.compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		return err
	}

	if failOn != "" && res.OverallRisk.Severity() >= failOn.Severity() {
		return &exitError{code: 2, msg: fmt.Sprintf("risk level %s is at or above %s", res.OverallRisk, failOn)}
	}
	return nil
}

func readRequest(in io.Reader, opts analyzeOpts) (*api.AnalysisRequest, error) {
	var req *api.AnalysisRequest
	switch strings.ToLower(opts.format) {
	case "", "json":
		req = &api.AnalysisRequest{}
		if err := json.NewDecoder(in).Decode(req); err != nil {
			return nil, fmt.Errorf("invalid request JSON: %w", err)
		}
	case "csv":
		ds, err := readCSV(in)
		if err != nil {
			return nil, err
		}
		req = &api.AnalysisRequest{Dataset: *ds, Config: api.DefaultAnalysisConfig()}
	default:
		return nil, fmt.Errorf("unknown input format %q", opts.format)
	}

	if len(opts.attributes) > 0 {
		req.ProtectedAttributes = opts.attributes
	}
	if len(opts.metrics) > 0 {
		req.Metrics = req.Metrics[:0]
		for _, name := range opts.metrics {
			m, err := api.ParseMetric(name)
			if err != nil {
				return nil, err
			}
			req.Metrics = append(req.Metrics, m)
		}
	}
	req.Intersectional = req.Intersectional || opts.intersectional
	return req, nil
}

func (a *app) persist(ctx context.Context, res *api.BiasAnalysisResult) error {
	s, err := store.Open(ctx, a.v.GetString("store.backend"), a.v.GetString("store.dsn"))
	if err != nil {
		return err
	}
	defer s.Close()
	ttl := a.v.GetDuration("store.ttl")
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if err := s.Put(ctx, res, ttl); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}
	a.logger.Info("result persisted", zap.String("analysis_id", res.AnalysisID))
	return nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return "csv"
	}
	return "json"
}
