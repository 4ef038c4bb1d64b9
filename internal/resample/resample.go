// Package resample runs seeded bootstrap and permutation procedures in
// parallel. Work is split into fixed batches, each with its own RNG derived
// from the seed and the batch index, so results do not depend on the
// number of workers or on scheduling.
package resample

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/fractal-lba/fairmind/internal/api"
)

const batchSize = 100

// ErrNoIterations is returned when a procedure is asked to run zero times.
var ErrNoIterations = errors.New("resample: iterations must be positive")

// Options configures a resampling run.
type Options struct {
	Iterations      int
	ConfidenceLevel float64
	Seed            int64
	Workers         int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// splitmix64 derives an independent stream seed for batch b.
func splitmix64(seed int64, b int) int64 {
	z := uint64(seed) + uint64(b+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// run executes body for every iteration, batch by batch, writing by index.
func run(ctx context.Context, opts Options, body func(rng *rand.Rand, i int)) error {
	if opts.Iterations <= 0 {
		return ErrNoIterations
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())

	batches := (opts.Iterations + batchSize - 1) / batchSize
	for b := 0; b < batches; b++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(splitmix64(opts.Seed, b)))
			end := min((b+1)*batchSize, opts.Iterations)
			for i := b * batchSize; i < end; i++ {
				body(rng, i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// BootstrapCI estimates a percentile confidence interval for fn by
// resampling rows with replacement. fn must not retain its argument.
// Iterations where fn is NaN are dropped; the bounds are NaN when fewer
// than two defined replicates remain.
func BootstrapCI[T any](ctx context.Context, rows []T, fn func([]T) float64, opts Options) (api.Interval, error) {
	level := opts.ConfidenceLevel
	if level <= 0 || level >= 1 {
		level = 0.95
	}
	out := api.Interval{Lower: api.NaN(), Upper: api.NaN(), Level: level}
	if len(rows) == 0 {
		return out, nil
	}

	n := len(rows)
	replicates := make([]float64, opts.Iterations)
	err := run(ctx, opts, func(rng *rand.Rand, i int) {
		buf := make([]T, n)
		for j := range buf {
			buf[j] = rows[rng.Intn(n)]
		}
		replicates[i] = fn(buf)
	})
	if err != nil {
		return out, err
	}

	lo, hi := Percentiles(replicates, (1-level)/2, 1-(1-level)/2)
	out.Lower, out.Upper = api.Float(lo), api.Float(hi)
	return out, nil
}

// PermutationTest returns the one-sided p-value of fn(labels) under random
// relabeling: the share of permutations whose statistic is at least the
// observed one. NaN when the observed statistic is undefined.
func PermutationTest(ctx context.Context, labels []string, fn func([]string) float64, opts Options) (float64, error) {
	if opts.Iterations <= 0 {
		return math.NaN(), ErrNoIterations
	}
	observed := fn(labels)
	if math.IsNaN(observed) {
		return math.NaN(), nil
	}

	hits := make([]int8, opts.Iterations) // 1 hit, 0 miss, -1 undefined
	err := run(ctx, opts, func(rng *rand.Rand, i int) {
		perm := append([]string(nil), labels...)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		s := fn(perm)
		switch {
		case math.IsNaN(s):
			hits[i] = -1
		case s >= observed-1e-12:
			hits[i] = 1
		}
	})
	if err != nil {
		return math.NaN(), err
	}

	count, valid := 0, 0
	for _, h := range hits {
		if h < 0 {
			continue
		}
		valid++
		count += int(h)
	}
	if valid == 0 {
		return math.NaN(), nil
	}
	return float64(count) / float64(valid), nil
}

// Percentiles returns the empirical lower and upper quantiles ps[0] and
// ps[1] of values, ignoring NaN.
func Percentiles(values []float64, ps ...float64) (float64, float64) {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) < 2 || len(ps) < 2 {
		return math.NaN(), math.NaN()
	}
	sort.Float64s(clean)
	return stat.Quantile(ps[0], stat.Empirical, clean, nil), stat.Quantile(ps[1], stat.Empirical, clean, nil)
}

// BenjaminiHochberg returns FDR-adjusted p-values in input order. NaN
// entries pass through and do not count toward the family size.
func BenjaminiHochberg(pvalues []float64) []float64 {
	adjusted := make([]float64, len(pvalues))
	idx := make([]int, 0, len(pvalues))
	for i, p := range pvalues {
		adjusted[i] = math.NaN()
		if !math.IsNaN(p) {
			idx = append(idx, i)
		}
	}
	m := len(idx)
	if m == 0 {
		return adjusted
	}
	sort.SliceStable(idx, func(a, b int) bool { return pvalues[idx[a]] < pvalues[idx[b]] })

	running := 1.0
	for rank := m; rank >= 1; rank-- {
		i := idx[rank-1]
		q := pvalues[i] * float64(m) / float64(rank)
		running = math.Min(running, q)
		adjusted[i] = running
	}
	return adjusted
}
