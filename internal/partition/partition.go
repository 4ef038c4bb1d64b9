// Package partition splits a sample population into protected groups and
// intersectional cells. Partitions are index sets over the caller's slice;
// the samples themselves are never copied or reordered.
package partition

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fractal-lba/fairmind/internal/api"
)

const keySep = "\x1f"

// Group is an immutable (attribute -> value) tuple plus the rows it selects.
// Undersized groups are kept and flagged so they stay visible in output.
type Group struct {
	Label              string
	Attributes         []string
	Values             []string
	Indices            []int
	InsufficientSample bool
}

// Size returns the number of rows in the group.
func (g Group) Size() int { return len(g.Indices) }

// Cell returns the attribute -> value map of the group.
func (g Group) Cell() map[string]string {
	cell := make(map[string]string, len(g.Attributes))
	for i, a := range g.Attributes {
		cell[a] = g.Values[i]
	}
	return cell
}

// Combination is one attribute combination and its observed cells.
type Combination struct {
	Attributes []string
	Product    int
	Cells      []Group
}

// Partitioner enforces the minimum cell size and the intersectional ceilings.
type Partitioner struct {
	MinCellSize            int
	MaxOrder               int
	MaxCellsPerCombination int
	Logger                 *zap.Logger
}

// New builds a Partitioner from an analysis configuration.
func New(cfg api.AnalysisConfig, logger *zap.Logger) *Partitioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Partitioner{
		MinCellSize:            cfg.MinCellSize,
		MaxOrder:               cfg.MaxIntersectionOrder,
		MaxCellsPerCombination: cfg.MaxCellsPerCombination,
		Logger:                 logger,
	}
}

// Labels extracts the value column of attribute.
func Labels(samples []api.Sample, attribute string) []string {
	labels := make([]string, len(samples))
	for i, s := range samples {
		labels[i] = s.Attributes[attribute]
	}
	return labels
}

// ObservedValues returns the sorted distinct values of attribute.
func ObservedValues(samples []api.Sample, attribute string) []string {
	seen := make(map[string]struct{})
	for _, s := range samples {
		seen[s.Attributes[attribute]] = struct{}{}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// PartitionBy groups samples by a single attribute, one group per observed
// value, sorted by value.
func (p *Partitioner) PartitionBy(samples []api.Sample, attribute string) []Group {
	groups := p.PartitionLabels(Labels(samples, attribute))
	for i := range groups {
		groups[i].Attributes = []string{attribute}
	}
	return groups
}

// PartitionLabels groups row indices by a precomputed label column.
func (p *Partitioner) PartitionLabels(labels []string) []Group {
	index := make(map[string]int)
	var groups []Group
	for i, label := range labels {
		gi, ok := index[label]
		if !ok {
			gi = len(groups)
			index[label] = gi
			groups = append(groups, Group{Label: label, Values: []string{label}})
		}
		groups[gi].Indices = append(groups[gi].Indices, i)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Label < groups[j].Label })
	for i := range groups {
		groups[i].InsufficientSample = groups[i].Size() < p.MinCellSize
	}
	return groups
}

// PartitionByCombination enumerates every attribute combination of size
// 2..maxOrder (capped by MaxOrder and len(attributes)) and partitions the
// samples into the observed cells of each. A combination whose value
// product exceeds MaxCellsPerCombination is skipped and reported.
func (p *Partitioner) PartitionByCombination(samples []api.Sample, attributes []string, maxOrder int) ([]Combination, []api.SkippedCombination) {
	order := len(attributes)
	if maxOrder > 0 && maxOrder < order {
		order = maxOrder
	}
	if p.MaxOrder > 0 && p.MaxOrder < order {
		order = p.MaxOrder
	}

	cardinality := make(map[string]int, len(attributes))
	for _, a := range attributes {
		cardinality[a] = len(ObservedValues(samples, a))
	}

	var combos []Combination
	var skipped []api.SkippedCombination
	for k := 2; k <= order; k++ {
		for _, idx := range Combinations(len(attributes), k) {
			attrs := make([]string, k)
			product := 1
			for i, j := range idx {
				attrs[i] = attributes[j]
				product *= cardinality[attributes[j]]
			}

			if p.MaxCellsPerCombination > 0 && product > p.MaxCellsPerCombination {
				p.Logger.Warn("TooManyCellsWarning: skipping attribute combination",
					zap.Strings("attributes", attrs),
					zap.Int("cells", product),
					zap.Int("ceiling", p.MaxCellsPerCombination))
				skipped = append(skipped, api.SkippedCombination{Attributes: attrs, CellCount: product})
				continue
			}

			combos = append(combos, Combination{
				Attributes: attrs,
				Product:    product,
				Cells:      p.cells(samples, attrs),
			})
		}
	}
	return combos, skipped
}

func (p *Partitioner) cells(samples []api.Sample, attrs []string) []Group {
	index := make(map[string]int)
	var cells []Group
	values := make([]string, len(attrs))
	for i, s := range samples {
		for j, a := range attrs {
			values[j] = s.Attributes[a]
		}
		key := strings.Join(values, keySep)
		ci, ok := index[key]
		if !ok {
			ci = len(cells)
			index[key] = ci
			cells = append(cells, Group{
				Label:      CellLabel(attrs, values),
				Attributes: attrs,
				Values:     append([]string(nil), values...),
			})
		}
		cells[ci].Indices = append(cells[ci].Indices, i)
	}

	sort.Slice(cells, func(i, j int) bool { return cells[i].Label < cells[j].Label })
	for i := range cells {
		cells[i].InsufficientSample = cells[i].Size() < p.MinCellSize
	}
	return cells
}

// CellLabel renders a cell as "a=x,b=y" in attribute order.
func CellLabel(attrs, values []string) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = a + "=" + values[i]
	}
	return strings.Join(parts, ",")
}

// Combinations returns every k-subset of {0..n-1} in lexicographic order.
func Combinations(n, k int) [][]int {
	if k <= 0 || k > n {
		return nil
	}
	var out [][]int
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		out = append(out, append([]int(nil), idx...))
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
