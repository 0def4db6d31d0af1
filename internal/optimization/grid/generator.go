package grid

import (
	"math"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Grid is one enumeration of the full search space.
type Grid struct {
	Schema *Schema
	Rows   []Configuration
}

// Generator enumerates the cross-product of every tunable's values.
type Generator struct {
	space          *tunables.Space
	maxConfigs     int
	maxSuggestions int
	logger         *zap.Logger
}

// NewGenerator creates a grid generator over space.
func NewGenerator(space *tunables.Space, maxConfigs, maxSuggestions int, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		space:          space,
		maxConfigs:     maxConfigs,
		maxSuggestions: maxSuggestions,
		logger:         logger,
	}
}

// Size returns the number of grid points, or +Inf if any tunable is
// unbounded.
func (g *Generator) Size() float64 {
	ts := g.space.Tunables()
	cards := make([]float64, len(ts))
	for i, t := range ts {
		if c := t.Cardinality(); c == tunables.Unbounded {
			cards[i] = math.Inf(1)
		} else {
			cards[i] = float64(c)
		}
	}
	return floats.Prod(cards)
}

// SanityCheck rejects spaces that cannot be enumerated and warns when the
// grid is larger than the configured limits.
func (g *Generator) SanityCheck() error {
	size := g.Size()
	if math.IsInf(size, 1) {
		return optimization.NewError(optimization.KindConfiguration,
			"unquantized tunables are not supported for grid search").
			WithComponent("grid").WithOperation("SanityCheck")
	}
	if size > float64(g.maxConfigs) {
		g.logger.Warn("Large number of config points requested for grid search",
			zap.Float64("size", size), zap.Int("max_configs", g.maxConfigs))
	}
	if size > float64(g.maxSuggestions) {
		g.logger.Warn("Grid search size is larger than the suggestion budget",
			zap.Float64("size", size), zap.Int("max_suggestions", g.maxSuggestions))
	}
	return nil
}

// Generate enumerates the grid. Columns are ordered by tunable name and the
// last column varies fastest, so the result is identical on every call.
func (g *Generator) Generate() (*Grid, error) {
	names := g.space.Names()
	slices.Sort(names)
	schema := NewSchema(names)

	axes := make([][]any, len(names))
	total := 1
	for i, name := range names {
		t, _ := g.space.Get(name)
		values, err := t.Values()
		if err != nil {
			return nil, optimization.WrapError(err, optimization.KindConfiguration, "cannot enumerate tunable").
				WithComponent("grid").WithOperation("Generate")
		}
		if len(values) == 0 {
			return &Grid{Schema: schema}, nil
		}
		axes[i] = values
		total *= len(values)
	}

	rows := make([]Configuration, 0, total)
	seen := make(map[string]struct{}, total)
	cursor := make([]int, len(axes))
	for {
		values := make([]any, len(axes))
		for i, j := range cursor {
			values[i] = axes[i][j]
		}
		c := schema.newConfiguration(values)
		if _, dup := seen[c.key]; !dup {
			seen[c.key] = struct{}{}
			rows = append(rows, c)
		}

		// Advance the odometer from the rightmost column.
		i := len(cursor) - 1
		for ; i >= 0; i-- {
			cursor[i]++
			if cursor[i] < len(axes[i]) {
				break
			}
			cursor[i] = 0
		}
		if i < 0 {
			break
		}
	}

	g.logger.Debug("Generated grid", zap.Strings("columns", names), zap.Int("size", len(rows)))
	return &Grid{Schema: schema, Rows: rows}, nil
}
