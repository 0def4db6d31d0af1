package grid

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/optimization"
)

// tracker owns the pending and suggested sets. A configuration is in at
// most one of them at a time.
type tracker struct {
	gen       *Generator
	schema    *Schema
	pending   *orderedSet
	suggested *orderedSet
	passes    int
	logger    *zap.Logger
}

func newTracker(gen *Generator, logger *zap.Logger) (*tracker, error) {
	t := &tracker{
		gen:       gen,
		suggested: newOrderedSet(0),
		logger:    logger,
	}
	if err := t.restart(); err != nil {
		return nil, err
	}
	return t, nil
}

// restart replaces pending with a fresh pass over the grid. Configurations
// still awaiting results stay in suggested and are not re-offered.
func (t *tracker) restart() error {
	g, err := t.gen.Generate()
	if err != nil {
		return err
	}
	if t.schema == nil {
		t.schema = g.Schema
	} else if !t.schema.Equal(g.Schema) {
		return optimization.NewError(optimization.KindConfiguration, "grid columns changed between passes").
			WithComponent("grid").WithOperation("restart")
	}

	pending := newOrderedSet(len(g.Rows))
	for _, row := range g.Rows {
		// Re-home rows onto the first pass's schema pointer.
		c := t.schema.newConfiguration(row.values)
		if t.suggested.Contains(c) {
			continue
		}
		pending.Add(c)
	}
	t.pending = pending
	t.passes++
	return nil
}

// getPending returns the pending set, regenerating it first when it is
// empty and the suggestion budget allows.
func (t *tracker) getPending(withinBudget bool) (*orderedSet, error) {
	if t.pending.Len() == 0 && withinBudget {
		t.logger.Info("No more pending configs to suggest. Restarting grid.", zap.Int("pass", t.passes+1))
		if err := t.restart(); err != nil {
			return nil, err
		}
	}
	return t.pending, nil
}

// takeNextPending removes and returns the oldest pending configuration.
func (t *tracker) takeNextPending(withinBudget bool) (Configuration, error) {
	pending, err := t.getPending(withinBudget)
	if err != nil {
		return Configuration{}, err
	}
	c, ok := pending.PopFront()
	if !ok {
		return Configuration{}, optimization.NewError(optimization.KindExhausted, "no more pending configs").
			WithComponent("grid").WithOperation("Suggest")
	}
	return c, nil
}

// take removes c from pending if present.
func (t *tracker) take(c Configuration) bool {
	return t.pending.Remove(c)
}

func (t *tracker) moveToSuggested(c Configuration) {
	t.pending.Remove(c)
	t.suggested.Add(c)
}

// resolve removes c from suggested. A missing entry is only logged, since
// results may be registered twice or come from an earlier run.
func (t *tracker) resolve(c Configuration) bool {
	if t.suggested.Remove(c) {
		return true
	}
	t.logger.Warn("Attempted to remove missing config (previously registered?) from suggested set",
		zap.Stringer("config", c))
	return false
}
