// Package grid implements an exhaustive grid search optimizer. Every
// configuration in the cross-product of the tunables' values is suggested
// once per pass; when a pass runs dry and the suggestion budget still has
// room, the grid is enumerated again.
package grid

import (
	"iter"

	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

var _ optimization.Optimizer = (*Optimizer)(nil)

// Optimizer is a grid search optimizer. It is not safe for concurrent use.
type Optimizer struct {
	*optimization.TrackBest
	tracker *tracker
	logger  *zap.Logger
}

// New builds the grid for space and returns an optimizer ready to suggest.
// It fails with a configuration error if any tunable cannot be enumerated.
func New(space *tunables.Space, cfg optimization.Config, logger *zap.Logger) (*Optimizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("grid_search")

	tb, err := optimization.NewTrackBest(space, cfg, logger)
	if err != nil {
		return nil, err
	}
	valid := tb.Config()
	gen := NewGenerator(tb.Tunables(), valid.MaxConfigs, valid.MaxSuggestions, logger)
	if err := gen.SanityCheck(); err != nil {
		return nil, err
	}
	tr, err := newTracker(gen, logger)
	if err != nil {
		return nil, err
	}
	return &Optimizer{TrackBest: tb, tracker: tr, logger: logger}, nil
}

// Schema returns the column order of the grid.
func (o *Optimizer) Schema() *Schema { return o.tracker.schema }

// Passes returns how many times the grid has been enumerated.
func (o *Optimizer) Passes() int { return o.tracker.passes }

// PendingConfigs yields the configurations not yet suggested in the current
// pass, in suggestion order.
func (o *Optimizer) PendingConfigs() iter.Seq[Configuration] { return o.tracker.pending.All() }

// SuggestedConfigs yields the configurations awaiting results.
func (o *Optimizer) SuggestedConfigs() iter.Seq[Configuration] { return o.tracker.suggested.All() }

// PendingCount returns the size of the pending set.
func (o *Optimizer) PendingCount() int { return o.tracker.pending.Len() }

// SuggestedCount returns the number of configurations awaiting results.
func (o *Optimizer) SuggestedCount() int { return o.tracker.suggested.Len() }

func (o *Optimizer) withinBudget() bool {
	return o.CurrentIteration() <= o.MaxSuggestions()
}

// Suggest returns the next configuration to evaluate. The first call
// returns the defaults when start-with-defaults is on; later calls walk
// the grid in order. It fails with an exhausted error when no pending
// configuration is left.
func (o *Optimizer) Suggest() (*tunables.Space, error) {
	space := o.BeginSuggestion()
	var c Configuration
	if o.ConsumeStartWithDefaults() {
		o.logger.Info("Use default values for the first trial")
		var err error
		c, err = o.tracker.schema.FromSpace(space.RestoreDefaults())
		if err != nil {
			return nil, optimization.WrapError(err, optimization.KindConfiguration, "cannot map defaults onto grid").
				WithComponent("grid").WithOperation("Suggest")
		}
		if !o.tracker.take(c) {
			o.logger.Debug("Default configuration is not a grid point", zap.Stringer("config", c))
		}
	} else {
		var err error
		c, err = o.tracker.takeNextPending(o.withinBudget())
		if err != nil {
			return nil, err
		}
		if err := space.Assign(c.Params()); err != nil {
			return nil, optimization.WrapError(err, optimization.KindConfiguration, "cannot assign grid point").
				WithComponent("grid").WithOperation("Suggest")
		}
	}
	o.tracker.moveToSuggested(c)
	o.logger.Info("Suggest", zap.Int("iteration", o.CurrentIteration()), zap.Stringer("tunables", space))
	return space, nil
}

// Register records a trial result and releases its configuration from the
// suggested set. The configuration is released even when the score is
// rejected, in which case the validation error is returned with a nil score.
func (o *Optimizer) Register(t *tunables.Space, status environment.Status, score optimization.Score) (optimization.Score, error) {
	if t == nil {
		return nil, optimization.NewError(optimization.KindValidation, "nil tunables").
			WithComponent("grid").WithOperation("Register")
	}
	registered, err := o.TrackBest.Register(t, status, score)
	if err != nil {
		o.logger.Warn("Rejected trial result", zap.Stringer("tunables", t), zap.Error(err))
	}
	c, cerr := o.tracker.schema.FromSpace(t)
	if cerr != nil {
		o.logger.Warn("Cannot map registered tunables onto grid", zap.Stringer("tunables", t), zap.Error(cerr))
	} else {
		o.tracker.resolve(c)
	}
	return registered, err
}

// BulkRegister replays historical results. A malformed or empty batch is
// rejected as a whole; otherwise each entry is registered on its own and a
// bad entry is logged and skipped. Missing statuses default to SUCCEEDED.
func (o *Optimizer) BulkRegister(configs []map[string]any, scores []optimization.Score, statuses []environment.Status) (bool, error) {
	ok, err := o.TrackBest.BulkRegister(configs, scores, statuses)
	if !ok || err != nil {
		return false, err
	}
	for i, params := range configs {
		status := environment.SUCCEEDED
		if statuses != nil {
			status = statuses[i]
		}
		t := o.Tunables().Copy()
		if err := t.Assign(params); err != nil {
			o.logger.Warn("Skipping historical config", zap.Int("index", i), zap.Any("params", params), zap.Error(err))
			continue
		}
		if _, err := o.Register(t, status, scores[i]); err != nil {
			o.logger.Warn("Skipping historical result", zap.Int("index", i), zap.Error(err))
		}
	}
	if ce := o.logger.Check(zap.DebugLevel, "Bulk register done"); ce != nil {
		if score, best := o.GetBestObservation(); best != nil {
			ce.Write(zap.Any("best_score", score), zap.Stringer("best_config", best))
		} else {
			ce.Write()
		}
	}
	return true, nil
}

// NotConverged reports whether Suggest can still make progress. It is false
// once the budget is spent; otherwise it regenerates the grid if the current
// pass is used up and reports whether anything is pending.
func (o *Optimizer) NotConverged() bool {
	if !o.withinBudget() {
		if n := o.tracker.pending.Len(); n > 0 {
			o.logger.Warn("Exceeded max iterations, but still have pending configs", zap.Int("pending", n))
		}
		return false
	}
	pending, err := o.tracker.getPending(true)
	if err != nil {
		o.logger.Error("Cannot regenerate grid", zap.Error(err))
		return false
	}
	return pending.Len() > 0
}
