package optimization

import (
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Base holds the bookkeeping every optimizer shares: the tunable space
// template, the iteration counter, the suggestion budget and the score
// sign convention. Concrete optimizers embed it.
type Base struct {
	tunables          *tunables.Space
	cfg               Config
	iter              int
	startWithDefaults bool
	logger            *zap.Logger
}

// NewBase validates cfg and returns the shared optimizer state.
func NewBase(space *tunables.Space, cfg Config, logger *zap.Logger) (*Base, error) {
	if space == nil || space.Len() == 0 {
		return nil, NewError(KindConfiguration, "optimizer requires at least one tunable")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		tunables:          space.Copy(),
		cfg:               cfg,
		startWithDefaults: cfg.StartWithDefaults,
		logger:            logger,
	}, nil
}

// Logger returns the optimizer's logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

// Tunables returns the template tunable space. Callers must not modify it.
func (b *Base) Tunables() *tunables.Space { return b.tunables }

// Config returns the validated configuration.
func (b *Base) Config() Config { return b.cfg }

// CurrentIteration returns the number of suggestions made so far.
func (b *Base) CurrentIteration() int { return b.iter }

// MaxSuggestions returns the suggestion budget.
func (b *Base) MaxSuggestions() int { return b.cfg.MaxSuggestions }

// Targets returns the optimization targets in precedence order.
func (b *Base) Targets() []Target { return slices.Clone(b.cfg.Targets) }

// StartWithDefaults reports whether the next suggestion should be the defaults.
func (b *Base) StartWithDefaults() bool { return b.startWithDefaults }

// ConsumeStartWithDefaults reports whether the defaults should be suggested
// now and clears the flag, so it fires at most once.
func (b *Base) ConsumeStartWithDefaults() bool {
	use := b.startWithDefaults
	b.startWithDefaults = false
	return use
}

// BeginSuggestion advances the iteration counter and returns a fresh copy of
// the tunable space for the concrete optimizer to fill in.
func (b *Base) BeginSuggestion() *tunables.Space {
	b.iter++
	b.logger.Debug("Iteration", zap.Int("iteration", b.iter), zap.Int("max_suggestions", b.cfg.MaxSuggestions))
	return b.tunables.Copy()
}

// NotConverged reports whether the suggestion budget still has room.
func (b *Base) NotConverged() bool { return b.iter <= b.cfg.MaxSuggestions }

// Register validates a trial result and converts its scores to internal
// form. A succeeded trial must carry a score for every target; any other
// status must carry none.
func (b *Base) Register(t *tunables.Space, status environment.Status, score Score) (Score, error) {
	b.logger.Info("Register",
		zap.Stringer("tunables", t),
		zap.Stringer("status", status),
		zap.Any("score", score),
	)
	if status.IsSucceeded() == (score == nil) {
		return nil, NewErrorf(KindValidation, "status %s and score %v are inconsistent", status, score).
			WithOperation("Register")
	}
	return b.scores(status, score)
}

// BulkRegister validates a batch of historical results. It returns false
// without registering anything when the batch is malformed or empty. When
// the history is non-empty the defaults are no longer suggested first.
func (b *Base) BulkRegister(configs []map[string]any, scores []Score, statuses []environment.Status) (bool, error) {
	b.logger.Info("Update the optimizer",
		zap.Int("configs", len(configs)),
		zap.Int("scores", len(scores)),
		zap.Int("statuses", len(statuses)),
	)
	if len(configs) != len(scores) {
		return false, NewErrorf(KindValidation, "numbers of configs (%d) and scores (%d) do not match",
			len(configs), len(scores)).WithOperation("BulkRegister")
	}
	if statuses != nil && len(configs) != len(statuses) {
		return false, NewErrorf(KindValidation, "numbers of configs (%d) and statuses (%d) do not match",
			len(configs), len(statuses)).WithOperation("BulkRegister")
	}
	hasData := len(configs) > 0
	if hasData && b.startWithDefaults {
		b.logger.Info("Prior data exists - do *NOT* use the default initialization")
		b.startWithDefaults = false
	}
	return hasData, nil
}

// scores applies the sign convention: maximized targets are negated so
// every target is minimized internally. Applying it twice restores the
// original values.
func (b *Base) scores(status environment.Status, score Score) (Score, error) {
	if !status.IsSucceeded() {
		return nil, nil
	}
	out := make(Score, len(b.cfg.Targets))
	for _, target := range b.cfg.Targets {
		v, ok := score[target.Name]
		if !ok {
			return nil, NewErrorf(KindValidation, "score is missing target %q", target.Name).
				WithOperation("Register")
		}
		if math.IsNaN(v) {
			return nil, NewErrorf(KindValidation, "score for target %q is NaN", target.Name).
				WithOperation("Register")
		}
		out[target.Name] = v * target.Direction.sign()
	}
	return out, nil
}
