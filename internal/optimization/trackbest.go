package optimization

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// TrackBest extends Base with the best observation seen across all
// registrations. Scores are compared in internal (minimized) form, target
// by target in precedence order.
type TrackBest struct {
	*Base
	bestScore  Score
	bestConfig *tunables.Space
}

// NewTrackBest creates the best-tracking optimizer state.
func NewTrackBest(space *tunables.Space, cfg Config, logger *zap.Logger) (*TrackBest, error) {
	base, err := NewBase(space, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &TrackBest{Base: base}, nil
}

// Register records the result and updates the incumbent if it improved.
func (tb *TrackBest) Register(t *tunables.Space, status environment.Status, score Score) (Score, error) {
	registered, err := tb.Base.Register(t, status, score)
	if err != nil {
		return nil, err
	}
	if status.IsSucceeded() && tb.isBetter(registered) {
		tb.bestScore = registered
		tb.bestConfig = t.Copy()
	}
	return registered, nil
}

func (tb *TrackBest) isBetter(registered Score) bool {
	if registered == nil {
		return false
	}
	if tb.bestScore == nil {
		return true
	}
	for _, target := range tb.cfg.Targets {
		score, best := registered[target.Name], tb.bestScore[target.Name]
		if score < best {
			return true
		}
		if score > best {
			return false
		}
	}
	return false
}

// GetBestObservation returns the best scores in each target's own
// direction, and a copy of the configuration that produced them. Both are
// nil until a trial has succeeded.
func (tb *TrackBest) GetBestObservation() (Score, *tunables.Space) {
	if tb.bestScore == nil {
		return nil, nil
	}
	score, _ := tb.scores(environment.SUCCEEDED, tb.bestScore)
	return score, tb.bestConfig.Copy()
}
