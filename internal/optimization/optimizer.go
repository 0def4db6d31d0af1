package optimization

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Optimizer defines the trial protocol shared by optimization algorithms:
// hand out configurations with Suggest, take results back with Register.
//
// Implementations are not safe for concurrent use. Several suggestions may
// be outstanding at once, but callers driving an optimizer from more than one
// goroutine must serialize the calls themselves.
type Optimizer interface {
	// Suggest returns the next configuration to evaluate.
	Suggest() (*tunables.Space, error)

	// Register records the result of evaluating t. It returns the scores
	// in internal (minimized) form, or nil if the trial did not succeed or
	// the scores were rejected.
	Register(t *tunables.Space, status environment.Status, score Score) (Score, error)

	// BulkRegister replays historical results. It returns false if the
	// batch was rejected or empty.
	BulkRegister(configs []map[string]any, scores []Score, statuses []environment.Status) (bool, error)

	// NotConverged reports whether there is more work to do.
	NotConverged() bool

	// GetBestObservation returns the best scores seen so far, in the
	// direction of each target, and the configuration that produced them.
	GetBestObservation() (Score, *tunables.Space)
}

// Score maps target names to measured values.
type Score map[string]float64

// Direction says whether a target is minimized or maximized.
type Direction string

const (
	Minimize Direction = "min"
	Maximize Direction = "max"
)

// sign is the factor that turns a score into its minimized internal form.
func (d Direction) sign() float64 {
	if d == Maximize {
		return -1
	}
	return 1
}

// Target is a named optimization objective. When several targets are
// configured, their order decides precedence in best-observation comparisons.
type Target struct {
	Name      string    `json:"name" yaml:"name"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// ParseTargets parses "name:dir,name:dir". A bare name is minimized.
func ParseTargets(s string) ([]Target, error) {
	var targets []Target
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, dir, found := strings.Cut(part, ":")
		t := Target{Name: strings.TrimSpace(name), Direction: Minimize}
		if found {
			t.Direction = Direction(strings.ToLower(strings.TrimSpace(dir)))
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, NewErrorf(KindConfiguration, "no optimization targets in %q", s)
	}
	if err := validateTargets(targets); err != nil {
		return nil, WrapError(err, KindConfiguration, "invalid optimization targets")
	}
	return targets, nil
}

func validateTargets(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t.Name == "" {
			return fmt.Errorf("optimization target name must not be empty")
		}
		if t.Direction != Minimize && t.Direction != Maximize {
			return fmt.Errorf("optimization target %q: direction must be min or max, got %q", t.Name, t.Direction)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate optimization target %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

// DefaultMaxConfigs is the grid size above which grid search warns.
const DefaultMaxConfigs = 10000

// Config contains configuration for the optimizer
type Config struct {
	// MaxSuggestions is the suggestion budget for one run.
	MaxSuggestions int `json:"max_suggestions" yaml:"max_suggestions"`

	// Targets are the optimization objectives, in precedence order.
	Targets []Target `json:"optimization_targets" yaml:"optimization_targets"`

	// StartWithDefaults makes the first suggestion the tunables' defaults.
	StartWithDefaults bool `json:"start_with_defaults" yaml:"start_with_defaults"`

	// MaxConfigs is the grid size above which a warning is logged.
	MaxConfigs int `json:"max_configs,omitempty" yaml:"max_configs,omitempty"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxSuggestions:    100,
		Targets:           []Target{{Name: "score", Direction: Minimize}},
		StartWithDefaults: true,
		MaxConfigs:        DefaultMaxConfigs,
	}
}

// Validate fills zero values with defaults and checks the rest.
func (c *Config) Validate() error {
	if c.MaxSuggestions < 0 {
		return NewErrorf(KindConfiguration, "max_suggestions must not be negative, got %d", c.MaxSuggestions)
	}
	if c.MaxSuggestions == 0 {
		c.MaxSuggestions = DefaultConfig().MaxSuggestions
	}
	if c.MaxConfigs <= 0 {
		c.MaxConfigs = DefaultMaxConfigs
	}
	if len(c.Targets) == 0 {
		c.Targets = DefaultConfig().Targets
	}
	if err := validateTargets(c.Targets); err != nil {
		return WrapError(err, KindConfiguration, "invalid optimization targets")
	}
	return nil
}
