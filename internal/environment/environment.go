package environment

import (
	"context"

	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Environment executes one suggested configuration at a time.
//
// Setup applies the configuration and reports whether the environment is
// ready. Run executes the workload and returns the trial status together
// with named numeric scores (nil unless the status is SUCCEEDED). Teardown
// releases whatever Setup acquired.
type Environment interface {
	Name() string
	Setup(ctx context.Context, t *tunables.Space) (bool, error)
	Run(ctx context.Context) (Status, map[string]float64, error)
	Teardown(ctx context.Context) error
}

// Workload runs the benchmark on a ready environment.
type Workload interface {
	Run(ctx context.Context, t *tunables.Space) (Status, map[string]float64, error)
}

// WorkloadFunc adapts a function to the Workload interface.
type WorkloadFunc func(ctx context.Context, t *tunables.Space) (Status, map[string]float64, error)

// Run calls f.
func (f WorkloadFunc) Run(ctx context.Context, t *tunables.Space) (Status, map[string]float64, error) {
	return f(ctx, t)
}
