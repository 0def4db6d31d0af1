package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/metrics"
	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/optimization/grid"
	"github.com/copyleftdev/gridtune/internal/storage"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

const spaceDoc = `
g:
  params:
    x: {type: int, range: [0, 3], default: 1}
    mode: {type: categorical, values: [fast, safe], default: safe}
`

// fakeEnv scores a configuration as x, plus 10 in fast mode. Setup fails
// for the configurations listed in broken.
type fakeEnv struct {
	name      string
	broken    map[int]bool
	current   *tunables.Space
	setups    atomic.Int32
	teardowns atomic.Int32
}

func (e *fakeEnv) Name() string { return e.name }

func (e *fakeEnv) Setup(_ context.Context, t *tunables.Space) (bool, error) {
	e.setups.Add(1)
	x, _ := t.Value("x")
	if e.broken[x.(int)] {
		return false, errors.New("host refused")
	}
	e.current = t
	return true, nil
}

func (e *fakeEnv) Run(context.Context) (environment.Status, map[string]float64, error) {
	x, _ := e.current.Value("x")
	mode, _ := e.current.Value("mode")
	score := float64(x.(int))
	if mode == "fast" {
		score += 10
	}
	return environment.SUCCEEDED, map[string]float64{"score": score}, nil
}

func (e *fakeEnv) Teardown(context.Context) error {
	e.teardowns.Add(1)
	return nil
}

func newGrid(t *testing.T, maxSuggestions int, startWithDefaults bool) *grid.Optimizer {
	t.Helper()
	space, err := tunables.Parse([]byte(spaceDoc))
	require.NoError(t, err)
	opt, err := grid.New(space, optimization.Config{
		MaxSuggestions:    maxSuggestions,
		Targets:           []optimization.Target{{Name: "score", Direction: optimization.Maximize}},
		StartWithDefaults: startWithDefaults,
	}, nil)
	require.NoError(t, err)
	return opt
}

func TestRunCoversGrid(t *testing.T) {
	opt := newGrid(t, 7, true)
	envs := []*fakeEnv{{name: "a"}, {name: "b"}, {name: "c"}}
	r := &Runner{
		Optimizer:    opt,
		Environments: []environment.Environment{envs[0], envs[1], envs[2]},
		Metrics:      metrics.NewCollector(prometheus.NewRegistry()),
	}

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Trials)
	assert.Equal(t, 8, summary.Succeeded)
	assert.Equal(t, optimization.Score{"score": 13.0}, summary.BestScore)
	assert.Equal(t, map[string]any{"x": 3, "mode": "fast"}, summary.BestParams)
	assert.Equal(t, 0, opt.SuggestedCount())

	var setups int32
	for _, e := range envs {
		setups += e.setups.Load()
		assert.Equal(t, int32(1), e.teardowns.Load())
	}
	assert.Equal(t, int32(8), setups)
}

func TestRunRegistersFailedSetups(t *testing.T) {
	opt := newGrid(t, 7, false)
	env := &fakeEnv{name: "only", broken: map[int]bool{2: true}}
	r := &Runner{Optimizer: opt, Environments: []environment.Environment{env}}

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Trials)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, opt.SuggestedCount())
}

func TestRunCycleBeyondGrid(t *testing.T) {
	opt := newGrid(t, 12, false)
	r := &Runner{Optimizer: opt, Environments: []environment.Environment{&fakeEnv{name: "a"}}}

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	// NotConverged is checked before Suggest advances the iteration, so the
	// last suggestion made is iteration 13.
	assert.Equal(t, 13, summary.Trials)
	assert.Equal(t, 2, opt.Passes())
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := &fakeEnv{name: "a"}
	r := &Runner{Optimizer: newGrid(t, 8, false), Environments: []environment.Environment{env}}
	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), env.teardowns.Load())
}

func TestRunRequiresEnvironments(t *testing.T) {
	_, err := (&Runner{Optimizer: newGrid(t, 8, false)}).Run(context.Background())
	assert.Error(t, err)
	_, err = (&Runner{}).Run(context.Background())
	assert.Error(t, err)
}

func TestResumeFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "trials.db"))
	require.NoError(t, err)
	defer store.Close()

	first := &Runner{
		Optimizer:    newGrid(t, 2, true),
		Environments: []environment.Environment{&fakeEnv{name: "a"}},
		Store:        store,
		ExperimentID: "exp",
	}
	summary, err := first.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Trials)
	assert.Equal(t, 0, summary.Resumed)

	trials, err := store.LoadTrials(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, trials, 3)
	assert.Equal(t, map[string]any{"x": 1.0, "mode": "safe"}, trials[0].Params, "defaults come first")

	opt := newGrid(t, 2, true)
	second := &Runner{
		Optimizer:    opt,
		Environments: []environment.Environment{&fakeEnv{name: "a"}},
		Store:        store,
		ExperimentID: "exp",
	}
	summary, err = second.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Resumed)
	assert.Equal(t, 3, summary.Trials)
	assert.False(t, opt.StartWithDefaults(), "history disables defaults-first")

	trials, err = store.LoadTrials(ctx, "exp")
	require.NoError(t, err)
	assert.Len(t, trials, 6)
}

func TestHistory(t *testing.T) {
	configs, scores, statuses := History([]storage.Trial{
		{Params: map[string]any{"x": 1.0}, Status: environment.SUCCEEDED, Score: map[string]float64{"score": 4}},
		{Params: map[string]any{"x": 2.0}, Status: environment.FAILED},
	})
	assert.Equal(t, []map[string]any{{"x": 1.0}, {"x": 2.0}}, configs)
	assert.Equal(t, []optimization.Score{{"score": 4}, nil}, scores)
	assert.Equal(t, []environment.Status{environment.SUCCEEDED, environment.FAILED}, statuses)
}

func Example() {
	space, _ := tunables.Parse([]byte(spaceDoc))
	opt, _ := grid.New(space, optimization.Config{MaxSuggestions: 7}, nil)
	r := &Runner{Optimizer: opt, Environments: []environment.Environment{&fakeEnv{name: "demo"}}}
	summary, _ := r.Run(context.Background())
	fmt.Println(summary.Trials, summary.BestScore["score"])
	// Output: 8 0
}
