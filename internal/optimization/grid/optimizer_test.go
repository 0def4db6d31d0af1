package grid

import (
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

const exampleDoc = `
group_1:
  cost: 1
  params:
    colors:
      type: categorical
      values: [red, blue, green]
      default: green
    int_param:
      type: int
      range: [1, 3]
      default: 2
    float_param:
      type: float
      range: [0, 1]
      default: 0.5
      quantization_bins: 3
`

func exampleSpace(t *testing.T) *tunables.Space {
	t.Helper()
	space, err := tunables.Parse([]byte(exampleDoc))
	require.NoError(t, err)
	return space
}

func newOptimizer(t *testing.T, cfg optimization.Config) (*Optimizer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	opt, err := New(exampleSpace(t), cfg, zap.New(core))
	require.NoError(t, err)
	return opt, logs
}

func maxScore() optimization.Config {
	return optimization.Config{
		MaxSuggestions:    100,
		Targets:           []optimization.Target{{Name: "score", Direction: optimization.Maximize}},
		StartWithDefaults: true,
	}
}

func keys(seq iter.Seq[Configuration]) []string {
	var out []string
	for c := range seq {
		out = append(out, c.Key())
	}
	return out
}

func TestPendingMatchesGridSize(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())

	assert.Len(t, keys(opt.PendingConfigs()), 27)
	assert.Equal(t, 27, opt.PendingCount())
	assert.Equal(t, 0, opt.SuggestedCount())
	assert.Equal(t, 1, opt.Passes())
	assert.Equal(t, []string{"colors", "float_param", "int_param"}, opt.Schema().Columns())

	// Views are fresh on every call.
	assert.Equal(t, keys(opt.PendingConfigs()), keys(opt.PendingConfigs()))
}

func TestGridOrder(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())

	var rows []map[string]any
	for c := range opt.PendingConfigs() {
		rows = append(rows, c.Params())
		if len(rows) == 4 {
			break
		}
	}
	assert.Equal(t, []map[string]any{
		{"colors": "red", "float_param": 0.0, "int_param": 1},
		{"colors": "red", "float_param": 0.0, "int_param": 2},
		{"colors": "red", "float_param": 0.0, "int_param": 3},
		{"colors": "red", "float_param": 0.5, "int_param": 1},
	}, rows)
}

func TestUnboundedTunableRejected(t *testing.T) {
	space, err := tunables.Parse([]byte(`
g:
  params:
    x: {type: int, range: [1, 3], default: 2}
    ratio: {type: float, range: [0, 1], default: 0.5}
`))
	require.NoError(t, err)

	_, err = New(space, maxScore(), nil)
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}

func TestSuggestDefaultsFirst(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())

	first, err := opt.Suggest()
	require.NoError(t, err)
	assert.True(t, first.IsDefaults())
	assert.Equal(t, map[string]any{"colors": "green", "int_param": 2, "float_param": 0.5}, first.Values())

	def, err := opt.Schema().FromSpace(first)
	require.NoError(t, err)
	assert.NotContains(t, keys(opt.PendingConfigs()), def.Key())
	assert.Equal(t, []string{def.Key()}, keys(opt.SuggestedConfigs()))
	assert.Equal(t, 26, opt.PendingCount())

	second, err := opt.Suggest()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"colors": "red", "int_param": 1, "float_param": 0.0}, second.Values())
	assert.Equal(t, 2, opt.CurrentIteration())
}

func TestDefaultsOutsideGrid(t *testing.T) {
	space, err := tunables.Parse([]byte(`
g:
  params:
    x: {type: int, range: [0, 10], default: 5, quantization_bins: 2}
`))
	require.NoError(t, err)
	opt, err := New(space, maxScore(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, opt.PendingCount())

	first, err := opt.Suggest()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 5}, first.Values())
	assert.Equal(t, 2, opt.PendingCount(), "defaults that are not grid points leave pending untouched")
	assert.Equal(t, 1, opt.SuggestedCount())

	_, err = opt.Register(first, environment.SUCCEEDED, optimization.Score{"score": 1})
	require.NoError(t, err)
	assert.Equal(t, 0, opt.SuggestedCount())
}

func TestSuggestionsAreUniqueWithinPass(t *testing.T) {
	cfg := maxScore()
	cfg.StartWithDefaults = false
	opt, _ := newOptimizer(t, cfg)

	seen := map[string]bool{}
	for range 27 {
		s, err := opt.Suggest()
		require.NoError(t, err)
		c, err := opt.Schema().FromSpace(s)
		require.NoError(t, err)
		assert.False(t, seen[c.Key()], "duplicate suggestion %s", c)
		seen[c.Key()] = true

		pending := keys(opt.PendingConfigs())
		for _, k := range keys(opt.SuggestedConfigs()) {
			assert.NotContains(t, pending, k)
		}
	}
	assert.Equal(t, 0, opt.PendingCount())
	assert.Equal(t, 27, opt.SuggestedCount())

	// Every grid point is still outstanding, so a fresh pass has nothing to offer.
	_, err := opt.Suggest()
	assert.ErrorIs(t, err, optimization.ErrExhausted)
}

func TestRegisterResolvesSuggestion(t *testing.T) {
	opt, logs := newOptimizer(t, maxScore())

	s, err := opt.Suggest()
	require.NoError(t, err)

	score, err := opt.Register(s, environment.SUCCEEDED, optimization.Score{"score": 42})
	require.NoError(t, err)
	assert.Equal(t, optimization.Score{"score": -42.0}, score)
	assert.Equal(t, 0, opt.SuggestedCount())

	// A second registration of the same configuration is only logged.
	_, err = opt.Register(s, environment.SUCCEEDED, optimization.Score{"score": 42})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("Attempted to remove missing config").Len())
}

func TestRegisterRejectedScoreStillResolves(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())

	s, err := opt.Suggest()
	require.NoError(t, err)

	score, err := opt.Register(s, environment.SUCCEEDED, nil)
	assert.ErrorIs(t, err, optimization.ErrValidation)
	assert.Nil(t, score)
	assert.Equal(t, 0, opt.SuggestedCount())

	_, err = opt.Register(nil, environment.FAILED, nil)
	assert.ErrorIs(t, err, optimization.ErrValidation)
}

func TestNotConvergedTracksBudget(t *testing.T) {
	cfg := maxScore()
	cfg.MaxSuggestions = 3
	opt, logs := newOptimizer(t, cfg)

	for i := 1; i <= 3; i++ {
		assert.True(t, opt.NotConverged(), "iteration %d", i)
		_, err := opt.Suggest()
		require.NoError(t, err)
	}
	assert.True(t, opt.NotConverged())

	_, err := opt.Suggest()
	require.NoError(t, err, "pending configs are still handed out past the budget")
	assert.False(t, opt.NotConverged())
	assert.Equal(t, 1, logs.FilterMessageSnippet("Exceeded max iterations").Len())
}

func TestBestObservation(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())

	first, err := opt.Suggest()
	require.NoError(t, err)
	second, err := opt.Suggest()
	require.NoError(t, err)

	_, err = opt.Register(first, environment.SUCCEEDED, optimization.Score{"score": 42})
	require.NoError(t, err)
	_, err = opt.Register(second, environment.SUCCEEDED, optimization.Score{"score": 7})
	require.NoError(t, err)

	score, best := opt.GetBestObservation()
	assert.Equal(t, optimization.Score{"score": 42.0}, score)
	assert.True(t, best.Equal(first))
	assert.Equal(t, 25, opt.PendingCount())
}

func TestGridRestart(t *testing.T) {
	cfg := maxScore()
	cfg.StartWithDefaults = false
	opt, logs := newOptimizer(t, cfg)

	var firstPass []string
	for range 27 {
		s, err := opt.Suggest()
		require.NoError(t, err)
		c, err := opt.Schema().FromSpace(s)
		require.NoError(t, err)
		firstPass = append(firstPass, c.Key())
		_, err = opt.Register(s, environment.SUCCEEDED, optimization.Score{"score": 1})
		require.NoError(t, err)
	}
	require.Equal(t, 0, opt.PendingCount())

	s, err := opt.Suggest()
	require.NoError(t, err)
	c, err := opt.Schema().FromSpace(s)
	require.NoError(t, err)
	assert.Equal(t, firstPass[0], c.Key())
	assert.Equal(t, 2, opt.Passes())
	assert.Equal(t, 26, opt.PendingCount())
	assert.Equal(t, firstPass[1:], keys(opt.PendingConfigs()))
	assert.Equal(t, 1, logs.FilterMessageSnippet("Restarting grid").Len())
}

func TestRestartSkipsOutstandingConfigs(t *testing.T) {
	space, err := tunables.Parse([]byte(`
g:
  params:
    x: {type: int, range: [0, 2], default: 0}
`))
	require.NoError(t, err)
	opt, err := New(space, optimization.Config{MaxSuggestions: 10}, nil)
	require.NoError(t, err)

	a, err := opt.Suggest()
	require.NoError(t, err)
	b, err := opt.Suggest()
	require.NoError(t, err)
	c, err := opt.Suggest()
	require.NoError(t, err)
	_, err = opt.Register(b, environment.SUCCEEDED, optimization.Score{"score": 1})
	require.NoError(t, err)

	require.True(t, opt.NotConverged())
	got, err := opt.Suggest()
	require.NoError(t, err)
	assert.True(t, got.Equal(b))
	assert.Equal(t, 0, opt.PendingCount())

	for _, s := range []*tunables.Space{a, c, got} {
		_, err := opt.Register(s, environment.FAILED, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, opt.SuggestedCount())
}

func TestExhaustedPastBudget(t *testing.T) {
	space, err := tunables.Parse([]byte(`
g:
  params:
    x: {type: int, range: [0, 1], default: 0}
`))
	require.NoError(t, err)
	opt, err := New(space, optimization.Config{MaxSuggestions: 1}, nil)
	require.NoError(t, err)

	for range 2 {
		s, err := opt.Suggest()
		require.NoError(t, err)
		_, err = opt.Register(s, environment.SUCCEEDED, optimization.Score{"score": 1})
		require.NoError(t, err)
	}
	assert.False(t, opt.NotConverged())

	_, err = opt.Suggest()
	assert.ErrorIs(t, err, optimization.ErrExhausted)
	assert.Equal(t, 1, opt.Passes())
}

func TestBulkRegister(t *testing.T) {
	opt, logs := newOptimizer(t, maxScore())

	ok, err := opt.BulkRegister(
		[]map[string]any{{"colors": "red"}},
		nil,
		nil,
	)
	assert.False(t, ok)
	assert.ErrorIs(t, err, optimization.ErrValidation)
	assert.True(t, opt.StartWithDefaults())

	ok, err = opt.BulkRegister(
		[]map[string]any{
			{"colors": "blue", "int_param": 3, "float_param": 1.0},
			{"colors": "purple"},
			{"colors": "red", "int_param": 1, "float_param": 0.5},
			{"colors": "green"},
		},
		[]optimization.Score{{"score": 10}, {"score": 99}, {"score": 20}, nil},
		[]environment.Status{environment.SUCCEEDED, environment.SUCCEEDED, environment.SUCCEEDED, environment.FAILED},
	)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.False(t, opt.StartWithDefaults())
	assert.Equal(t, 1, logs.FilterMessageSnippet("Skipping historical config").Len())
	// Historical configs were never suggested, so resolution only warns.
	assert.Equal(t, 3, logs.FilterMessageSnippet("Attempted to remove missing config").Len())
	assert.Equal(t, 27, opt.PendingCount())

	score, best := opt.GetBestObservation()
	assert.Equal(t, optimization.Score{"score": 20.0}, score)
	assert.Equal(t, "red", best.Values()["colors"])

	// Prior data disables the defaults-first suggestion.
	s, err := opt.Suggest()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"colors": "red", "int_param": 1, "float_param": 0.0}, s.Values())
}

func TestBulkRegisterDefaultsStatuses(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())

	ok, err := opt.BulkRegister(
		[]map[string]any{{"colors": "blue"}, {"colors": "red"}},
		[]optimization.Score{{"score": 1}, {"score": 2}},
		nil,
	)
	require.NoError(t, err)
	assert.True(t, ok)

	score, best := opt.GetBestObservation()
	assert.Equal(t, optimization.Score{"score": 2.0}, score)
	assert.Equal(t, "red", best.Values()["colors"])

	ok, err = opt.BulkRegister(nil, nil, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestExampleEndToEnd(t *testing.T) {
	opt, _ := newOptimizer(t, maxScore())
	before := opt.PendingCount()

	first, err := opt.Suggest()
	require.NoError(t, err)
	second, err := opt.Suggest()
	require.NoError(t, err)
	assert.False(t, first.Equal(second))

	for _, s := range []*tunables.Space{first, second} {
		_, err := opt.Register(s, environment.SUCCEEDED, optimization.Score{"score": 1})
		require.NoError(t, err)
	}
	assert.Equal(t, before-2, opt.PendingCount())
	assert.Empty(t, slices.Collect(opt.SuggestedConfigs()))
}
