package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridtune/internal/optimization"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 60*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Store.DSN)

	oc, err := cfg.OptimizerDefaults()
	require.NoError(t, err)
	assert.Equal(t, 100, oc.MaxSuggestions)
	assert.Equal(t, optimization.DefaultMaxConfigs, oc.MaxConfigs)
	assert.True(t, oc.StartWithDefaults)
	assert.Equal(t, []optimization.Target{{Name: "score", Direction: optimization.Minimize}}, oc.Targets)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_DSN", "file:trials.db")
	t.Setenv("OPT_MAX_SUGGESTIONS", "27")
	t.Setenv("OPT_START_WITH_DEFAULTS", "false")
	t.Setenv("OPT_TARGETS", "throughput:max,latency:min")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "file:trials.db", cfg.Store.DSN)

	oc, err := cfg.OptimizerDefaults()
	require.NoError(t, err)
	assert.Equal(t, 27, oc.MaxSuggestions)
	assert.False(t, oc.StartWithDefaults)
	assert.Equal(t, []optimization.Target{
		{Name: "throughput", Direction: optimization.Maximize},
		{Name: "latency", Direction: optimization.Minimize},
	}, oc.Targets)
}

func TestLoadRejectsBadTargets(t *testing.T) {
	t.Setenv("OPT_TARGETS", "score:sideways")
	_, err := Load()
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}
