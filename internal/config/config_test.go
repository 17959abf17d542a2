package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 60*time.Second, cfg.Enrich.DebounceWindow)
	require.Equal(t, 30*time.Second, cfg.Rent.DebounceWindow)
	require.Equal(t, []int{240, 300, 360}, cfg.Underwrite.AmortMonths)
	require.True(t, cfg.Features.RetrySweep)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Server.Env)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("server:\n  port: \"9090\"\nrent:\n  min_comps: 5\nfeatures:\n  rate_limit_enabled: true\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 5, cfg.Rent.MinComps)
	require.True(t, cfg.Features.RateLimitEnabled)
	// Untouched sections keep their defaults.
	require.Equal(t, 4, cfg.Bus.Workers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600))
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, "debug", cfg.Logging.Level)
}
