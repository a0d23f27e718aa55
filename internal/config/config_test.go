// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Interval)
	assert.Equal(t, 0.8, cfg.Recognition.DefaultThreshold)
	assert.True(t, cfg.Session.DryRun)
}

func TestLoadMissingDefaultFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "automaton", cfg.Logger.ServiceName)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automaton.yaml")
	content := `
logger:
  level: debug
  format: json
session:
  interval: 1s
  dry_run: true
recognition:
  default_threshold: 0.95
store:
  path: /tmp/test.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, time.Second, cfg.Session.Interval)
	assert.Equal(t, 0.95, cfg.Recognition.DefaultThreshold)
	assert.Equal(t, "/tmp/test.db", cfg.Store.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Millisecond, cfg.Execution.DefaultPostDelay)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad logger format", func(c *Config) { c.Logger.Format = "xml" }},
		{"threshold above one", func(c *Config) { c.Recognition.DefaultThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Recognition.DefaultThreshold = -0.1 }},
		{"negative interval", func(c *Config) { c.Session.Interval = -time.Second }},
		{"negative rate limit", func(c *Config) { c.Execution.MaxActionsPerSecond = -1 }},
		{"watch without dir", func(c *Config) {
			c.Store.WatchScripts = true
			c.Store.ScriptDir = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
