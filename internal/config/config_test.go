package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/astarcheck/internal/errs"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, DefaultBaseURL, cfg.LinkSource())
	assert.Equal(t, 20*time.Second, cfg.Crawl.NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawl.SettleDelay)
	assert.Equal(t, "last", cfg.Links.DuplicatePolicy)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	content := `
base_url: https://staging.example.com/
default_timeout: 45s
browser:
  driver: playwright
  headless: false
links:
  cache_path: links.json
  duplicate_policy: first
crawl:
  settle_mode: quiescence
  activation: script
  popups: skip
log:
  level: warn
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com/", cfg.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, "playwright", cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.Width, "unset keys keep defaults")
	assert.Equal(t, "first", cfg.Links.DuplicatePolicy)
	assert.Equal(t, "quiescence", cfg.Crawl.SettleMode)
	assert.Equal(t, "script", cfg.Crawl.Activation)
	assert.Equal(t, "skip", cfg.Crawl.Popups)
	assert.Equal(t, 20*time.Second, cfg.Crawl.RestoreTimeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidConfig, errs.CodeOf(err))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, envMap(map[string]string{
		"BASE_URL":        "http://localhost:3000/",
		"DEFAULT_TIMEOUT": "15000",
		"ASTAR_DRIVER":    "Playwright",
		"DEBUG":           "1",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000/", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, "playwright", cfg.Browser.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv_BadTimeout(t *testing.T) {
	err := ApplyEnv(Default(), envMap(map[string]string{"DEFAULT_TIMEOUT": "30s"}))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidConfig, errs.CodeOf(err))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Browser.Driver = "selenium" }},
		{"bad base url", func(c *Config) { c.BaseURL = "not a url" }},
		{"zero navigation timeout", func(c *Config) { c.Crawl.NavigationTimeout = 0 }},
		{"unknown policy", func(c *Config) { c.Links.DuplicatePolicy = "random" }},
		{"unknown activation", func(c *Config) { c.Crawl.Activation = "double" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"artifacts without dir", func(c *Config) { c.Artifacts.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Equal(t, errs.InvalidConfig, errs.CodeOf(err))
		})
	}
}
