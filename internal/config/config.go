// Package config loads suite configuration from defaults, an optional YAML
// file and the environment, then validates it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/v0xg/astarcheck/internal/errs"
)

const (
	DefaultBaseURL    = "https://astarfinancial.com.au/"
	DefaultConfigFile = "astarcheck.yaml"
)

// Config is the full suite configuration.
type Config struct {
	BaseURL        string          `yaml:"base_url" validate:"required,url"`
	DefaultTimeout time.Duration   `yaml:"default_timeout" validate:"gt=0"`
	Browser        BrowserConfig   `yaml:"browser"`
	Links          LinksConfig     `yaml:"links"`
	Crawl          CrawlConfig     `yaml:"crawl"`
	Walker         WalkerConfig    `yaml:"walker"`
	Artifacts      ArtifactsConfig `yaml:"artifacts"`
	Log            LogConfig       `yaml:"log"`
}

// BrowserConfig selects and sizes the browser driver.
type BrowserConfig struct {
	Driver      string `yaml:"driver" validate:"driver"`
	Headless    bool   `yaml:"headless"`
	Width       int    `yaml:"width" validate:"gt=0"`
	Height      int    `yaml:"height" validate:"gt=0"`
	ChromePath  string `yaml:"chrome_path"`
	UserDataDir string `yaml:"user_data_dir"`
}

// LinksConfig controls the link structure cache.
type LinksConfig struct {
	CachePath       string        `yaml:"cache_path" validate:"required"`
	SourceURL       string        `yaml:"source_url" validate:"omitempty,url"`
	Refresh         bool          `yaml:"refresh"`
	DuplicatePolicy string        `yaml:"duplicate_policy" validate:"oneof=last first"`
	IncludeTopLevel bool          `yaml:"include_top_level"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
}

// CrawlConfig holds link verifier timings and policies.
type CrawlConfig struct {
	NavigationTimeout time.Duration `yaml:"navigation_timeout" validate:"gt=0"`
	RestoreTimeout    time.Duration `yaml:"restore_timeout" validate:"gt=0"`
	SettleDelay       time.Duration `yaml:"settle_delay" validate:"gte=0"`
	SettleMode        string        `yaml:"settle_mode" validate:"oneof=fixed quiescence"`
	Activation        string        `yaml:"activation" validate:"oneof=force script standard"`
	Popups            string        `yaml:"popups" validate:"oneof=inline skip"`
	TargetHint        string        `yaml:"target_hint"`
	// RateLimit caps links verified per second; zero is unlimited.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
}

// WalkerConfig holds form walker timings.
type WalkerConfig struct {
	StepTimeout  time.Duration `yaml:"step_timeout" validate:"gt=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	Seed         uint64        `yaml:"seed"`
}

// ArtifactsConfig controls what is written on failure.
type ArtifactsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Dir            string `yaml:"dir" validate:"required_if=Enabled true"`
	ThumbnailWidth uint   `yaml:"thumbnail_width"`
	Trail          bool   `yaml:"trail"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level      string `yaml:"level" validate:"loglevel"`
	Format     string `yaml:"format" validate:"logformat"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		DefaultTimeout: 30 * time.Second,
		Browser: BrowserConfig{
			Driver:   "rod",
			Headless: true,
			Width:    1280,
			Height:   720,
		},
		Links: LinksConfig{
			CachePath:       filepath.Join("testdata", "linkStructure.json"),
			DuplicatePolicy: "last",
			FetchTimeout:    30 * time.Second,
		},
		Crawl: CrawlConfig{
			NavigationTimeout: 20 * time.Second,
			RestoreTimeout:    20 * time.Second,
			SettleDelay:       500 * time.Millisecond,
			SettleMode:        "fixed",
			Activation:        "force",
			Popups:            "inline",
		},
		Walker: WalkerConfig{
			StepTimeout:  10 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Artifacts: ArtifactsConfig{
			Enabled:        true,
			Dir:            "test-results",
			ThumbnailWidth: 480,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LinkSource returns the URL the link structure is scraped from.
func (c *Config) LinkSource() string {
	if c.Links.SourceURL != "" {
		return c.Links.SourceURL
	}
	return c.BaseURL
}

// Load builds a Config from defaults, the YAML file at path (or the first
// default location found) and the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if file := resolvePath(path); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, fmt.Sprintf("read config %s", file), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, fmt.Sprintf("parse config %s", file), err)
		}
	} else if path != "" {
		return nil, errs.New(errs.InvalidConfig, fmt.Sprintf("config file %s does not exist", path))
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath picks the config file: explicit path, then ASTAR_CONFIG, then
// ./astarcheck.yaml. It returns "" when none exists.
func resolvePath(path string) string {
	candidates := []string{path, os.Getenv("ASTAR_CONFIG"), DefaultConfigFile}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		if candidate == path {
			return ""
		}
	}
	return ""
}

// ApplyEnv overlays BASE_URL, HEADLESS and the other supported environment variables.
// DEFAULT_TIMEOUT is in milliseconds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("BASE_URL"); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := lookup("DEFAULT_TIMEOUT"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return errs.Wrap(errs.InvalidConfig, "DEFAULT_TIMEOUT must be milliseconds", err)
		}
		cfg.DefaultTimeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup("ASTAR_DRIVER"); ok && v != "" {
		cfg.Browser.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("ASTAR_LINK_STRUCTURE"); ok && v != "" {
		cfg.Links.CachePath = v
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		cfg.Log.Level = "debug"
	}
	return nil
}

// Validate checks struct tags and the custom enumerations.
func Validate(cfg *Config) error {
	validate := validator.New()

	_ = validate.RegisterValidation("driver", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "rod", "playwright":
			return true
		}
		return false
	})
	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", "debug", "info", "warn", "warning", "error":
			return true
		}
		return false
	})
	_ = validate.RegisterValidation("logformat", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", "console", "json":
			return true
		}
		return false
	})

	if err := validate.Struct(cfg); err != nil {
		return errs.Wrap(errs.InvalidConfig, "invalid configuration", err)
	}
	return nil
}
