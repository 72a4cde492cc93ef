package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all splice configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Engine behaviour (caching, compile strategy, redefinition policy)
	Engine EngineConfig `yaml:"engine"`

	// Host runtime detection
	Detector DetectorConfig `yaml:"detector"`

	// Interpreter backend
	Compile CompileConfig `yaml:"compile"`

	// Patch outcome journal
	Journal JournalConfig `yaml:"journal"`

	// Bundle hot reload
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "splice",
		Version: "0.3.0",

		Engine: EngineConfig{
			EnableCache:     false,
			UseEval:         true,
			RetryOnRedefine: false,
		},

		Detector: DetectorConfig{
			ModulesSlot: "m",
			CacheSlot:   "c",
			Marker:      "__require__.m",
		},

		Compile: CompileConfig{
			AllowedPackages: DefaultAllowedPackages(),
			Validate:        true,
			Timeout:         "5s",
		},

		Journal: JournalConfig{
			Enabled: false,
			Path:    ".splice/journal.db",
		},

		Watch: WatchConfig{
			Debounce: "250ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SPLICE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("SPLICE_JOURNAL"); path != "" {
		c.Journal.Path = path
		c.Journal.Enabled = true
	}
	if v := os.Getenv("SPLICE_USE_EVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.UseEval = b
		}
	}
	if v := os.Getenv("SPLICE_ENABLE_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.EnableCache = b
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Detector.ModulesSlot == "" {
		return fmt.Errorf("detector.modules_slot must not be empty")
	}
	if c.Detector.CacheSlot == "" {
		return fmt.Errorf("detector.cache_slot must not be empty")
	}
	if c.Detector.ModulesSlot == c.Detector.CacheSlot {
		return fmt.Errorf("detector slots must differ (both %q)", c.Detector.ModulesSlot)
	}
	if _, err := time.ParseDuration(c.Compile.Timeout); c.Compile.Timeout != "" && err != nil {
		return fmt.Errorf("invalid compile.timeout %q: %w", c.Compile.Timeout, err)
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); c.Watch.Debounce != "" && err != nil {
		return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal enabled without a path")
	}
	return nil
}

// GetCompileTimeout returns the compile timeout as a duration.
func (c *Config) GetCompileTimeout() time.Duration {
	d, err := time.ParseDuration(c.Compile.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetWatchDebounce returns the hot reload debounce window as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}
