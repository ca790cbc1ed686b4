package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the accepted values of Config.OutputFormat
var OutputFormats = []string{"table", "json"}

// Config holds application configuration
type Config struct {
	LogLevel              string        `json:"log_level" yaml:"log_level" default:"info"`
	SearchTimeout         time.Duration `json:"search_timeout" yaml:"search_timeout" default:"30s"`
	NotifyDelay           time.Duration `json:"notify_delay" yaml:"notify_delay"`
	MaxConcurrentSearches int           `json:"max_concurrent_searches" yaml:"max_concurrent_searches" default:"7"`
	OutputFormat          string        `json:"output_format" yaml:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	defaults.SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.SearchTimeout < 0 {
		return fmt.Errorf("search_timeout must not be negative: %s", c.SearchTimeout)
	}
	if c.NotifyDelay < 0 {
		return fmt.Errorf("notify_delay must not be negative: %s", c.NotifyDelay)
	}
	if c.MaxConcurrentSearches < 0 {
		return fmt.Errorf("max_concurrent_searches must not be negative: %d", c.MaxConcurrentSearches)
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("output_format %q must be one of %v", c.OutputFormat, OutputFormats)
	}
	return nil
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
