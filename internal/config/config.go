package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete tool configuration.
type Config struct {
	LogLevel     string        `yaml:"log_level" env:"ZIPAES_LOG_LEVEL"`
	LogFormat    string        `yaml:"log_format" env:"ZIPAES_LOG_FORMAT"` // text or json
	Workers      int           `yaml:"workers" env:"ZIPAES_WORKERS"`
	Backend      string        `yaml:"backend" env:"ZIPAES_BACKEND"` // native or reference
	ChunkSize    int           `yaml:"chunk_size" env:"ZIPAES_CHUNK_SIZE"`
	ReportEvery  time.Duration `yaml:"report_every" env:"ZIPAES_REPORT_EVERY"`
	OutputDir    string        `yaml:"output_dir" env:"ZIPAES_OUTPUT_DIR"`
	PasswordFile string        `yaml:"password_file" env:"ZIPAES_PASSWORD_FILE"`
	TUI          bool          `yaml:"tui" env:"ZIPAES_TUI"`
	MetricsFile  string        `yaml:"metrics_file" env:"ZIPAES_METRICS_FILE"`
	Include      []string      `yaml:"include" env:"ZIPAES_INCLUDE"` // entry name globs

	// Password is only ever read from the environment, never from YAML.
	Password string `yaml:"-" env:"ZIPAES_PASSWORD"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Workers:     runtime.NumCPU(),
		Backend:     "native",
		ChunkSize:   32 << 10,
		ReportEvery: time.Second,
		OutputDir:   ".",
	}
}

// LoadConfig loads configuration from an optional YAML file and environment
// variables, in that order, then validates it.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// loadFromEnv overrides configuration values from environment variables.
func loadFromEnv(config *Config) error {
	if v := os.Getenv("ZIPAES_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("ZIPAES_LOG_FORMAT"); v != "" {
		config.LogFormat = v
	}
	if v := os.Getenv("ZIPAES_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZIPAES_WORKERS: %w", err)
		}
		config.Workers = n
	}
	if v := os.Getenv("ZIPAES_BACKEND"); v != "" {
		config.Backend = v
	}
	if v := os.Getenv("ZIPAES_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZIPAES_CHUNK_SIZE: %w", err)
		}
		config.ChunkSize = n
	}
	if v := os.Getenv("ZIPAES_REPORT_EVERY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZIPAES_REPORT_EVERY: %w", err)
		}
		config.ReportEvery = d
	}
	if v := os.Getenv("ZIPAES_OUTPUT_DIR"); v != "" {
		config.OutputDir = v
	}
	if v := os.Getenv("ZIPAES_PASSWORD_FILE"); v != "" {
		config.PasswordFile = v
	}
	if v := os.Getenv("ZIPAES_TUI"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ZIPAES_TUI: %w", err)
		}
		config.TUI = b
	}
	if v := os.Getenv("ZIPAES_METRICS_FILE"); v != "" {
		config.MetricsFile = v
	}
	if v := os.Getenv("ZIPAES_INCLUDE"); v != "" {
		config.Include = splitList(v)
	}
	if v := os.Getenv("ZIPAES_PASSWORD"); v != "" {
		config.Password = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	switch c.Backend {
	case "native", "reference":
	default:
		return fmt.Errorf("backend must be native or reference, got %q", c.Backend)
	}
	if c.ChunkSize < 16 || c.ChunkSize%16 != 0 {
		return fmt.Errorf("chunk_size must be a positive multiple of 16, got %d", c.ChunkSize)
	}
	if c.ReportEvery <= 0 {
		return errors.New("report_every must be positive")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	return nil
}
