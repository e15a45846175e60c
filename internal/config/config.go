// Package config loads sessionize settings from defaults, an optional YAML
// file, the environment, and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// DefaultTimeLayout is the layout of EDGAR date and time columns joined by a space.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// Config holds the settings of a sessionize run.
type Config struct {
	// InactivityPeriod is the longest gap allowed between two requests of one session.
	InactivityPeriod time.Duration `yaml:"inactivity_period" env:"INACTIVITY_PERIOD"`

	// InactivityFile points at a file holding the period as whole seconds.
	// It takes precedence over InactivityPeriod when set.
	InactivityFile string `yaml:"inactivity_file,omitempty" env:"INACTIVITY_FILE"`

	Output     string `yaml:"output" env:"OUTPUT"`
	Format     string `yaml:"format" env:"FORMAT"`
	TimeLayout string `yaml:"time_layout" env:"TIME_LAYOUT"`
	Filter     string `yaml:"filter,omitempty" env:"FILTER"`
	Workers    int    `yaml:"workers" env:"WORKERS"`

	MetricsFile string `yaml:"metrics_file,omitempty" env:"METRICS_FILE"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT"`

	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
	S3       S3Config       `yaml:"s3" envPrefix:"S3_"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
}

// PostgresConfig configures the PostgreSQL sink.
type PostgresConfig struct {
	DSN   string `yaml:"dsn,omitempty" env:"DSN"`
	Table string `yaml:"table" env:"TABLE"`
}

// S3Config configures s3:// inputs.
type S3Config struct {
	Region    string `yaml:"region,omitempty" env:"REGION"`
	Endpoint  string `yaml:"endpoint,omitempty" env:"ENDPOINT"`
	PathStyle bool   `yaml:"path_style,omitempty" env:"PATH_STYLE"`
}

// HTTPConfig configures http(s) inputs and downloads.
type HTTPConfig struct {
	// RateLimit caps requests per second. SEC.gov allows at most 10.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	UserAgent string  `yaml:"user_agent,omitempty" env:"USER_AGENT"`
}

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SESSIONIZE_"

// Default returns the built-in settings.
func Default() Config {
	return Config{
		InactivityPeriod: 2 * time.Second,
		Output:           "-",
		Format:           FormatCSV,
		TimeLayout:       DefaultTimeLayout,
		Workers:          4,
		LogLevel:         "info",
		LogFormat:        "json",
		Postgres: PostgresConfig{
			Table: "sessions",
		},
		HTTP: HTTPConfig{
			RateLimit: 10,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), and SESSIONIZE_* environment variables. A .env file in the working
// directory is loaded first if present.
func Load(path string) (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// LoadEnvFiles loads the given dotenv files into the process environment.
// Variables already set are not overridden.
func LoadEnvFiles(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// Threshold resolves the inactivity threshold, reading InactivityFile when set.
func (c Config) Threshold() (time.Duration, error) {
	if c.InactivityFile != "" {
		return ReadInactivityFile(c.InactivityFile)
	}
	return c.InactivityPeriod, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.InactivityFile == "" && c.InactivityPeriod <= 0 {
		errs = append(errs, fmt.Errorf("inactivity_period must be positive, got %s", c.InactivityPeriod))
	}
	switch c.Format {
	case FormatCSV, FormatJSONL:
	default:
		errs = append(errs, fmt.Errorf("unknown format %q (want %s or %s)", c.Format, FormatCSV, FormatJSONL))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.TimeLayout == "" {
		errs = append(errs, errors.New("time_layout must not be empty"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit must not be negative, got %v", c.HTTP.RateLimit))
	}
	if c.Postgres.Table == "" {
		errs = append(errs, errors.New("postgres.table must not be empty"))
	}
	return errors.Join(errs...)
}

// ReadInactivityFile reads a file containing a single positive integer
// number of seconds.
func ReadInactivityFile(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading inactivity period: %w", err)
	}
	text := strings.TrimSpace(string(data))
	secs, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("inactivity period %q in %s: %w", text, path, err)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("inactivity period in %s must be positive, got %d", path, secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// Write saves c as YAML to path.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
