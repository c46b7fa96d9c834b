package agenttrace

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "AGENTTRACE"

// Config holds tracer configuration.
type Config struct {
	ServiceName   string        `envconfig:"SERVICE_NAME" default:"default"`
	Endpoint      string        `envconfig:"ENDPOINT" default:"http://localhost:8080"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100"`
	BufferSize    int           `envconfig:"BUFFER_SIZE" default:"10000"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"5s"`
	ExportTimeout time.Duration `envconfig:"EXPORT_TIMEOUT" default:"10s"`
	MaxAttempts   int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"warn"`
	Debug         bool          `envconfig:"DEBUG" default:"false"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ServiceName:   "default",
		Endpoint:      "http://localhost:8080",
		BatchSize:     100,
		BufferSize:    10000,
		FlushInterval: 5 * time.Second,
		ExportTimeout: 10 * time.Second,
		MaxAttempts:   3,
		LogLevel:      "warn",
	}
}

// LoadConfig reads AGENTTRACE_* environment variables on top of the defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration can build a working tracer.
func (c Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("config: service name is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("config: batch size must be positive"))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, errors.New("config: buffer size must be positive"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("config: flush interval must be positive"))
	}
	if c.ExportTimeout <= 0 {
		errs = append(errs, errors.New("config: export timeout must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("config: max attempts must be positive"))
	}
	if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: invalid endpoint %q", c.Endpoint))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: invalid log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// withDefaults replaces unusable values with defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = d.ExportTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}
