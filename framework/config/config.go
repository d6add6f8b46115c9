package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default values used throughout the framework
const (
	// DefaultHTTPTimeout is the default timeout for REST, NiFi, Databricks and GraphQL calls
	DefaultHTTPTimeout = 60 * time.Second

	// DefaultPollInterval is the default interval between state checks
	DefaultPollInterval = 5 * time.Second

	// DefaultWaitTimeout is the default upper bound for state transitions
	DefaultWaitTimeout = 60 * time.Second

	// DefaultExplicitWait is the default explicit wait for web elements
	DefaultExplicitWait = 30 * time.Second

	// DefaultJobRetryCount is the default number of polls while waiting for a Databricks run
	DefaultJobRetryCount = 60

	// DefaultMaxConcurrentTransfers bounds parallel file transfers
	DefaultMaxConcurrentTransfers = 4

	// DefaultRetryAttempts is the number of attempts for transient transport failures
	DefaultRetryAttempts = 3

	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultReportDir  = "reports"
	DefaultLogMaxSize = 50
)

// Environment variable names for configuration overrides
const (
	EnvHTTPTimeout            = "CAFEX_HTTP_TIMEOUT"
	EnvPollInterval           = "CAFEX_POLL_INTERVAL"
	EnvWaitTimeout            = "CAFEX_WAIT_TIMEOUT"
	EnvExplicitWait           = "CAFEX_EXPLICIT_WAIT"
	EnvMaxConcurrentTransfers = "CAFEX_MAX_CONCURRENT_TRANSFERS"
	EnvRetryAttempts          = "CAFEX_RETRY_ATTEMPTS"
	EnvInsecureSkipVerify     = "CAFEX_INSECURE_SKIP_VERIFY"
	EnvLogLevel               = "CAFEX_LOG_LEVEL"
	EnvLogFormat              = "CAFEX_LOG_FORMAT"
	EnvLogFile                = "CAFEX_LOG_FILE"
	EnvReportDir              = "CAFEX_REPORT_DIR"
)

// Config holds framework configuration with optional overrides
type Config struct {
	// Timeouts
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
	ExplicitWait time.Duration

	// Transport
	RetryAttempts      int
	InsecureSkipVerify bool

	// File transfer
	MaxConcurrentTransfers int

	// Logging
	LogLevel   string
	LogFormat  string
	LogFile    string
	LogMaxSize int

	// Reporting
	ReportDir string
}

// Default returns a Config with all default values.
// TLS verification is off by default, matching how test environments are usually exposed.
func Default() *Config {
	return &Config{
		HTTPTimeout:            DefaultHTTPTimeout,
		PollInterval:           DefaultPollInterval,
		WaitTimeout:            DefaultWaitTimeout,
		ExplicitWait:           DefaultExplicitWait,
		RetryAttempts:          DefaultRetryAttempts,
		InsecureSkipVerify:     true,
		MaxConcurrentTransfers: DefaultMaxConcurrentTransfers,
		LogLevel:               DefaultLogLevel,
		LogFormat:              DefaultLogFormat,
		LogMaxSize:             DefaultLogMaxSize,
		ReportDir:              DefaultReportDir,
	}
}

// FromEnv returns a Config with values from environment variables, falling back to defaults
func FromEnv() *Config {
	cfg := Default()

	durations := map[string]*time.Duration{
		EnvHTTPTimeout:  &cfg.HTTPTimeout,
		EnvPollInterval: &cfg.PollInterval,
		EnvWaitTimeout:  &cfg.WaitTimeout,
		EnvExplicitWait: &cfg.ExplicitWait,
	}
	for env, dst := range durations {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}

	if v := os.Getenv(EnvMaxConcurrentTransfers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentTransfers = n
		}
	}

	if v := os.Getenv(EnvRetryAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryAttempts = n
		}
	}

	if v := os.Getenv(EnvInsecureSkipVerify); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.InsecureSkipVerify = b
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(EnvReportDir); v != "" {
		cfg.ReportDir = v
	}

	return cfg
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// WithHTTPTimeout returns a copy with updated HTTP timeout
func (c *Config) WithHTTPTimeout(d time.Duration) *Config {
	cp := *c
	cp.HTTPTimeout = d
	return &cp
}

// WithPollInterval returns a copy with updated poll interval
func (c *Config) WithPollInterval(d time.Duration) *Config {
	cp := *c
	cp.PollInterval = d
	return &cp
}

// WithWaitTimeout returns a copy with updated wait timeout
func (c *Config) WithWaitTimeout(d time.Duration) *Config {
	cp := *c
	cp.WaitTimeout = d
	return &cp
}

// WithExplicitWait returns a copy with updated explicit element wait
func (c *Config) WithExplicitWait(d time.Duration) *Config {
	cp := *c
	cp.ExplicitWait = d
	return &cp
}

// WithMaxConcurrentTransfers returns a copy with updated transfer concurrency
func (c *Config) WithMaxConcurrentTransfers(n int) *Config {
	cp := *c
	cp.MaxConcurrentTransfers = n
	return &cp
}

// WithInsecureSkipVerify returns a copy with TLS verification toggled
func (c *Config) WithInsecureSkipVerify(skip bool) *Config {
	cp := *c
	cp.InsecureSkipVerify = skip
	return &cp
}

// WithLogFile returns a copy that also writes logs to a rotating file
func (c *Config) WithLogFile(path string) *Config {
	cp := *c
	cp.LogFile = path
	return &cp
}
