package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("expected HTTPTimeout %v, got %v", DefaultHTTPTimeout, cfg.HTTPTimeout)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("expected PollInterval %v, got %v", DefaultPollInterval, cfg.PollInterval)
	}
	if cfg.WaitTimeout != DefaultWaitTimeout {
		t.Errorf("expected WaitTimeout %v, got %v", DefaultWaitTimeout, cfg.WaitTimeout)
	}
	if cfg.MaxConcurrentTransfers != DefaultMaxConcurrentTransfers {
		t.Errorf("expected MaxConcurrentTransfers %d, got %d", DefaultMaxConcurrentTransfers, cfg.MaxConcurrentTransfers)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected TLS verification to be skipped by default")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, env := range []string{EnvHTTPTimeout, EnvPollInterval, EnvWaitTimeout, EnvMaxConcurrentTransfers, EnvLogLevel} {
		t.Setenv(env, "")
	}

	cfg := FromEnv()

	if cfg.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("expected HTTPTimeout %v, got %v", DefaultHTTPTimeout, cfg.HTTPTimeout)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("expected LogLevel %q, got %q", DefaultLogLevel, cfg.LogLevel)
	}
}

func TestFromEnv_CustomValues(t *testing.T) {
	t.Setenv(EnvHTTPTimeout, "2m")
	t.Setenv(EnvPollInterval, "250ms")
	t.Setenv(EnvWaitTimeout, "90s")
	t.Setenv(EnvMaxConcurrentTransfers, "10")
	t.Setenv(EnvInsecureSkipVerify, "false")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvLogFile, "/tmp/cafex.log")

	cfg := FromEnv()

	if cfg.HTTPTimeout != 2*time.Minute {
		t.Errorf("expected HTTPTimeout 2m, got %v", cfg.HTTPTimeout)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("expected PollInterval 250ms, got %v", cfg.PollInterval)
	}
	if cfg.WaitTimeout != 90*time.Second {
		t.Errorf("expected WaitTimeout 90s, got %v", cfg.WaitTimeout)
	}
	if cfg.MaxConcurrentTransfers != 10 {
		t.Errorf("expected MaxConcurrentTransfers 10, got %d", cfg.MaxConcurrentTransfers)
	}
	if cfg.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %q", cfg.LogLevel)
	}
	if cfg.LogFile != "/tmp/cafex.log" {
		t.Errorf("expected LogFile /tmp/cafex.log, got %q", cfg.LogFile)
	}
}

func TestFromEnv_InvalidValues(t *testing.T) {
	t.Setenv(EnvHTTPTimeout, "invalid")
	t.Setenv(EnvMaxConcurrentTransfers, "-5")
	t.Setenv(EnvInsecureSkipVerify, "maybe")

	cfg := FromEnv()

	if cfg.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("expected default HTTPTimeout for invalid value, got %v", cfg.HTTPTimeout)
	}
	if cfg.MaxConcurrentTransfers != DefaultMaxConcurrentTransfers {
		t.Errorf("expected default MaxConcurrentTransfers for negative value, got %d", cfg.MaxConcurrentTransfers)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected default InsecureSkipVerify for unparsable value")
	}
}

func TestWithMethods(t *testing.T) {
	original := Default()

	modified := original.WithHTTPTimeout(5 * time.Second).
		WithPollInterval(time.Second).
		WithMaxConcurrentTransfers(8).
		WithInsecureSkipVerify(false)

	if original.HTTPTimeout != DefaultHTTPTimeout {
		t.Error("original config should not be modified")
	}
	if modified.HTTPTimeout != 5*time.Second {
		t.Errorf("expected HTTPTimeout 5s, got %v", modified.HTTPTimeout)
	}
	if modified.PollInterval != time.Second {
		t.Errorf("expected PollInterval 1s, got %v", modified.PollInterval)
	}
	if modified.MaxConcurrentTransfers != 8 {
		t.Errorf("expected MaxConcurrentTransfers 8, got %d", modified.MaxConcurrentTransfers)
	}
	if modified.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify false on modified config")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CAFEX_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("CAFEX_TEST_DOTENV", "")
	os.Unsetenv("CAFEX_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("CAFEX_TEST_DOTENV"); got != "loaded" {
		t.Errorf("expected CAFEX_TEST_DOTENV=loaded, got %q", got)
	}
}
