package config

import (
	"os"
	"testing"

	"github.com/klingon-exchange/autosell/internal/exchangeerr"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envAPIKey, envAPISecret, envTargetFiat, envSandbox, envHTTPAddr, envDebug, envLogSinkURL, envLogSinkToken} {
		os.Unsetenv(k)
	}
}

func TestLoadMissingCredentialsIsConfigError(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with no env vars should fail")
	}

	var cfgErr *exchangeerr.ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *exchangeerr.ConfigError", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv(envAPIKey, "key")
	os.Setenv(envAPISecret, "c2VjcmV0")
	os.Setenv(envTargetFiat, "USD")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, defaultHTTPAddr)
	}
	if cfg.Debug {
		t.Error("Debug should default to false")
	}
	if cfg.LogLevel() != "info" {
		t.Errorf("LogLevel() = %q, want %q", cfg.LogLevel(), "info")
	}
}

func TestLoadParsesBooleans(t *testing.T) {
	clearEnv(t)
	os.Setenv(envAPIKey, "key")
	os.Setenv(envAPISecret, "c2VjcmV0")
	os.Setenv(envTargetFiat, "USD")
	os.Setenv(envDebug, "true")
	os.Setenv(envSandbox, "1")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if !cfg.Sandbox {
		t.Error("Sandbox should be true")
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() = %q, want %q", cfg.LogLevel(), "debug")
	}
}

func TestLoadRejectsBadBoolean(t *testing.T) {
	clearEnv(t)
	os.Setenv(envAPIKey, "key")
	os.Setenv(envAPISecret, "c2VjcmV0")
	os.Setenv(envTargetFiat, "USD")
	os.Setenv(envDebug, "maybe")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Error("Load() with DEBUG=maybe should fail")
	}
}

func asConfigError(err error, target **exchangeerr.ConfigError) bool {
	ce, ok := err.(*exchangeerr.ConfigError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
