// Package config loads the liquidation agent's configuration from process
// environment variables, with an optional .env file loaded first (real
// environment variables always win). No on-disk config file is read or
// written; the agent touches nothing on disk beyond stdout/stderr.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/klingon-exchange/autosell/internal/exchangeerr"
)

// Config holds every recognized environment option for the liquidation agent.
type Config struct {
	// APIKey is the exchange API key (authentication identity).
	APIKey string
	// APISecret is the base64-encoded exchange API secret (signing
	// material).
	APISecret string
	// TargetFiat is the quote asset that every other asset is
	// liquidated into; it is never itself a sell candidate.
	TargetFiat string
	// Sandbox selects the alternate REST/stream endpoints when true.
	Sandbox bool
	// HTTPAddr is the bind address for the read-only status surface.
	HTTPAddr string
	// Debug enables verbose tracing.
	Debug bool
	// LogSinkURL, if non-empty, receives a best-effort duplicate of
	// every structured log line.
	LogSinkURL string
	// LogSinkToken is the bearer credential for LogSinkURL.
	LogSinkToken string
}

// Environment variable names recognized by Load.
const (
	envAPIKey       = "EXCHANGE_API_KEY"
	envAPISecret    = "EXCHANGE_API_SECRET"
	envTargetFiat   = "TARGET_FIAT"
	envSandbox      = "SANDBOX"
	envHTTPAddr     = "HTTP_ADDR"
	envDebug        = "DEBUG"
	envLogSinkURL   = "LOG_SINK_URL"
	envLogSinkToken = "LOG_SINK_TOKEN"
)

// defaultHTTPAddr is used when HTTP_ADDR is unset.
const defaultHTTPAddr = "127.0.0.1:8080"

// Load reads configuration from the environment. It first attempts to
// load a ".env" file in the working directory (ignored if absent — this
// is a convenience for local/sandbox runs, never a requirement), then
// reads and validates the recognized variables.
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of a .env file is not an error

	cfg := &Config{
		APIKey:       os.Getenv(envAPIKey),
		APISecret:    os.Getenv(envAPISecret),
		TargetFiat:   os.Getenv(envTargetFiat),
		HTTPAddr:     os.Getenv(envHTTPAddr),
		LogSinkURL:   os.Getenv(envLogSinkURL),
		LogSinkToken: os.Getenv(envLogSinkToken),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}

	if v := os.Getenv(envSandbox); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &exchangeerr.ConfigError{Field: envSandbox, Cause: err}
		}
		cfg.Sandbox = b
	}

	if v := os.Getenv(envDebug); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &exchangeerr.ConfigError{Field: envDebug, Cause: err}
		}
		cfg.Debug = b
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces the minimum viable configuration. Missing credentials
// or target fiat are fatal at startup.
func (c *Config) validate() error {
	if c.APIKey == "" {
		return &exchangeerr.ConfigError{Field: envAPIKey, Cause: fmt.Errorf("required")}
	}
	if c.APISecret == "" {
		return &exchangeerr.ConfigError{Field: envAPISecret, Cause: fmt.Errorf("required")}
	}
	if c.TargetFiat == "" {
		return &exchangeerr.ConfigError{Field: envTargetFiat, Cause: fmt.Errorf("required")}
	}
	return nil
}

// LogLevel returns the logging.Config-compatible level string implied by
// Debug.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return "info"
}
