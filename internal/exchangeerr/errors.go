// Package exchangeerr defines the typed error taxonomy used across the
// liquidation agent, so callers can branch on error class with
// errors.As instead of matching substrings of exchange error strings.
package exchangeerr

import "fmt"

// ConfigError indicates a problem with process configuration that is
// fatal at startup: missing credentials, an unparseable secret, an
// invalid port.
type ConfigError struct {
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("config: %s", e.Field)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// AuthError indicates the exchange rejected our signature or API key.
// Never retried.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Cause) }
func (e *AuthError) Unwrap() error { return e.Cause }

// TransientError indicates a condition that the retry policy should
// retry: transport reset/timeout/refused, HTTP 5xx, or an invalid-nonce
// race.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Cause)
}
func (e *TransientError) Unwrap() error { return e.Cause }

// ValidationError indicates bad client-submitted input to the status
// surface. Maps to HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates an unknown order, trade, or asset. Maps to
// HTTP 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Reason enumerates why a dispatch gate rejected an asset.
type Reason string

const (
	ReasonTargetCurrency   Reason = "target_currency"
	ReasonNoMarket         Reason = "no_market"
	ReasonBelowMinimum     Reason = "below_minimum_order"
	ReasonInsufficientLive Reason = "insufficient_available_balance"
)

// BusinessRejection indicates the exchange (or a dispatch gate) rejected
// the operation for a business reason, not a transport failure. It is
// logged and the asset returns to IDLE; it never crashes the process.
type BusinessRejection struct {
	Reason Reason
	Cause  error
}

func (e *BusinessRejection) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("business rejection (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("business rejection (%s)", e.Reason)
}
func (e *BusinessRejection) Unwrap() error { return e.Cause }

// AmbiguousSubmissionError indicates submit_market_sell's transport
// failed after the request was written to the wire but before a response
// was read. The outcome is unknown until reconciled against the next
// balance snapshot; it must never be retried directly.
type AmbiguousSubmissionError struct {
	PairSymbol string
	Volume     string
	Cause      error
}

func (e *AmbiguousSubmissionError) Error() string {
	return fmt.Sprintf("ambiguous submission for %s volume %s: %v", e.PairSymbol, e.Volume, e.Cause)
}
func (e *AmbiguousSubmissionError) Unwrap() error { return e.Cause }
