package exchangeerr

import (
	"errors"
	"testing"
)

func TestBusinessRejectionAs(t *testing.T) {
	var err error = &BusinessRejection{Reason: ReasonBelowMinimum}

	var br *BusinessRejection
	if !errors.As(err, &br) {
		t.Fatal("errors.As failed to match *BusinessRejection")
	}
	if br.Reason != ReasonBelowMinimum {
		t.Errorf("Reason = %q, want %q", br.Reason, ReasonBelowMinimum)
	}
}

func TestAmbiguousSubmissionUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &AmbiguousSubmissionError{PairSymbol: "ETHUSD", Volume: "0.5", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is failed to match wrapped cause")
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Field: "API_SECRET", Cause: errors.New("not base64")}
	want := "config: API_SECRET: not base64"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Kind: "order", ID: "OXYZ-123"}
	want := "order not found: OXYZ-123"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
