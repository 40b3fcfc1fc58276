package exchange

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// retryableNonceError is the literal substring the exchange returns when a
// request's nonce was not strictly greater than the last one it accepted.
// A client built around a single NonceGenerator should rarely see this, but
// clock skew across restarts or overlapping processes can still produce it,
// and it is treated as retryable rather than fatal.
const retryableNonceError = "EAPI:Invalid nonce"

// newRetryPolicy builds the single retryablehttp.Client shared by every
// client operation: one policy object, not a retry closure reimplemented
// at each call site. Transport resets, timeouts, connection refusal,
// HTTP 5xx, and the exchange's own "invalid nonce" body are retried with
// linear backoff; everything else -- auth failures,
// insufficient funds, unknown pairs, malformed input -- is surfaced to the
// caller on the first attempt.
func newRetryPolicy() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2 // retries after the first attempt: three attempts in all
	c.Logger = nil
	c.Backoff = linearBackoff
	c.CheckRetry = checkRetry
	return c
}

func linearBackoff(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
	d := time.Duration(attempt+1) * min
	if d > max {
		return max
	}
	return d
}

// noRetryKey marks a request context as one whose outcome must never be
// retried at the transport layer, regardless of status code or error --
// used for order submission, where a retried send could duplicate an
// order that in fact already reached the exchange.
type noRetryKey struct{}

// withNoRetry returns a context that checkRetry always treats as
// exhausted after the first attempt.
func withNoRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if ctx.Value(noRetryKey{}) != nil {
		return false, nil
	}
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest {
		body, readErr := peekBody(resp)
		if readErr == nil && strings.Contains(body, retryableNonceError) {
			return true, nil
		}
	}
	return false, nil
}

// peekBody reads resp.Body and restores it so downstream decoding still
// sees the full payload.
func peekBody(resp *http.Response) (string, error) {
	if resp.Body == nil {
		return "", nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(strings.NewReader(string(data)))
	return string(data), nil
}
