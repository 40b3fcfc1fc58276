package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter is the process-wide shared gate every C1 operation passes
// through: a sliding-window limiter (15 requests/second) plus an
// explicit floor on the spacing between any two consecutive calls (100ms)
// so that two signed requests never reach the exchange close enough
// together to race on nonce ordering. golang.org/x/time/rate alone
// bounds the rate but does not guarantee minimum spacing between
// individual admissions, hence the extra floor below.
type rateLimiter struct {
	limiter    *rate.Limiter
	minSpacing time.Duration
	lastAdmit  time.Time
	mu         chan struct{} // binary semaphore guarding lastAdmit
}

const (
	defaultRatePerSecond = 15
	defaultBurst         = 15
	defaultMinSpacing    = 100 * time.Millisecond
)

// newRateLimiter builds the default per-account request rate limiter.
func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultBurst),
		minSpacing: defaultMinSpacing,
		mu:         make(chan struct{}, 1),
	}
}

// wait blocks until the caller is admitted: first under the sliding
// window, then under the minimum-spacing floor. Any number of goroutines
// may call wait concurrently for different assets; none starves another
// because admission order follows arrival order at the limiter.
func (r *rateLimiter) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	r.mu <- struct{}{}
	defer func() { <-r.mu }()

	if since := time.Since(r.lastAdmit); since < r.minSpacing {
		select {
		case <-time.After(r.minSpacing - since):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.lastAdmit = time.Now()
	return nil
}
