package exchange

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterEnforcesMinSpacing(t *testing.T) {
	r := newRateLimiter()
	r.minSpacing = 50 * time.Millisecond

	ctx := context.Background()
	if err := r.wait(ctx); err != nil {
		t.Fatalf("first wait returned error: %v", err)
	}

	start := time.Now()
	if err := r.wait(ctx); err != nil {
		t.Fatalf("second wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < r.minSpacing {
		t.Errorf("second wait returned after %v, want at least %v", elapsed, r.minSpacing)
	}
}

func TestRateLimiterRespectsContextCancellation(t *testing.T) {
	r := newRateLimiter()
	r.minSpacing = time.Hour
	if err := r.wait(context.Background()); err != nil {
		t.Fatalf("first wait returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := r.wait(ctx); err == nil {
		t.Error("wait should have returned an error once the context deadline passed")
	}
}
