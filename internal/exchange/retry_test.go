package exchange

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestCheckRetryOnServerError(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusInternalServerError, Body: http.NoBody}
	retry, err := checkRetry(context.Background(), resp, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !retry {
		t.Error("expected retry on 500")
	}
}

func TestCheckRetryOnInvalidNonce(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"error":["EAPI:Invalid nonce"]}`)),
	}
	retry, err := checkRetry(context.Background(), resp, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !retry {
		t.Error("expected retry on invalid nonce body")
	}
}

func TestCheckRetryNotRetryableOnBusinessError(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"error":["EOrder:Insufficient funds"]}`)),
	}
	retry, err := checkRetry(context.Background(), resp, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retry {
		t.Error("business rejections should not be retried")
	}
}

func TestCheckRetryOnTransportError(t *testing.T) {
	retry, err := checkRetry(context.Background(), nil, io.ErrUnexpectedEOF)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !retry {
		t.Error("expected retry on transport error")
	}
}

func TestCheckRetryNeverRetriesUnderNoRetry(t *testing.T) {
	ctx := withNoRetry(context.Background())

	retry, err := checkRetry(ctx, nil, io.ErrUnexpectedEOF)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retry {
		t.Error("expected no retry on transport error under withNoRetry")
	}

	resp := &http.Response{StatusCode: http.StatusInternalServerError, Body: http.NoBody}
	retry, err = checkRetry(ctx, resp, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retry {
		t.Error("expected no retry on 500 under withNoRetry")
	}
}

func TestCheckRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retry, err := checkRetry(ctx, nil, io.ErrUnexpectedEOF)
	if err == nil {
		t.Error("expected error once context is cancelled")
	}
	if retry {
		t.Error("should not retry once context is cancelled")
	}
}
