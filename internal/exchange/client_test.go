package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klingon-exchange/autosell/internal/exchangeerr"
	"github.com/klingon-exchange/autosell/internal/money"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-key", "c2VjcmV0LWtleS1tYXRlcmlhbA==")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	c.baseURL = srv.URL
	c.http.RetryWaitMin = 0
	c.http.RetryWaitMax = 0
	c.limiter.minSpacing = 0
	return c
}

func writeEnvelope(w http.ResponseWriter, errs []string, result interface{}) {
	body, _ := json.Marshal(result)
	env := krakenEnvelope{Error: errs, Result: body}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(env)
}

func TestListPairs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathAssetPairs {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		writeEnvelope(w, nil, map[string]assetPairEntry{
			"XETHZUSD": {Base: "XETH", Quote: "ZUSD", OrderMin: "0.01"},
		})
	})

	pairs, err := c.ListPairs(context.Background())
	if err != nil {
		t.Fatalf("ListPairs returned error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	if pairs[0].PairSymbol != "XETHZUSD" || pairs[0].Base != "XETH" {
		t.Errorf("unexpected pair: %+v", pairs[0])
	}
	if !pairs[0].MinimumOrderSize.GreaterThanOrEqual(money.MustParse("0.01")) {
		t.Errorf("expected minimum order size 0.01, got %s", pairs[0].MinimumOrderSize)
	}
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-Key") != "test-key" {
			t.Errorf("missing API-Key header")
		}
		if r.FormValue("nonce") == "" {
			t.Errorf("missing nonce in request body")
		}
		writeEnvelope(w, nil, map[string]string{"ZUSD": "100.50", "XXBT": "0.002"})
	})

	balances, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(balances))
	}
	if !balances["ZUSD"].GreaterThanOrEqual(money.MustParse("100.50")) {
		t.Errorf("unexpected ZUSD balance: %s", balances["ZUSD"])
	}
}

func TestSubmitMarketSellSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("ordertype") != "market" {
			t.Errorf("expected market order, got %s", r.FormValue("ordertype"))
		}
		writeEnvelope(w, nil, addOrderResult{TxID: []string{"OABC-123"}})
	})

	orderID, err := c.SubmitMarketSell(context.Background(), "XETHZUSD", money.MustParse("1.5"))
	if err != nil {
		t.Fatalf("SubmitMarketSell returned error: %v", err)
	}
	if orderID != "OABC-123" {
		t.Errorf("got order id %q, want OABC-123", orderID)
	}
}

func TestSubmitMarketSellBusinessRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, []string{"EOrder:Insufficient funds"}, nil)
	})

	_, err := c.SubmitMarketSell(context.Background(), "XETHZUSD", money.MustParse("1.5"))
	var rejection *exchangeerr.BusinessRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected BusinessRejection, got %v (%T)", err, err)
	}
	if rejection.Reason != exchangeerr.ReasonInsufficientLive {
		t.Errorf("got reason %s, want %s", rejection.Reason, exchangeerr.ReasonInsufficientLive)
	}
}

func TestSubmitMarketSellDoesNotRetryTransportFailure(t *testing.T) {
	var attempts int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("test server does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		conn.Close() // simulate a connection reset after the request reached the server
	})

	_, err := c.SubmitMarketSell(context.Background(), "XETHZUSD", money.MustParse("1.5"))
	var ambiguous *exchangeerr.AmbiguousSubmissionError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousSubmissionError, got %v (%T)", err, err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly one attempt, got %d -- a retried submission could place a duplicate order", attempts)
	}
}

func TestQueryOrderNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, nil, map[string]orderInfo{})
	})

	_, err := c.QueryOrder(context.Background(), "OMISSING")
	var notFound *exchangeerr.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v (%T)", err, err)
	}
}

func TestDoSurfacesAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetBalance(context.Background())
	var authErr *exchangeerr.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v (%T)", err, err)
	}
}
