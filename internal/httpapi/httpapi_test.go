package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klingon-exchange/autosell/internal/engine"
	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/registry"
	"github.com/klingon-exchange/autosell/internal/status"
)

func writeResult(w http.ResponseWriter, v interface{}) {
	body, _ := json.Marshal(v)
	env := map[string]json.RawMessage{"error": json.RawMessage("[]"), "result": body}
	json.NewEncoder(w).Encode(env)
}

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	orders := map[string]map[string]interface{}{
		"TX123": {
			"descr":    map[string]string{"pair": "XXBTZUSD"},
			"status":   "closed",
			"vol":      "0.05",
			"vol_exec": "0.05",
			"opentm":   1.0,
			"closetm":  2.0,
		},
	}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/public/AssetPairs":
			writeResult(w, map[string]map[string]string{})
		case "/0/private/QueryOrders":
			r.ParseForm()
			txid := r.FormValue("txid")
			o, ok := orders[txid]
			if !ok {
				writeResult(w, map[string]interface{}{})
				return
			}
			writeResult(w, map[string]interface{}{txid: o})
		case "/0/private/QueryTrades":
			writeResult(w, map[string]interface{}{})
		default:
			writeResult(w, map[string]string{})
		}
	}))
	t.Cleanup(backend.Close)

	client, err := exchange.NewClient("test-key", "c2VjcmV0LWtleS1tYXRlcmlhbA==")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetBaseURL(backend.URL)
	client.SetRetryWaits(0, 0)

	reg := registry.New()
	e := engine.New(client, reg, "USD")

	reporter := status.New(e, nil)
	srv := New(reporter, e, client)
	return backend, srv
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /auto-sell/status", srv.handleStatus)
	mux.HandleFunc("GET /balance/{asset}", srv.handleBalance)
	mux.HandleFunc("GET /trade/{txid}", srv.handleOrder)
	mux.HandleFunc("POST /trades/batch", srv.handleTradesBatch)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got["status"] != "ok" {
		t.Errorf(`status field = %v, want "ok"`, got["status"])
	}
	if _, ok := got["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds field in health response")
	}
}

func TestHandleStatus(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/auto-sell/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got status.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.InitialPassComplete {
		t.Error("expected initial pass not yet complete")
	}
}

func TestHandleBalanceUnknownAsset(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/balance/XXBT", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleOrderFound(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/trade/TX123", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var got exchange.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.PairSymbol != "XXBTZUSD" {
		t.Errorf("pair = %s, want XXBTZUSD", got.PairSymbol)
	}
}

func TestHandleOrderNotFound(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/trade/UNKNOWN", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleTradesBatchRejectsOversizedBatch(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	ids := make([]string, maxBatchTrades+1)
	for i := range ids {
		ids[i] = "T"
	}
	body, _ := json.Marshal(tradesBatchRequest{TradeIDs: ids})
	req := httptest.NewRequest(http.MethodPost, "/trades/batch", bytes.NewReader(body))
	rec := doRequest(srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTradesBatchRejectsEmptyBatch(t *testing.T) {
	backend, srv := newTestServer(t)
	defer backend.Close()

	body, _ := json.Marshal(tradesBatchRequest{})
	req := httptest.NewRequest(http.MethodPost, "/trades/batch", bytes.NewReader(body))
	rec := doRequest(srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
