package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klingon-exchange/autosell/internal/engine"
	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/registry"
)

func TestStatusReflectsColdPassCompletion(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]string{"XXBT": "0.00"})
		env := map[string]json.RawMessage{"error": json.RawMessage("[]"), "result": body}
		json.NewEncoder(w).Encode(env)
	}))
	defer backend.Close()

	client, err := exchange.NewClient("test-key", "c2VjcmV0LWtleS1tYXRlcmlhbA==")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetBaseURL(backend.URL)
	client.SetRetryWaits(0, 0)

	reg := registry.New()
	e := engine.New(client, reg, "USD")
	reporter := New(e, nil)

	before := reporter.Status()
	if before.InitialPassComplete {
		t.Error("expected initial pass not complete before ColdPass runs")
	}
	if before.FeedConnected {
		t.Error("expected feed not connected when no feed was supplied")
	}

	if err := e.ColdPass(context.Background()); err != nil {
		t.Fatalf("ColdPass: %v", err)
	}

	after := reporter.Status()
	if !after.InitialPassComplete {
		t.Error("expected initial pass complete after ColdPass runs")
	}
	if _, ok := after.Balances["XXBT"]; !ok {
		t.Error("expected balances to include the asset reported by ColdPass")
	}
}
