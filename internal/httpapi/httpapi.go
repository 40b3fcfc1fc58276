// Package httpapi exposes the read-only operational surface over HTTP:
// liveness, the status snapshot, a single balance lookup, and
// passthrough order/trade queries against the exchange. It never
// accepts a request that would place or cancel an order -- all selling
// decisions stay inside the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/klingon-exchange/autosell/internal/engine"
	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/exchangeerr"
	"github.com/klingon-exchange/autosell/internal/status"
	"github.com/klingon-exchange/autosell/pkg/logging"
)

const maxBatchTrades = 20

// Server serves the status HTTP API on its own listener.
type Server struct {
	reporter *status.Reporter
	engine   *engine.Engine
	client   *exchange.Client
	log      *logging.Logger

	server *http.Server
}

// New constructs a Server. Call Start to begin listening.
func New(reporter *status.Reporter, e *engine.Engine, client *exchange.Client) *Server {
	return &Server{
		reporter: reporter,
		engine:   e,
		client:   client,
		log:      logging.GetDefault().Component("httpapi"),
	}
}

// Start binds addr and begins serving in a background goroutine.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /auto-sell/status", s.handleStatus)
	mux.HandleFunc("GET /balance/{asset}", s.handleBalance)
	mux.HandleFunc("GET /trade/{txid}", s.handleOrder)
	mux.HandleFunc("POST /trades/batch", s.handleTradesBatch)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server error", "error", err)
		}
	}()

	s.log.Info("status server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(s.reporter.Uptime().Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Status())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if asset == "" {
		writeError(w, &exchangeerr.ValidationError{Field: "asset", Reason: "must not be empty"})
		return
	}
	amount, ok := s.engine.Balance(asset)
	if !ok {
		writeError(w, &exchangeerr.NotFoundError{Kind: "asset", ID: asset})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset, "amount": amount})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	txid := r.PathValue("txid")
	if txid == "" {
		writeError(w, &exchangeerr.ValidationError{Field: "txid", Reason: "must not be empty"})
		return
	}
	order, err := s.client.QueryOrder(r.Context(), txid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type tradesBatchRequest struct {
	TradeIDs []string `json:"trade_ids"`
}

func (s *Server) handleTradesBatch(w http.ResponseWriter, r *http.Request) {
	var req tradesBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &exchangeerr.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if len(req.TradeIDs) == 0 {
		writeError(w, &exchangeerr.ValidationError{Field: "trade_ids", Reason: "must not be empty"})
		return
	}
	if len(req.TradeIDs) > maxBatchTrades {
		writeError(w, &exchangeerr.ValidationError{Field: "trade_ids", Reason: "exceeds maximum batch size of 20"})
		return
	}

	trades, err := s.client.QueryTrades(r.Context(), req.TradeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var notFound *exchangeerr.NotFoundError
	if errors.As(err, &notFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	var validation *exchangeerr.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
