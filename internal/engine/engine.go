// Package engine implements the liquidation pipeline: it classifies
// every balance delta delivered by the feed or discovered on the
// startup cold pass, gates it through market resolution and
// minimum-order constraints, and dispatches exactly-once market sells
// under single-flight and retry discipline.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/money"
	"github.com/klingon-exchange/autosell/internal/registry"
	"github.com/klingon-exchange/autosell/pkg/logging"
)

const (
	maxSubmitAttempts = 3
	submitBackoffUnit = 2 * time.Second

	settleDelay        = 3 * time.Second
	residualRetryDelay = 2 * time.Second
	ambiguousTolerance = "0.0001" // absolute slack, in asset units, when reconciling an ambiguous submission against a snapshot
)

// assetState is the per-asset single-flight gate and ambiguous-
// submission memory, created lazily and kept for the process lifetime.
type assetState struct {
	mu        sync.Mutex // held for the duration of one dispatch-to-finalize cycle
	ambiguous *ambiguousSubmission
}

// ambiguousSubmission records a sell whose transport outcome is
// unknown, pending reconciliation against the next snapshot.
type ambiguousSubmission struct {
	pairSymbol   string
	volume       money.Amount
	balanceAtSub money.Amount
	submittedAt  time.Time
}

// Engine holds all mutable liquidation state: reported and last-acted
// balances, per-asset single-flight locks, and the exchange client and
// registry it dispatches through. One Engine serves the whole process.
type Engine struct {
	client     *exchange.Client
	registry   *registry.Registry
	targetFiat string
	log        *logging.Logger

	maxSubmitAttempts  int
	submitBackoffUnit  time.Duration
	settleDelay        time.Duration
	residualRetryDelay time.Duration

	balMu     sync.RWMutex
	reported  map[string]money.Amount
	lastActed map[string]money.Amount

	statesMu sync.Mutex
	states   map[string]*assetState

	residualMu sync.Mutex
	residual   map[string]context.CancelFunc

	initialPassComplete bool
	initialPassMu       sync.Mutex
}

// New constructs an Engine. targetFiat is the standard ticker (e.g.
// "USD") that is never a sell candidate.
func New(client *exchange.Client, reg *registry.Registry, targetFiat string) *Engine {
	return &Engine{
		client:             client,
		registry:           reg,
		targetFiat:         targetFiat,
		log:                logging.GetDefault().Component("engine"),
		maxSubmitAttempts:  maxSubmitAttempts,
		submitBackoffUnit:  submitBackoffUnit,
		settleDelay:        settleDelay,
		residualRetryDelay: residualRetryDelay,
		reported:           make(map[string]money.Amount),
		lastActed:          make(map[string]money.Amount),
		states:             make(map[string]*assetState),
		residual:           make(map[string]context.CancelFunc),
	}
}

// InitialPassComplete reports whether the startup cold pass has
// finished dispatching every non-zero asset it found.
func (e *Engine) InitialPassComplete() bool {
	e.initialPassMu.Lock()
	defer e.initialPassMu.Unlock()
	return e.initialPassComplete
}

// Balances returns a snapshot copy of the engine's reported balances,
// keyed by native asset code.
func (e *Engine) Balances() map[string]money.Amount {
	e.balMu.RLock()
	defer e.balMu.RUnlock()
	out := make(map[string]money.Amount, len(e.reported))
	for k, v := range e.reported {
		out[k] = v
	}
	return out
}

// Balance returns the reported amount for a single native asset code.
func (e *Engine) Balance(nativeAsset string) (money.Amount, bool) {
	e.balMu.RLock()
	defer e.balMu.RUnlock()
	a, ok := e.reported[nativeAsset]
	return a, ok
}

func (e *Engine) setReported(asset string, amount money.Amount) {
	e.balMu.Lock()
	e.reported[asset] = amount
	e.balMu.Unlock()
}

func (e *Engine) getReported(asset string) money.Amount {
	e.balMu.RLock()
	defer e.balMu.RUnlock()
	return e.reported[asset]
}

func (e *Engine) setLastActed(asset string, amount money.Amount) {
	e.balMu.Lock()
	e.lastActed[asset] = amount
	e.balMu.Unlock()
}

func (e *Engine) getLastActed(asset string) (money.Amount, bool) {
	e.balMu.RLock()
	defer e.balMu.RUnlock()
	a, ok := e.lastActed[asset]
	return a, ok
}

// stateFor returns the persistent per-asset state, creating it on first
// use. The map itself is protected separately from the per-asset mutex
// it hands out: lock the index to find or create the entry, then lock
// the entry itself for the duration of a state transition.
func (e *Engine) stateFor(asset string) *assetState {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	s, ok := e.states[asset]
	if !ok {
		s = &assetState{}
		e.states[asset] = s
	}
	return s
}

// WaitIdle blocks until no asset has a sell cycle in flight, or until
// timeout elapses, whichever comes first. It reports whether every
// asset was idle when it returned. Callers use this during shutdown so
// an in-flight sell is never aborted mid-cycle.
func (e *Engine) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if e.allIdle() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (e *Engine) allIdle() bool {
	e.statesMu.Lock()
	states := make([]*assetState, 0, len(e.states))
	for _, s := range e.states {
		states = append(states, s)
	}
	e.statesMu.Unlock()

	for _, s := range states {
		if !s.mu.TryLock() {
			return false
		}
		s.mu.Unlock()
	}
	return true
}

func (e *Engine) cancelResidualRetry(asset string) {
	e.residualMu.Lock()
	defer e.residualMu.Unlock()
	if cancel, ok := e.residual[asset]; ok {
		cancel()
		delete(e.residual, asset)
	}
}

func (e *Engine) armResidualRetry(asset string, cancel context.CancelFunc) {
	e.residualMu.Lock()
	defer e.residualMu.Unlock()
	e.residual[asset] = cancel
}

// isTargetFiat reports whether asset, in either native or standard
// form, is the configured target fiat currency.
func (e *Engine) isTargetFiat(nativeAsset string) bool {
	std := registry.Standardize(nativeAsset)
	if std == e.targetFiat {
		return true
	}
	return nativeAsset == registry.Nativize(e.targetFiat)
}
