package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/exchangeerr"
	"github.com/klingon-exchange/autosell/internal/money"
)

// dispatchSell is the single-flight entry point every classification
// path calls when it decides an asset might be sellable. If a cycle is
// already in flight for nativeAsset, this is a no-op: the arriving
// event has already updated reported balances, but the in-flight cycle
// keeps the volume it read when it started (gate 4 can only lower it to
// the live balance), and the asset is not re-examined when that cycle
// ends; the next event that dispatches it starts a new cycle.
func (e *Engine) dispatchSell(ctx context.Context, nativeAsset string) {
	state := e.stateFor(nativeAsset)
	if !state.mu.TryLock() {
		return
	}
	go func() {
		defer state.mu.Unlock()
		e.runSellCycle(ctx, nativeAsset, state)
	}()
}

// dispatchSellSync is dispatchSell's blocking counterpart, used by the
// cold pass so startup does not proceed into the streaming phase while
// initial sells are still being decided.
func (e *Engine) dispatchSellSync(ctx context.Context, nativeAsset string) {
	state := e.stateFor(nativeAsset)
	state.mu.Lock()
	defer state.mu.Unlock()
	e.runSellCycle(ctx, nativeAsset, state)
}

// runSellCycle checks the dispatch gates against the asset's current
// reported balance and, if they pass, submits and tracks a market sell
// through to a terminal or stable state. Callers must hold state.mu.
func (e *Engine) runSellCycle(ctx context.Context, nativeAsset string, state *assetState) {
	// dispatchID correlates every log line emitted across one gate-check
	// / submit / poll cycle. It is not sent to the exchange and is not an
	// idempotency key: nothing about a resubmitted sell is deduplicated
	// by it.
	dispatchID := uuid.NewString()
	requested := e.getReported(nativeAsset)
	gate := e.checkGates(ctx, nativeAsset, requested)
	if !gate.ok {
		e.log.Info("sell gated off", "dispatch_id", dispatchID, "asset", nativeAsset, "reason", gate.reason, "amount", requested)
		return
	}

	orderID, err := e.submitWithRetry(ctx, gate.pair.PairSymbol, gate.volume)
	if err != nil {
		var ambiguous *exchangeerr.AmbiguousSubmissionError
		if errors.As(err, &ambiguous) {
			state.ambiguous = &ambiguousSubmission{
				pairSymbol:   gate.pair.PairSymbol,
				volume:       gate.volume,
				balanceAtSub: requested,
				submittedAt:  time.Now(),
			}
			e.log.Warn("market sell submission ambiguous, awaiting reconciliation",
				"dispatch_id", dispatchID, "asset", nativeAsset, "pair", gate.pair.PairSymbol, "volume", gate.volume)
			return
		}

		var rejection *exchangeerr.BusinessRejection
		if errors.As(err, &rejection) {
			e.log.Info("sell rejected by exchange", "dispatch_id", dispatchID, "asset", nativeAsset, "reason", rejection.Reason, "error", err)
			return
		}

		e.log.Warn("sell submission failed after retries", "dispatch_id", dispatchID, "asset", nativeAsset, "error", err)
		return
	}

	e.setLastActed(nativeAsset, gate.volume)
	e.log.Info("market sell submitted", "dispatch_id", dispatchID, "asset", nativeAsset, "pair", gate.pair.PairSymbol, "volume", gate.volume, "order_id", orderID)

	e.pollAndFollowUp(ctx, dispatchID, nativeAsset, orderID, gate)
}

// submitWithRetry submits a market sell, making up to maxSubmitAttempts
// attempts with linear backoff `attempt * submitBackoffUnit` between
// them. An ambiguous-submission, business-rejection, or authentication
// error is never retried; any other failure (for example an
// invalid-nonce rejection or an undecodable response) is.
func (e *Engine) submitWithRetry(ctx context.Context, pairSymbol string, volume money.Amount) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxSubmitAttempts; attempt++ {
		orderID, err := e.client.SubmitMarketSell(ctx, pairSymbol, volume)
		if err == nil {
			return orderID, nil
		}

		var ambiguous *exchangeerr.AmbiguousSubmissionError
		if errors.As(err, &ambiguous) {
			return "", err
		}
		var rejection *exchangeerr.BusinessRejection
		if errors.As(err, &rejection) {
			return "", err
		}
		var authErr *exchangeerr.AuthError
		if errors.As(err, &authErr) {
			return "", err
		}

		lastErr = err
		if attempt == e.maxSubmitAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * e.submitBackoffUnit):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// pollAndFollowUp waits out the settle delay, queries the order once,
// and if it closed with a residual unfilled volume, schedules one
// follow-up dispatch for the remainder.
func (e *Engine) pollAndFollowUp(ctx context.Context, dispatchID, nativeAsset, orderID string, gate gateResult) {
	select {
	case <-time.After(e.settleDelay):
	case <-ctx.Done():
		return
	}

	order, err := e.client.QueryOrder(ctx, orderID)
	if err != nil {
		e.log.Warn("order poll failed", "dispatch_id", dispatchID, "asset", nativeAsset, "order_id", orderID, "error", err)
		return
	}
	if order.State != exchange.OrderClosed {
		return
	}

	filled := order.FilledVolume()
	if filled.GreaterThanOrEqual(gate.volume) {
		return
	}
	residual := gate.volume.Sub(filled)
	if residual.IsZero() {
		return
	}

	residualCtx, cancel := context.WithCancel(ctx)
	e.armResidualRetry(nativeAsset, cancel)

	go func() {
		select {
		case <-time.After(e.residualRetryDelay):
		case <-residualCtx.Done():
			return
		}
		e.dispatchSell(residualCtx, nativeAsset)
	}()
}
