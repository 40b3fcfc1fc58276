package engine

import (
	"context"

	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/exchangeerr"
	"github.com/klingon-exchange/autosell/internal/money"
	"github.com/klingon-exchange/autosell/internal/registry"
)

// gateResult is the outcome of checking an asset against the dispatch
// gates: which pair to sell into and the verified volume to request, or
// the reason dispatch was skipped.
type gateResult struct {
	pair   exchange.Pair
	volume money.Amount
	reason exchangeerr.Reason
	ok     bool
}

// checkGates runs the four ordered gates against nativeAsset with
// requested as the candidate volume (the engine's current reported
// balance at the moment dispatch was considered). It re-fetches the
// live balance for gate 4, so a result always reflects account state as
// of the call, not whatever triggered the dispatch.
func (e *Engine) checkGates(ctx context.Context, nativeAsset string, requested money.Amount) gateResult {
	if e.isTargetFiat(nativeAsset) {
		return gateResult{reason: exchangeerr.ReasonTargetCurrency}
	}

	standardAsset := registry.Standardize(nativeAsset)
	pair, ok := e.registry.PairFor(standardAsset, e.targetFiat)
	if !ok {
		return gateResult{reason: exchangeerr.ReasonNoMarket}
	}

	minimum := e.registry.MinimumOrderSize(standardAsset, e.targetFiat)
	if requested.LessThan(minimum) {
		return gateResult{reason: exchangeerr.ReasonBelowMinimum}
	}

	live, err := e.client.GetBalance(ctx)
	if err != nil {
		e.log.Warn("gate 4 live balance check failed", "asset", nativeAsset, "error", err)
		return gateResult{reason: exchangeerr.ReasonInsufficientLive}
	}
	actual := live[nativeAsset]
	if actual.LessThan(minimum) {
		return gateResult{reason: exchangeerr.ReasonInsufficientLive}
	}

	volume := requested.Min(actual)
	return gateResult{pair: pair, volume: volume, ok: true}
}
