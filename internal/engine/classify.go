package engine

import (
	"context"
	"sync"

	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/feed"
	"github.com/klingon-exchange/autosell/internal/money"
)

// ColdPass fetches the account balance once and, for every non-zero
// asset, attempts a sell unconditionally (modulo the dispatch gates). It
// blocks until every cycle it started has reached a stable or terminal
// state, so the caller can safely start the streaming feed afterward
// without racing the cold pass.
func (e *Engine) ColdPass(ctx context.Context) error {
	balances, err := e.client.GetBalance(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for asset, amount := range balances {
		e.setReported(asset, amount)
		if amount.IsZero() {
			continue
		}
		wg.Add(1)
		go func(asset string) {
			defer wg.Done()
			e.dispatchSellSync(ctx, asset)
		}(asset)
	}
	wg.Wait()

	e.initialPassMu.Lock()
	e.initialPassComplete = true
	e.initialPassMu.Unlock()
	return nil
}

// HandleSnapshot processes a full balances snapshot delivered at the
// start of a feed connection cycle. A nonzero asset is treated as a
// deposit-equivalent only if its amount differs from the engine's
// last-acted value for that asset; otherwise it is ignored. A snapshot
// is also the reconciliation point for any ambiguous submission left
// pending from a previous cycle.
func (e *Engine) HandleSnapshot(ctx context.Context, snap feed.BalanceSnapshot) {
	for asset, ev := range snap.Balances {
		e.setReported(asset, ev.NewTotal)

		if e.reconcileAmbiguous(asset, ev.NewTotal) {
			continue
		}

		if ev.NewTotal.IsZero() {
			e.cancelResidualRetry(asset)
			continue
		}

		last, hasLast := e.getLastActed(asset)
		if hasLast && last.Equal(ev.NewTotal.Decimal) {
			continue
		}
		e.dispatchSell(ctx, asset)
	}
}

// HandleUpdate processes one incremental balance-change event according
// to its ledger type: only a positive deposit delta triggers a sell;
// trade echoes, withdrawals, transfers, and adjustments only refresh the
// reported balance.
func (e *Engine) HandleUpdate(ctx context.Context, ev exchange.BalanceEvent) {
	e.setReported(ev.Asset, ev.NewTotal)

	if ev.NewTotal.IsZero() {
		e.cancelResidualRetry(ev.Asset)
		return
	}

	switch ev.Type {
	case exchange.BalanceEventDeposit:
		if ev.AmountDelta.IsPositive() {
			e.dispatchSell(ctx, ev.Asset)
		}
	case exchange.BalanceEventTrade, exchange.BalanceEventWithdrawal, exchange.BalanceEventAdjustment, exchange.BalanceEventTransfer:
		// self-echo or non-deposit movement: reported already updated above, never submit.
	}
}

// reconcileAmbiguous checks a freshly reported total against any
// ambiguous submission recorded for asset. If the balance dropped by
// roughly the submitted volume, the submission is treated as having
// succeeded and cleared; otherwise it is cleared and left for ordinary
// reclassification on the next update. It reports whether an ambiguous
// submission was present (and thus already handled).
func (e *Engine) reconcileAmbiguous(asset string, newTotal money.Amount) bool {
	state := e.stateFor(asset)

	state.mu.Lock()
	pending := state.ambiguous
	state.ambiguous = nil
	state.mu.Unlock()

	if pending == nil {
		return false
	}

	expected := pending.balanceAtSub.Sub(pending.volume)
	tolerance := money.MustParse(ambiguousTolerance)
	diff := newTotal.Sub(expected).Abs()

	if diff.LessThan(tolerance) || diff.Equal(tolerance.Decimal) {
		e.setLastActed(asset, pending.volume)
		e.log.Info("reconciled ambiguous submission as successful", "asset", asset, "pair", pending.pairSymbol, "volume", pending.volume)
	} else {
		e.log.Info("reconciled ambiguous submission as not executed, will reclassify", "asset", asset, "pair", pending.pairSymbol)
	}
	return true
}
