// Package exchange implements the authenticated REST client for the
// single configured exchange account: pair catalog retrieval, balance
// queries, market-sell submission, and order and trade lookup, all
// behind a shared rate limiter and retry policy.
package exchange

import "github.com/klingon-exchange/autosell/internal/money"

// Pair is the (base, quote, pair_symbol, minimum_order_size) quadruple
// for one tradable market. Base and Quote are native exchange asset
// codes; PairSymbol is the opaque string used in order-placement
// requests.
type Pair struct {
	Base             string
	Quote            string
	PairSymbol       string
	MinimumOrderSize money.Amount
}

// BalanceEventType tags a balance-change event delivered by the feed.
type BalanceEventType string

const (
	BalanceEventDeposit    BalanceEventType = "deposit"
	BalanceEventWithdrawal BalanceEventType = "withdrawal"
	BalanceEventTrade      BalanceEventType = "trade"
	BalanceEventAdjustment BalanceEventType = "adjustment"
	BalanceEventTransfer   BalanceEventType = "transfer"
)

// BalanceEvent is a single tagged balance-change record.
type BalanceEvent struct {
	Asset       string
	Type        BalanceEventType
	AmountDelta money.Amount
	NewTotal    money.Amount
	LedgerID    string
	RefID       string
	Timestamp   int64
}

// OrderState is the lifecycle state of a submitted order.
type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderOpen     OrderState = "open"
	OrderClosed   OrderState = "closed"
	OrderCanceled OrderState = "canceled"
	OrderFailed   OrderState = "failed"
)

// Order is the order record returned by order lookup calls.
// FinalizedAt is the zero time.Time value (represented here as 0) until
// the order reaches a terminal state.
type Order struct {
	OrderID         string
	Asset           string
	PairSymbol      string
	RequestedVolume money.Amount
	State           OrderState
	Fills           []Trade
	SubmittedAt     int64
	FinalizedAt     int64 // unix seconds, 0 if not yet finalized
}

// FilledVolume sums the volume across all recorded fills.
func (o *Order) FilledVolume() money.Amount {
	total := money.Zero
	for _, t := range o.Fills {
		total = total.Add(t.Volume)
	}
	return total
}

// Trade is the immutable trade record produced by a filled order.
type Trade struct {
	TradeID    string
	OrderID    string
	PairSymbol string
	Side       string
	Price      money.Amount
	Volume     money.Amount
	Cost       money.Amount
	Fee        money.Amount
	Timestamp  int64
}
