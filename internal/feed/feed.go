// Package feed maintains the single persistent authenticated WebSocket
// connection to the exchange's private balances channel: obtaining a
// feed token, subscribing, dispatching typed frames to the engine, and
// reconnecting with backoff when the connection drops.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/money"
	"github.com/klingon-exchange/autosell/pkg/logging"
)

const (
	subscribeChannel = "balances"

	heartbeatInterval = 10 * time.Second
	staleAfter        = 30 * time.Second

	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second
	maxAttempts = 10

	subscriptionRetryDelay = 5 * time.Second

	readLimitBytes  = 1 << 20
	writeDeadline   = 10 * time.Second
	feedURLTemplate = "wss://ws-auth.kraken.com/v2"

	sandboxFeedURLTemplate = "wss://ws-auth.demo-futures.kraken.com/v2"
)

// permanentSubscriptionErrors are subscription error texts the exchange
// will keep returning on every retry; a feed that sees one of these
// gives up on that subscription attempt rather than looping forever.
var permanentSubscriptionErrors = []string{
	"invalid channel",
	"invalid token",
	"event not found",
}

// BalanceSnapshot is the full set of balances as of the most recent
// snapshot frame.
type BalanceSnapshot struct {
	Balances map[string]exchange.BalanceEvent
}

// OnSnapshot is invoked once per snapshot frame the feed receives.
type OnSnapshot func(BalanceSnapshot)

// OnUpdate is invoked once per incremental update frame.
type OnUpdate func(exchange.BalanceEvent)

// Feed owns the WebSocket connection and its reconnect loop. One Feed
// serves the whole process; construct it once at startup and call Run
// in its own goroutine.
type Feed struct {
	client *exchange.Client
	log    *logging.Logger
	wsURL  string

	onSnapshot OnSnapshot
	onUpdate   OnUpdate

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu        sync.Mutex
	degraded  bool
	lastFrame time.Time
}

// New constructs a Feed against client, delivering snapshot and update
// frames to the given callbacks. Either callback may be nil.
func New(client *exchange.Client, onSnapshot OnSnapshot, onUpdate OnUpdate) *Feed {
	return &Feed{
		client:      client,
		log:         logging.GetDefault().Component("feed"),
		wsURL:       feedURLTemplate,
		onSnapshot:  onSnapshot,
		onUpdate:    onUpdate,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// UseSandbox points the feed at the alternate streaming host used when
// the sandbox configuration flag is set. Call before Run.
func (f *Feed) UseSandbox() {
	f.wsURL = sandboxFeedURLTemplate
}

// Degraded reports whether the feed has exhausted its reconnect budget
// and given up. The engine should continue operating on stale balances
// but the status surface should report this.
func (f *Feed) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

// LastFrameAt returns the time of the most recently received frame
// (including heartbeats), or the zero time if none has arrived yet.
func (f *Feed) LastFrameAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFrame
}

func (f *Feed) touchLastFrame(t time.Time) {
	f.mu.Lock()
	f.lastFrame = t
	f.mu.Unlock()
}

// Run dials, subscribes, and reads frames until ctx is cancelled,
// reconnecting with exponential backoff on every disconnect. It returns
// only when ctx is done or the reconnect budget is exhausted.
func (f *Feed) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		subscribed, err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			continue
		}
		if subscribed {
			attempt = 0
		}

		attempt++
		f.log.Warn("feed connection lost", "attempt", attempt, "error", err)
		if attempt >= f.maxAttempts {
			f.mu.Lock()
			f.degraded = true
			f.mu.Unlock()
			f.log.Error("feed exhausted reconnect attempts, giving up", "attempts", attempt)
			return
		}

		wait := f.backoffFor(attempt)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) backoffFor(attempt int) time.Duration {
	d := f.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= f.maxBackoff {
			return f.maxBackoff
		}
	}
	return d
}

// runOnce obtains a fresh token, dials, subscribes, and reads frames
// until the connection fails or ctx is cancelled. A nil return means
// ctx was cancelled; any other return is a connection failure that
// should trigger a reconnect. The bool reports whether the subscription
// succeeded before the connection ended.
func (f *Feed) runOnce(ctx context.Context) (bool, error) {
	token, _, err := f.client.ObtainFeedToken(ctx)
	if err != nil {
		return false, fmt.Errorf("feed: obtaining token: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(readLimitBytes)

	if err := f.subscribe(conn, token); err != nil {
		return false, err
	}

	return true, f.readLoop(ctx, conn)
}

type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

func (f *Feed) subscribe(conn *websocket.Conn, token string) error {
	req := subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{Channel: subscribeChannel, Token: token},
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("feed: sending subscribe request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	var ack subscriptionAck
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("feed: reading subscribe ack: %w", err)
	}
	if ack.Success {
		return nil
	}

	for _, perm := range permanentSubscriptionErrors {
		if ack.Error == perm {
			return fmt.Errorf("feed: permanent subscription error: %s", ack.Error)
		}
	}

	f.log.Warn("subscription rejected, retrying once", "error", ack.Error)
	time.Sleep(subscriptionRetryDelay)

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("feed: resending subscribe request: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("feed: reading subscribe ack retry: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("feed: subscription rejected after retry: %s", ack.Error)
	}
	return nil
}

type subscriptionAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// frameEnvelope is the outer shape of every channel frame: a channel
// name and frame type, with the payload left raw for type-specific
// decoding.
type frameEnvelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	lastFrame := time.Now()
	watchdog := time.NewTicker(heartbeatInterval)
	defer watchdog.Stop()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan frameEnvelope)
	readErrs := make(chan error, 1)
	go func() {
		for {
			var env frameEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				readErrs <- err
				return
			}
			select {
			case frames <- env:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrs:
			return fmt.Errorf("feed: read: %w", err)
		case env := <-frames:
			lastFrame = time.Now()
			f.touchLastFrame(lastFrame)
			if env.Channel != subscribeChannel {
				continue
			}
			if err := f.dispatch(env); err != nil {
				f.log.Warn("failed to decode balances frame", "error", err)
			}
		case <-watchdog.C:
			if time.Since(lastFrame) > staleAfter {
				return errors.New("feed: no frames received within staleness window")
			}
		}
	}
}

func (f *Feed) dispatch(env frameEnvelope) error {
	switch env.Type {
	case "snapshot":
		var raw []balanceWireRecord
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return err
		}
		if f.onSnapshot == nil {
			return nil
		}
		snap := BalanceSnapshot{Balances: make(map[string]exchange.BalanceEvent, len(raw))}
		for _, r := range raw {
			snap.Balances[r.Asset] = r.toEvent(exchange.BalanceEventAdjustment)
		}
		f.onSnapshot(snap)
	case "update":
		var raw []balanceWireRecord
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return err
		}
		if f.onUpdate == nil {
			return nil
		}
		for _, r := range raw {
			f.onUpdate(r.toEvent(classifyWireLedgerType(r.LedgerType)))
		}
	case "heartbeat":
		// no payload to act on; receiving it already reset the staleness clock
	default:
		f.log.Debug("ignoring unrecognized frame type", "type", env.Type)
	}
	return nil
}

// balanceWireRecord mirrors a single balance entry as delivered on the
// wire, in either a snapshot or an update frame.
type balanceWireRecord struct {
	Asset      string  `json:"asset"`
	Balance    string  `json:"balance"`
	LedgerType string  `json:"ledger_type"`
	AmountStr  string  `json:"amount"`
	LedgerID   string  `json:"ledger_id"`
	RefID      string  `json:"ref_id"`
	Timestamp  float64 `json:"timestamp"`
}

func (r balanceWireRecord) toEvent(t exchange.BalanceEventType) exchange.BalanceEvent {
	total := money.Zero
	if r.Balance != "" {
		if m, err := money.Parse(r.Balance); err == nil {
			total = m
		}
	}
	delta := money.Zero
	if r.AmountStr != "" {
		if m, err := money.Parse(r.AmountStr); err == nil {
			delta = m
		}
	}
	return exchange.BalanceEvent{
		Asset:       r.Asset,
		Type:        t,
		AmountDelta: delta,
		NewTotal:    total,
		LedgerID:    r.LedgerID,
		RefID:       r.RefID,
		Timestamp:   int64(r.Timestamp),
	}
}

func classifyWireLedgerType(ledgerType string) exchange.BalanceEventType {
	switch ledgerType {
	case "deposit":
		return exchange.BalanceEventDeposit
	case "withdrawal":
		return exchange.BalanceEventWithdrawal
	case "trade":
		return exchange.BalanceEventTrade
	case "transfer":
		return exchange.BalanceEventTransfer
	default:
		return exchange.BalanceEventAdjustment
	}
}
