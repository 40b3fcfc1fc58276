// Package status assembles the read-only operational snapshot exposed
// over HTTP: whether the agent has completed its startup cold pass,
// whether the balance feed is connected, and the balances the engine
// currently has on record.
package status

import (
	"time"

	"github.com/klingon-exchange/autosell/internal/engine"
	"github.com/klingon-exchange/autosell/internal/feed"
	"github.com/klingon-exchange/autosell/internal/money"
)

// Snapshot is the point-in-time status of the running agent.
type Snapshot struct {
	Running             bool                    `json:"running"`
	InitialPassComplete bool                    `json:"initial_pass_complete"`
	FeedConnected       bool                    `json:"feed_connected"`
	FeedLastHeartbeat   *time.Time              `json:"feed_last_heartbeat,omitempty"`
	Balances            map[string]money.Amount `json:"balances"`
}

// Reporter pulls a Snapshot from the engine and feed each time Status is
// called. It holds no state of its own.
type Reporter struct {
	engine    *engine.Engine
	feed      *feed.Feed
	startedAt time.Time
}

// New constructs a Reporter against the running engine and feed.
func New(e *engine.Engine, f *feed.Feed) *Reporter {
	return &Reporter{engine: e, feed: f, startedAt: time.Now()}
}

// Status returns the current snapshot.
func (r *Reporter) Status() Snapshot {
	snap := Snapshot{
		Running:             true,
		InitialPassComplete: r.engine.InitialPassComplete(),
		FeedConnected:       r.feed != nil && !r.feed.Degraded(),
		Balances:            r.engine.Balances(),
	}
	if r.feed != nil {
		if last := r.feed.LastFrameAt(); !last.IsZero() {
			snap.FeedLastHeartbeat = &last
		}
	}
	return snap
}

// Uptime returns how long the reporter (and therefore the agent) has
// been running.
func (r *Reporter) Uptime() time.Duration {
	return time.Since(r.startedAt)
}
