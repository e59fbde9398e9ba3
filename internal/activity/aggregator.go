// Package activity collects evidence that a human is actively using the
// product: server-observed heartbeats aggregated over a trailing window, and
// per-session inactivity tracking used to warn idle users and to decide when
// a resume check is worth running on the next interaction.
//
// Nothing in this package mutates the remote capacity; it only supplies
// signals to the orchestrator.
package activity

import (
	"context"
	"time"
)

// HeartbeatStore is the persistence surface the aggregator needs.
// Implemented by db.HeartbeatRepo.
type HeartbeatStore interface {
	Record(ctx context.Context, userID string, at time.Time) error
	CountActiveSince(ctx context.Context, cutoff time.Time) (int, error)
}

// Aggregator answers the "how many distinct users are active right now"
// question over a trailing window. The count is recomputed per decision
// cycle and never cached.
type Aggregator struct {
	store  HeartbeatStore
	window time.Duration
	nowFn  func() time.Time
}

// NewAggregator creates an Aggregator with the given trailing window.
func NewAggregator(store HeartbeatStore, window time.Duration) *Aggregator {
	return &Aggregator{
		store:  store,
		window: window,
		nowFn:  time.Now,
	}
}

// WithNowFunc overrides the clock. For tests.
func (a *Aggregator) WithNowFunc(fn func() time.Time) *Aggregator {
	a.nowFn = fn
	return a
}

// RecordHeartbeat stores an activity heartbeat for the user at the current
// instant.
func (a *Aggregator) RecordHeartbeat(ctx context.Context, userID string) error {
	return a.store.Record(ctx, userID, a.nowFn().UTC())
}

// ActiveUserCount returns the number of distinct users with a heartbeat
// inside the trailing window.
func (a *Aggregator) ActiveUserCount(ctx context.Context) (int, error) {
	cutoff := a.nowFn().UTC().Add(-a.window)
	return a.store.CountActiveSince(ctx, cutoff)
}
