package relay

import (
	"context"
)

// Kinds of events this system consumes.
const (
	KindProfile  = 0
	KindTextNote = 1
)

// Event is a signed note as delivered by a relay.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"` // seconds since epoch
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter selects events from a relay's stored and live sets.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Since   *int64   `json:"since,omitempty"` // seconds since epoch
	Limit   int      `json:"limit,omitempty"`
}

// SubscriptionHandlers receives the live stream's callbacks. OnEndOfStored
// fires once the relay set has drained stored events; OnClose fires once,
// after every relay leg of the subscription has ended.
type SubscriptionHandlers struct {
	OnEvent       func(ev Event)
	OnEndOfStored func()
	OnClose       func(reason string)
}

// Subscription is a live stream handle. Close is idempotent and never
// panics, so the health monitor's forced-restart path and process shutdown
// can both call it without coordination.
type Subscription interface {
	Close()
}

// Client talks to a set of relays.
type Client interface {
	// QuerySync collects stored events matching the filter from all relays
	// until each reports end-of-stored-events or ctx expires, deduplicated by
	// event id and sorted newest first.
	QuerySync(ctx context.Context, f Filter) ([]Event, error)

	// Subscribe opens a live stream over all reachable relays.
	Subscribe(ctx context.Context, f Filter, h SubscriptionHandlers) (Subscription, error)

	// Close tears down every connection and active subscription.
	Close()
}
