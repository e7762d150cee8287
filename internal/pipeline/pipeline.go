package pipeline

import (
	"context"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
)

// State is the pipeline lifecycle. Failed is terminal: the retry budget is
// spent and only outside intervention restarts ingestion; the archive and
// query surface keep serving whatever was already collected.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// UpdateFunc receives one feed item per originating post that yielded at
// least one newly archived media item.
type UpdateFunc func(item domain.FeedItem)

// Client turns the live relay stream into archive writes.
type Client interface {
	// Initialize runs the bulk backfill and opens the live subscription.
	// Re-entrant: a second call while connecting or active is a logged no-op.
	// Blocks through the retry budget; returns the final error when the
	// pipeline ends up Failed.
	Initialize(ctx context.Context) error

	// FeedItems converts the newest buffered events into feed items,
	// archiving any media they carry along the way.
	FeedItems(ctx context.Context, limit int) []domain.FeedItem

	// EventByID looks up a raw event in the short-term buffer.
	EventByID(id string) (*relay.Event, error)

	// AuthorInfo resolves profile metadata, best effort: a miss or timeout
	// returns nil rather than an error.
	AuthorInfo(ctx context.Context, pubkey string) *domain.AuthorInfo

	// SubscribeUpdates registers a feed observer. Observer panics are
	// isolated per callback.
	SubscribeUpdates(cb UpdateFunc)

	State() State
	Close()
}
