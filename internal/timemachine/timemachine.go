package timemachine

import (
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
)

// UpdateFunc receives the media visible in the new window after a time-travel
// operation. Callbacks run with per-callback panic isolation.
type UpdateFunc func(items []domain.MediaItem, r domain.TimeRange)

// Client is the time-indexed media archive plus its navigable current view.
//
// The archive side (AddItem through TimeBuckets) owns five bounded,
// deduplicated, newest-first collections, one per stored media type. The
// navigation side (TravelToRange through SetActiveTypes) mutates only the
// current view window, never the archive.
type Client interface {
	// AddItem archives one media item. Returns false when the item's
	// (url, eventId) pair is already present; an item without a URL is
	// rejected with errors.ErrInvalidInput.
	AddItem(item domain.MediaItem) (bool, error)

	// MediaForRange returns items of the given types whose timestamp falls in
	// r, bounds inclusive, sorted descending by timestamp. A nil type set
	// means the active types.
	MediaForRange(r domain.TimeRange, types []domain.MediaType) []domain.MediaItem

	// MediaByType returns one type's collection, optionally range-filtered.
	// With a nil range the full collection is returned in insertion order.
	MediaByType(t domain.MediaType, r *domain.TimeRange) []domain.MediaItem

	// CurrentMedia returns the active types' media within the current window.
	CurrentMedia() []domain.MediaItem

	// FindByEventID scans collections in domain.StoredTypes order and returns
	// the first item originating from the event, or errors.ErrNotFound.
	FindByEventID(eventID string) (*domain.MediaItem, error)

	// MediaByAuthor returns all archived media whose originating post was
	// written by pubkey, newest first.
	MediaByAuthor(pubkey string) []domain.MediaItem

	Stats() map[domain.MediaType]int
	TotalCount() int

	// Dedupe rebuilds each collection keeping the first occurrence per dedup
	// key and rebuilds the seen-set. Idempotent.
	Dedupe()

	// TimeBuckets returns the scrubber histogram: bucket-aligned counts of
	// archived images from the oldest image through now, newest first. The
	// range always extends to the current wall clock even when the newest
	// stored item is older.
	TimeBuckets(bucketMinutes int) []domain.TimeBucket

	TravelToRange(r domain.TimeRange) []domain.MediaItem
	TravelToDate(tsMillis int64, spanMinutes int) []domain.MediaItem
	TravelBy(minutes int) []domain.MediaItem
	JumpToNow() []domain.MediaItem
	CurrentRange() domain.TimeRange
	SetActiveTypes(types []domain.MediaType)
	ActiveTypes() []domain.MediaType

	// Subscribe registers a callback invoked after every time-travel
	// operation with the media for the new window.
	Subscribe(cb UpdateFunc)

	// Flush writes any pending snapshot immediately.
	Flush()

	// Close stops the background flusher and writes a final snapshot.
	Close()
}
