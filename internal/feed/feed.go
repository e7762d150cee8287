package feed

import (
	"context"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
)

// Travel action verbs accepted by the time-travel dispatch.
const (
	ActionBackwards = "backwards"
	ActionForwards  = "forwards"
	ActionNow       = "now"
	ActionGoto      = "goto"
	ActionSetWindow = "set-window"
)

// TravelCommand is one navigation request. Fields beyond Action are read
// only by the action that needs them.
type TravelCommand struct {
	Action          string `json:"action"`
	Minutes         int    `json:"minutes,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	TimespanMinutes int    `json:"timespanMinutes,omitempty"`
	Start           int64  `json:"start,omitempty"`
	End             int64  `json:"end,omitempty"`
}

// TravelResult reports the window that navigation landed on and how much
// media is visible in it.
type TravelResult struct {
	Count int              `json:"count"`
	Range domain.TimeRange `json:"timeRange"`
}

// Stats is the query surface's health and volume summary.
type Stats struct {
	PipelineState pipeline.State           `json:"pipelineState"`
	TotalItems    int                      `json:"totalItems"`
	ByType        map[domain.MediaType]int `json:"byType"`
	CurrentRange  domain.TimeRange         `json:"currentRange"`
	ActiveTypes   []domain.MediaType       `json:"activeTypes"`
}

// Client is the single surface the HTTP layer talks to.
type Client interface {
	FeedItems(ctx context.Context, limit int) []domain.FeedItem

	// CachedMedia returns archived images, newest first, capped at limit
	// when limit > 0.
	CachedMedia(limit int) []domain.MediaItem

	MediaForRange(r domain.TimeRange) []domain.MediaItem

	// PostByEventID reconstructs a post: the live event buffer first, then
	// the archive. errors.ErrNotFound when neither side knows the event.
	PostByEventID(ctx context.Context, eventID string) (*domain.FeedItem, error)

	MediaByAuthor(pubkey string) []domain.MediaItem

	Stats() Stats

	TimeBuckets(bucketMinutes int) []domain.TimeBucket

	// TimeTravel dispatches one navigation command.
	// errors.ErrBadRequest on an unknown action or missing parameters.
	TimeTravel(cmd TravelCommand) (TravelResult, error)
}
