package domain

// MediaType is the closed set of media kinds the archive distinguishes.
// TypeText exists only as a classification placeholder; it is never stored.
type MediaType string

const (
	TypeImage    MediaType = "image"
	TypeVideo    MediaType = "video"
	TypeAudio    MediaType = "audio"
	TypeDocument MediaType = "document"
	TypeLink     MediaType = "link"
	TypeText     MediaType = "text"
)

// StoredTypes is the fixed scan order for cross-type lookups. FindByEventID
// resolves cross-type event-id collisions by first match in this order.
var StoredTypes = []MediaType{TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeLink}

// MediaItem is one discovered piece of media. URL and Timestamp are set once
// at ingestion and never mutated. JSON tags match the on-disk snapshot format.
type MediaItem struct {
	URL       string     `json:"url"`
	Timestamp int64      `json:"timestamp"` // ms since epoch, event creation time
	Type      MediaType  `json:"type"`
	Subtype   string     `json:"subtype,omitempty"`
	Title     string     `json:"title,omitempty"`
	Thumbnail string     `json:"thumbnail,omitempty"`
	Category  string     `json:"category,omitempty"`
	EventID   string     `json:"eventId,omitempty"`
	Event     *EventData `json:"eventData,omitempty"`
}

// DedupKey is the unit of uniqueness within a type's collection: the same URL
// may legitimately recur under a different post.
func (m MediaItem) DedupKey() string {
	eventID := m.EventID
	if eventID == "" {
		eventID = "no-event"
	}
	return m.URL + ":" + eventID
}

// EventData is the minimal immutable snapshot of the originating post,
// captured at ingestion so the archive stays self-contained after the event
// scrolls out of the pipeline's short-term buffer.
type EventData struct {
	ID        string `json:"id"`
	Author    string `json:"pubkey"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"` // seconds since epoch, upstream convention
}

// AuthorInfo is optional display metadata resolved from a profile event.
type AuthorInfo struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// ClassifiedContent is the result of media extraction over one post.
type ClassifiedContent struct {
	Images      []MediaItem `json:"images"`
	Videos      []MediaItem `json:"videos"`
	Audio       []MediaItem `json:"audio"`
	Documents   []MediaItem `json:"documents"`
	Links       []MediaItem `json:"links"`
	TextContent string      `json:"textContent"`
	TotalCount  int         `json:"totalCount"`
}

// All returns every extracted item across the five stored types, in scan order.
func (c ClassifiedContent) All() []MediaItem {
	out := make([]MediaItem, 0, c.TotalCount)
	out = append(out, c.Images...)
	out = append(out, c.Videos...)
	out = append(out, c.Audio...)
	out = append(out, c.Documents...)
	out = append(out, c.Links...)
	return out
}

// FeedItem is the shape pushed to feed subscribers and returned by the bulk
// feed query: one post plus its classified media.
type FeedItem struct {
	ID         string            `json:"id"`
	Author     string            `json:"pubkey"`
	Content    string            `json:"content"`
	CreatedAt  int64             `json:"created_at"`
	Media      ClassifiedContent `json:"media"`
	AuthorInfo *AuthorInfo       `json:"author,omitempty"`
}
