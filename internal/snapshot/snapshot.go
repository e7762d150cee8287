package snapshot

import (
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
)

// Snapshot is the on-disk shape of the archive: per-type arrays capped by the
// writer, newest-first, plus the write time.
type Snapshot struct {
	Images    []domain.MediaItem `json:"images"`
	Videos    []domain.MediaItem `json:"videos"`
	Audio     []domain.MediaItem `json:"audio"`
	Documents []domain.MediaItem `json:"documents"`
	Links     []domain.MediaItem `json:"links"`
	Timestamp int64              `json:"timestamp"`
}

// WindowSettings is the persisted CurrentView: the active time window and
// whether the viewer chose it explicitly.
type WindowSettings struct {
	CurrentTimeRange       domain.TimeRange `json:"currentTimeRange"`
	IsUserControlledWindow bool             `json:"isUserControlledWindow"`
	Timestamp              int64            `json:"timestamp"`
}

// Store isolates the flat-file persistence so the archive logic never touches
// the filesystem directly. A missing file yields (nil, nil) from the loaders.
type Store interface {
	Load() (*Snapshot, error)
	Save(s *Snapshot) error
	LoadWindow() (*WindowSettings, error)
	SaveWindow(w *WindowSettings) error
}
