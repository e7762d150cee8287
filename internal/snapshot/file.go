package snapshot

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

// FileStore persists snapshots as pretty-printed JSON next to the process,
// matching the legacy file layout: <key>.json for media, <key>-window.json
// for window settings.
type FileStore struct {
	mediaPath  string
	windowPath string
	logger     logger.Logger
}

func NewFileStore(storageKey string, log logger.Logger) *FileStore {
	return &FileStore{
		mediaPath:  storageKey + ".json",
		windowPath: storageKey + "-window.json",
		logger:     log.WithComponent("SnapshotStore"),
	}
}

var _ Store = (*FileStore)(nil)

func (f *FileStore) Load() (*Snapshot, error) {
	raw, err := os.ReadFile(f.mediaPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", f.mediaPath, err)
	}

	// The legacy writer stored image entries as bare URL strings. Decode into
	// a transitional shape first and upgrade those in place.
	var legacy struct {
		Images    []json.RawMessage  `json:"images"`
		Videos    []domain.MediaItem `json:"videos"`
		Audio     []domain.MediaItem `json:"audio"`
		Documents []domain.MediaItem `json:"documents"`
		Links     []domain.MediaItem `json:"links"`
		Timestamp int64              `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.mediaPath, err)
	}

	snap := &Snapshot{
		Videos:    legacy.Videos,
		Audio:     legacy.Audio,
		Documents: legacy.Documents,
		Links:     legacy.Links,
		Timestamp: legacy.Timestamp,
	}
	for _, rawImg := range legacy.Images {
		item, err := decodeImageEntry(rawImg)
		if err != nil {
			f.logger.Warn("Skipping unreadable image entry in snapshot", "error", err)
			continue
		}
		snap.Images = append(snap.Images, item)
	}
	return snap, nil
}

func decodeImageEntry(raw json.RawMessage) (domain.MediaItem, error) {
	var url string
	if err := json.Unmarshal(raw, &url); err == nil {
		// Bare URL from the legacy format: synthesize the fields the archive
		// needs, aging the item randomly up to a day like the old loader did.
		age := time.Duration(rand.Int63n(int64(24 * time.Hour)))
		return domain.MediaItem{
			URL:       url,
			Type:      domain.TypeImage,
			Category:  "art",
			Timestamp: time.Now().Add(-age).UnixMilli(),
		}, nil
	}

	var item domain.MediaItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.MediaItem{}, err
	}
	if item.Type == "" {
		item.Type = domain.TypeImage
	}
	return item, nil
}

func (f *FileStore) Save(s *Snapshot) error {
	return f.writeAtomic(f.mediaPath, s)
}

func (f *FileStore) LoadWindow() (*WindowSettings, error) {
	raw, err := os.ReadFile(f.windowPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read window settings %s: %w", f.windowPath, err)
	}
	var w WindowSettings
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode window settings %s: %w", f.windowPath, err)
	}
	return &w, nil
}

func (f *FileStore) SaveWindow(w *WindowSettings) error {
	return f.writeAtomic(f.windowPath, w)
}

// writeAtomic writes to a temp file in the target directory and renames it
// over the destination, so a failed write never corrupts the previous file.
func (f *FileStore) writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}
