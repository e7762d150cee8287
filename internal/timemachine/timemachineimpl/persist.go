package timemachineimpl

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/snapshot"
)

// snapshotCapPerType bounds the on-disk arrays; the in-memory collections can
// hold far more but the flat file stays small enough to rewrite frequently.
const snapshotCapPerType = 1000

// restore loads the previous snapshot and window settings. Any failure leaves
// an empty archive and the default window; startup never fails on bad disk
// state.
func (t *Impl) restore() {
	snap, err := t.snapshots.Load()
	if err != nil {
		t.logger.Error("Failed to load media snapshot, starting empty", "error", err)
	} else if snap != nil {
		t.mu.Lock()
		t.collections[domain.TypeImage] = capItems(snap.Images, t.maxPerType)
		t.collections[domain.TypeVideo] = capItems(snap.Videos, t.maxPerType)
		t.collections[domain.TypeAudio] = capItems(snap.Audio, t.maxPerType)
		t.collections[domain.TypeDocument] = capItems(snap.Documents, t.maxPerType)
		t.collections[domain.TypeLink] = capItems(snap.Links, t.maxPerType)
		for _, mt := range domain.StoredTypes {
			keys := make(map[string]struct{}, len(t.collections[mt]))
			for _, item := range t.collections[mt] {
				keys[item.DedupKey()] = struct{}{}
			}
			t.seen[mt] = keys
		}
		t.mu.Unlock()
		t.logger.Info("Restored media snapshot",
			"images", len(snap.Images), "videos", len(snap.Videos), "audio", len(snap.Audio),
			"documents", len(snap.Documents), "links", len(snap.Links))
	}

	window, err := t.snapshots.LoadWindow()
	if err != nil {
		t.logger.Warn("Failed to load window settings, using default window", "error", err)
		return
	}
	if window != nil {
		t.viewMu.Lock()
		t.currentRange = window.CurrentTimeRange
		t.userControlled = window.IsUserControlledWindow
		t.viewMu.Unlock()
		t.logger.Info("Restored window settings", "user_controlled", window.IsUserControlledWindow)
	}
}

func capItems(items []domain.MediaItem, max int) []domain.MediaItem {
	if len(items) > max {
		return items[:max]
	}
	return items
}

// startFlusher debounces snapshot writes: archive mutations only mark the
// state dirty, and this job persists it off the ingestion path.
func (t *Impl) startFlusher(interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		t.logger.Error("Failed to create snapshot flush scheduler, snapshots disabled", "error", err)
		return
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(t.Flush),
	)
	if err != nil {
		t.logger.Error("Failed to schedule snapshot flushing", "error", err)
		return
	}

	scheduler.Start()
	t.scheduler = scheduler
}

// Flush writes the archive snapshot when there are unsaved mutations. Write
// failures are logged and swallowed; the in-memory archive stays
// authoritative for the process lifetime.
func (t *Impl) Flush() {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	snap := &snapshot.Snapshot{
		Images:    capItems(t.collections[domain.TypeImage], snapshotCapPerType),
		Videos:    capItems(t.collections[domain.TypeVideo], snapshotCapPerType),
		Audio:     capItems(t.collections[domain.TypeAudio], snapshotCapPerType),
		Documents: capItems(t.collections[domain.TypeDocument], snapshotCapPerType),
		Links:     capItems(t.collections[domain.TypeLink], snapshotCapPerType),
		Timestamp: domain.NowMillis(),
	}
	t.mu.Unlock()

	if err := t.snapshots.Save(snap); err != nil {
		t.logger.Error("Failed to save media snapshot", "error", err)
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}

func (t *Impl) Close() {
	if t.scheduler != nil {
		if err := t.scheduler.Shutdown(); err != nil {
			t.logger.Error("Failed to shut down snapshot flush scheduler", "error", err)
		}
	}
	t.Flush()
}
