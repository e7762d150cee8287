package timemachineimpl

import (
	"time"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/snapshot"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
)

// TravelToRange is the one sticky navigation operation: it marks the window
// as user-controlled and persists the window settings. Every other travel
// operation funnels through it except JumpToNow.
func (t *Impl) TravelToRange(r domain.TimeRange) []domain.MediaItem {
	t.viewMu.Lock()
	t.currentRange = r
	t.userControlled = true
	t.viewMu.Unlock()

	t.saveWindowSettings()

	media := t.MediaForRange(r, nil)
	t.notify(media, r)

	t.logger.Info("Time traveled",
		"start", time.UnixMilli(r.Start).Format(time.RFC3339),
		"end", time.UnixMilli(r.End).Format(time.RFC3339),
		"items", len(media),
		"window_minutes", int(r.Span().Minutes()),
	)
	return media
}

func (t *Impl) TravelToDate(tsMillis int64, spanMinutes int) []domain.MediaItem {
	if spanMinutes <= 0 {
		spanMinutes = int(t.timeSlice.Minutes())
	}
	half := int64(spanMinutes) * 60 * 1000 / 2

	// A custom span is an explicit window choice even before TravelToRange
	// marks the flag; both call sites track intent.
	if spanMinutes != int(t.timeSlice.Minutes()) {
		t.viewMu.Lock()
		t.userControlled = true
		t.viewMu.Unlock()
	}

	return t.TravelToRange(domain.TimeRange{Start: tsMillis - half, End: tsMillis + half})
}

func (t *Impl) TravelBy(minutes int) []domain.MediaItem {
	t.viewMu.Lock()
	r := t.currentRange
	t.viewMu.Unlock()

	return t.TravelToRange(r.Shift(time.Duration(minutes) * time.Minute))
}

// JumpToNow slides the window to end at the current wall clock. It keeps the
// user's window span when one was chosen, but is itself a transient action:
// it neither sets the user-controlled flag nor persists window settings.
func (t *Impl) JumpToNow() []domain.MediaItem {
	now := domain.NowMillis()

	t.viewMu.Lock()
	window := t.defaultWindow.Milliseconds()
	if t.userControlled {
		window = t.currentRange.End - t.currentRange.Start
	}
	r := domain.TimeRange{Start: now - window, End: now}
	t.currentRange = r
	t.viewMu.Unlock()

	media := t.MediaForRange(r, nil)
	t.notify(media, r)

	t.logger.Info("Jumped to now", "window_minutes", window/60000)
	return media
}

func (t *Impl) CurrentRange() domain.TimeRange {
	t.viewMu.Lock()
	defer t.viewMu.Unlock()
	return t.currentRange
}

func (t *Impl) SetActiveTypes(types []domain.MediaType) {
	if len(types) == 0 {
		return
	}
	filtered := make([]domain.MediaType, 0, len(types))
	for _, mt := range types {
		if _, ok := t.seen[mt]; ok {
			filtered = append(filtered, mt)
		}
	}
	if len(filtered) == 0 {
		return
	}

	t.viewMu.Lock()
	t.activeTypes = filtered
	t.viewMu.Unlock()

	t.logger.Info("Active media types changed", "types", filtered)
}

func (t *Impl) ActiveTypes() []domain.MediaType {
	t.viewMu.Lock()
	defer t.viewMu.Unlock()

	out := make([]domain.MediaType, len(t.activeTypes))
	copy(out, t.activeTypes)
	return out
}

func (t *Impl) Subscribe(cb timemachine.UpdateFunc) {
	t.cbMu.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.cbMu.Unlock()
}

func (t *Impl) notify(items []domain.MediaItem, r domain.TimeRange) {
	t.cbMu.Lock()
	cbs := make([]timemachine.UpdateFunc, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.cbMu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					t.logger.Error("Time machine subscriber panicked", "panic", rec)
				}
			}()
			cb(items, r)
		}()
	}
}

func (t *Impl) saveWindowSettings() {
	t.viewMu.Lock()
	w := &snapshot.WindowSettings{
		CurrentTimeRange:       t.currentRange,
		IsUserControlledWindow: t.userControlled,
		Timestamp:              domain.NowMillis(),
	}
	t.viewMu.Unlock()

	if err := t.snapshots.SaveWindow(w); err != nil {
		t.logger.Error("Failed to save window settings", "error", err)
	}
}
