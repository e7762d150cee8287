package timemachineimpl

import (
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/snapshot"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
	"github.com/orgball2608/nostr-media-observatory/pkg/config"
	"github.com/orgball2608/nostr-media-observatory/pkg/errors"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	Config    *config.Config
	Logger    logger.Logger
	Snapshots snapshot.Store
}

type Impl struct {
	logger    logger.Logger
	snapshots snapshot.Store

	maxPerType    int
	defaultWindow time.Duration
	timeSlice     time.Duration

	// archive state, guarded by mu
	mu          sync.RWMutex
	collections map[domain.MediaType][]domain.MediaItem
	seen        map[domain.MediaType]map[string]struct{}
	dirty       bool

	// current view state, guarded by viewMu; never held together with mu
	viewMu         sync.Mutex
	currentRange   domain.TimeRange
	userControlled bool
	activeTypes    []domain.MediaType

	cbMu      sync.Mutex
	callbacks []timemachine.UpdateFunc

	scheduler gocron.Scheduler
}

func New(opts Opts) *Impl {
	t := &Impl{
		logger:        opts.Logger.WithComponent("TimeMachine"),
		snapshots:     opts.Snapshots,
		maxPerType:    opts.Config.TimeMachine.MaxStoredPerType,
		defaultWindow: time.Duration(opts.Config.TimeMachine.DefaultWindowMinutes) * time.Minute,
		timeSlice:     time.Duration(opts.Config.TimeMachine.TimeSliceMinutes) * time.Minute,
		collections:   make(map[domain.MediaType][]domain.MediaItem, len(domain.StoredTypes)),
		seen:          make(map[domain.MediaType]map[string]struct{}, len(domain.StoredTypes)),
		activeTypes:   []domain.MediaType{domain.TypeImage},
	}
	for _, mt := range domain.StoredTypes {
		t.collections[mt] = nil
		t.seen[mt] = make(map[string]struct{})
	}

	now := domain.NowMillis()
	t.currentRange = domain.TimeRange{Start: now - t.defaultWindow.Milliseconds(), End: now}

	t.restore()
	t.startFlusher(time.Duration(opts.Config.TimeMachine.FlushIntervalSec) * time.Second)

	return t
}

var _ timemachine.Client = (*Impl)(nil)

func (t *Impl) AddItem(item domain.MediaItem) (bool, error) {
	if item.URL == "" {
		return false, errors.ErrInvalidInput
	}
	if item.Timestamp == 0 {
		item.Timestamp = domain.NowMillis()
	}
	mt := item.Type
	key := item.DedupKey()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Dedupe swaps the seen-sets under mu, so the type lookup has to happen
	// under it too.
	if _, ok := t.seen[mt]; !ok {
		// unknown or text type is never archived
		return false, errors.ErrInvalidInput
	}
	if _, dup := t.seen[mt][key]; dup {
		t.logger.Debug("Skipping duplicate media item", "type", mt, "key", key)
		return false, nil
	}
	t.seen[mt][key] = struct{}{}

	coll := t.collections[mt]
	coll = append([]domain.MediaItem{item}, coll...)

	if len(coll) > t.maxPerType {
		evicted := coll[t.maxPerType:]
		coll = coll[:t.maxPerType]
		// Pruning evicted keys lets the same item be re-archived if it is
		// observed again later; the dedup horizon is bounded on purpose.
		for _, old := range evicted {
			delete(t.seen[mt], old.DedupKey())
		}
		t.logger.Debug("Evicted media items past collection bound", "type", mt, "count", len(evicted))
	}
	t.collections[mt] = coll
	t.dirty = true

	return true, nil
}

func (t *Impl) MediaForRange(r domain.TimeRange, types []domain.MediaType) []domain.MediaItem {
	if types == nil {
		types = t.ActiveTypes()
	}

	t.mu.RLock()
	var out []domain.MediaItem
	for _, mt := range types {
		for _, item := range t.collections[mt] {
			if r.Contains(item.Timestamp) {
				out = append(out, item)
			}
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

func (t *Impl) MediaByType(mt domain.MediaType, r *domain.TimeRange) []domain.MediaItem {
	t.mu.RLock()
	coll := t.collections[mt]
	if r == nil {
		out := make([]domain.MediaItem, len(coll))
		copy(out, coll)
		t.mu.RUnlock()
		return out
	}
	var out []domain.MediaItem
	for _, item := range coll {
		if r.Contains(item.Timestamp) {
			out = append(out, item)
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

func (t *Impl) CurrentMedia() []domain.MediaItem {
	return t.MediaForRange(t.CurrentRange(), nil)
}

func (t *Impl) FindByEventID(eventID string) (*domain.MediaItem, error) {
	if eventID == "" {
		return nil, errors.ErrNotFound
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, mt := range domain.StoredTypes {
		for _, item := range t.collections[mt] {
			if item.EventID == eventID {
				found := item
				return &found, nil
			}
		}
	}
	return nil, errors.ErrNotFound
}

func (t *Impl) MediaByAuthor(pubkey string) []domain.MediaItem {
	t.mu.RLock()
	var out []domain.MediaItem
	for _, mt := range domain.StoredTypes {
		for _, item := range t.collections[mt] {
			if item.Event != nil && item.Event.Author == pubkey {
				out = append(out, item)
			}
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

func (t *Impl) Stats() map[domain.MediaType]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make(map[domain.MediaType]int, len(domain.StoredTypes)+1)
	for _, mt := range domain.StoredTypes {
		stats[mt] = len(t.collections[mt])
	}
	stats[domain.TypeText] = 0
	return stats
}

func (t *Impl) TotalCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, mt := range domain.StoredTypes {
		total += len(t.collections[mt])
	}
	return total
}

// Dedupe repairs collections that accumulated duplicates (for example from a
// snapshot written before key pruning existed): each collection keeps the
// first occurrence per dedup key, then the seen-sets are rebuilt from scratch.
func (t *Impl) Dedupe() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, mt := range domain.StoredTypes {
		coll := t.collections[mt]
		keys := make(map[string]struct{}, len(coll))
		cleaned := coll[:0:0]
		for _, item := range coll {
			key := item.DedupKey()
			if _, dup := keys[key]; dup {
				continue
			}
			keys[key] = struct{}{}
			cleaned = append(cleaned, item)
		}
		if len(cleaned) != len(coll) {
			t.logger.Info("Removed duplicates", "type", mt, "before", len(coll), "after", len(cleaned))
		}
		t.collections[mt] = cleaned
		t.seen[mt] = keys
	}
	t.dirty = true
}
