package feedimpl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgball2608/nostr-media-observatory/internal/classifier/classifierimpl"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/feed"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
	"github.com/orgball2608/nostr-media-observatory/internal/snapshot"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine/timemachineimpl"
	"github.com/orgball2608/nostr-media-observatory/pkg/config"
	"github.com/orgball2608/nostr-media-observatory/pkg/errors"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

type nopStore struct{}

func (nopStore) Load() (*snapshot.Snapshot, error) { return nil, nil }
func (nopStore) Save(*snapshot.Snapshot) error { return nil }
func (nopStore) LoadWindow() (*snapshot.WindowSettings, error) { return nil, nil }
func (nopStore) SaveWindow(*snapshot.WindowSettings) error { return nil }

// fakePipeline serves canned events and profiles without any relay traffic.
type fakePipeline struct {
	state  pipeline.State
	events map[string]relay.Event
	items  []domain.FeedItem
}

func (f *fakePipeline) Initialize(context.Context) error { return nil }

func (f *fakePipeline) FeedItems(_ context.Context, limit int) []domain.FeedItem {
	if limit > 0 && len(f.items) > limit {
		return f.items[:limit]
	}
	return f.items
}

func (f *fakePipeline) EventByID(id string) (*relay.Event, error) {
	if ev, ok := f.events[id]; ok {
		return &ev, nil
	}
	return nil, errors.ErrNotFound
}

func (f *fakePipeline) AuthorInfo(context.Context, string) *domain.AuthorInfo { return nil }
func (f *fakePipeline) SubscribeUpdates(pipeline.UpdateFunc) {}
func (f *fakePipeline) State() pipeline.State { return f.state }
func (f *fakePipeline) Close() {}

var _ pipeline.Client = (*fakePipeline)(nil)

func newTestFeed(t *testing.T, fp *fakePipeline) (*Impl, timemachine.Client) {
	t.Helper()
	cfg := &config.Config{}
	cfg.TimeMachine.MaxStoredPerType = 100
	cfg.TimeMachine.DefaultWindowMinutes = 60
	cfg.TimeMachine.TimeSliceMinutes = 60
	cfg.TimeMachine.FlushIntervalSec = 3600

	log := logger.New(logger.Opts{Env: "test"})
	tm := timemachineimpl.New(timemachineimpl.Opts{Config: cfg, Logger: log, Snapshots: nopStore{}})
	t.Cleanup(tm.Close)

	f := New(Opts{
		Logger:      log,
		Pipeline:    fp,
		TimeMachine: tm,
		Classifier:  classifierimpl.New(classifierimpl.Opts{Logger: log}),
	})
	return f, tm
}

func TestCachedMedia_ReturnsImagesBounded(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})
	for i := int64(1); i <= 3; i++ {
		tm.AddItem(domain.MediaItem{
			URL:       "https://a.com/" + string(rune('a'+i)) + ".jpg",
			Type:      domain.TypeImage,
			Timestamp: i * 1000,
		})
	}
	tm.AddItem(domain.MediaItem{URL: "https://a.com/v.mp4", Type: domain.TypeVideo, Timestamp: 500})

	all := f.CachedMedia(0)
	assert.Len(t, all, 3)
	for _, item := range all {
		assert.Equal(t, domain.TypeImage, item.Type)
	}

	assert.Len(t, f.CachedMedia(2), 2)
}

func TestPostByEventID_LiveBufferFirst(t *testing.T) {
	fp := &fakePipeline{events: map[string]relay.Event{
		"ev1": {ID: "ev1", PubKey: "npub-a", Content: "hello https://a.com/1.jpg", CreatedAt: 42},
	}}
	f, _ := newTestFeed(t, fp)

	post, err := f.PostByEventID(context.Background(), "ev1")

	require.NoError(t, err)
	assert.Equal(t, "npub-a", post.Author)
	assert.Len(t, post.Media.Images, 1)
}

func TestPostByEventID_ArchiveFallback(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})
	tm.AddItem(domain.MediaItem{
		URL:       "https://a.com/1.jpg",
		Type:      domain.TypeImage,
		EventID:   "ev-old",
		Timestamp: 1000,
		Event:     &domain.EventData{ID: "ev-old", Author: "npub-b", Content: "archived https://a.com/1.jpg", CreatedAt: 7},
	})

	post, err := f.PostByEventID(context.Background(), "ev-old")

	require.NoError(t, err)
	assert.Equal(t, "npub-b", post.Author)
	assert.Equal(t, int64(7), post.CreatedAt)
	assert.Len(t, post.Media.Images, 1)
}

func TestPostByEventID_NotFound(t *testing.T) {
	f, _ := newTestFeed(t, &fakePipeline{})

	_, err := f.PostByEventID(context.Background(), "nope")

	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPostByEventID_EmptyID(t *testing.T) {
	f, _ := newTestFeed(t, &fakePipeline{})

	_, err := f.PostByEventID(context.Background(), "")

	assert.ErrorIs(t, err, errors.ErrBadRequest)
}

func TestStats_CombinesPipelineAndArchive(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{state: pipeline.StateActive})
	tm.AddItem(domain.MediaItem{URL: "https://a.com/1.jpg", Type: domain.TypeImage, Timestamp: 1000})

	stats := f.Stats()

	assert.Equal(t, pipeline.StateActive, stats.PipelineState)
	assert.Equal(t, 1, stats.TotalItems)
	assert.Equal(t, 1, stats.ByType[domain.TypeImage])
	assert.Equal(t, []domain.MediaType{domain.TypeImage}, stats.ActiveTypes)
}

func TestTimeTravel_Goto(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})
	tm.AddItem(domain.MediaItem{URL: "https://a.com/1.jpg", Type: domain.TypeImage, Timestamp: 100_000_000})

	result, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionGoto, Timestamp: 100_000_000, TimespanMinutes: 10})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, int64(10*60*1000), result.Range.End-result.Range.Start)
}

func TestTimeTravel_GotoWithoutTimestamp(t *testing.T) {
	f, _ := newTestFeed(t, &fakePipeline{})

	_, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionGoto})

	assert.ErrorIs(t, err, errors.ErrBadRequest)
}

func TestTimeTravel_SetWindow(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})

	result, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionSetWindow, Start: 1000, End: 5000})

	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, domain.TimeRange{Start: 1000, End: 5000}, tm.CurrentRange())
}

func TestTimeTravel_SetWindowInvalidRange(t *testing.T) {
	f, _ := newTestFeed(t, &fakePipeline{})

	_, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionSetWindow, Start: 5000, End: 1000})

	assert.ErrorIs(t, err, errors.ErrBadRequest)
}

func TestTimeTravel_BackwardsDefaultsToAnHour(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})
	tm.TravelToRange(domain.TimeRange{Start: 10_000_000, End: 20_000_000})

	_, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionBackwards})

	require.NoError(t, err)
	r := tm.CurrentRange()
	assert.Equal(t, int64(10_000_000-60*60*1000), r.Start)
}

func TestTimeTravel_Forwards(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})
	tm.TravelToRange(domain.TimeRange{Start: 10_000_000, End: 20_000_000})

	_, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionForwards, Minutes: 5})

	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000+5*60*1000), tm.CurrentRange().Start)
}

func TestTimeTravel_Now(t *testing.T) {
	f, tm := newTestFeed(t, &fakePipeline{})

	before := domain.NowMillis()
	result, err := f.TimeTravel(feed.TravelCommand{Action: feed.ActionNow})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Range.End, before)
	assert.Equal(t, tm.CurrentRange(), result.Range)
}

func TestTimeTravel_UnknownAction(t *testing.T) {
	f, _ := newTestFeed(t, &fakePipeline{})

	_, err := f.TimeTravel(feed.TravelCommand{Action: "sideways"})

	assert.ErrorIs(t, err, errors.ErrBadRequest)
}
