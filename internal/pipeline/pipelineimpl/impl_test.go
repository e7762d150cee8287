package pipelineimpl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgball2608/nostr-media-observatory/internal/classifier/classifierimpl"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
	"github.com/orgball2608/nostr-media-observatory/internal/snapshot"
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

type fakeSub struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeRelay scripts QuerySync responses and captures live subscriptions so a
// test can push events through the pipeline by hand.
type fakeRelay struct {
	mu         sync.Mutex
	queryCalls int
	queryErr   error
	stored     []relay.Event
	profiles   map[string]relay.Event

	handlers relay.SubscriptionHandlers
	subs     []*fakeSub
}

func (f *fakeRelay) QuerySync(_ context.Context, filter relay.Filter) ([]relay.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++

	if len(filter.Kinds) == 1 && filter.Kinds[0] == relay.KindProfile {
		if len(filter.Authors) == 1 {
			if ev, ok := f.profiles[filter.Authors[0]]; ok {
				return []relay.Event{ev}, nil
			}
		}
		return nil, nil
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.stored, nil
}

func (f *fakeRelay) Subscribe(_ context.Context, _ relay.Filter, h relay.SubscriptionHandlers) (relay.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
	sub := &fakeSub{}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeRelay) Close() {}

func (f *fakeRelay) push(ev relay.Event) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

var _ relay.Client = (*fakeRelay)(nil)

func pipelineTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Relay.QueryTimeoutSec = 2
	cfg.Pipeline.LookbackSec = 7200
	cfg.Pipeline.BulkLimit = 50
	cfg.Pipeline.MaxInitRetries = 1
	cfg.Pipeline.ReconnectDelaySec = 1
	cfg.Pipeline.HealthIntervalSec = 30
	cfg.Pipeline.StaleThresholdSec = 180
	cfg.Pipeline.ProfileTimeoutSec = 1
	cfg.Pipeline.MaxBufferedEvents = 5
	cfg.Pipeline.MaxSeenEventIDs = 10
	cfg.Pipeline.ProcessWorkers = 2
	cfg.TimeMachine.MaxStoredPerType = 100
	cfg.TimeMachine.DefaultWindowMinutes = 60
	cfg.TimeMachine.TimeSliceMinutes = 60
	cfg.TimeMachine.FlushIntervalSec = 3600
	return cfg
}

func newTestPipeline(t *testing.T, fr *fakeRelay) *Impl {
	t.Helper()
	cfg := pipelineTestConfig()
	log := logger.New(logger.Opts{Env: "test"})

	tm := timemachineimpl.New(timemachineimpl.Opts{
		Config:    cfg,
		Logger:    log,
		Snapshots: nopStore{},
	})
	t.Cleanup(tm.Close)

	p := New(Opts{
		Config:      cfg,
		Logger:      log,
		Relay:       fr,
		Classifier:  classifierimpl.New(classifierimpl.Opts{Logger: log}),
		TimeMachine: tm,
	})
	t.Cleanup(p.Close)
	return p
}

func noteEvent(id, pubkey, content string) relay.Event {
	return relay.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      relay.KindTextNote,
		CreatedAt: time.Now().Unix(),
		Content:   content,
	}
}

func TestInitialize_BulkFetchArchivesMedia(t *testing.T) {
	fr := &fakeRelay{stored: []relay.Event{
		noteEvent("ev1", "npub-a", "pic https://a.com/1.jpg"),
		noteEvent("ev2", "npub-b", "no media here"),
	}}
	p := newTestPipeline(t, fr)

	require.NoError(t, p.Initialize(context.Background()))

	assert.Equal(t, pipeline.StateActive, p.State())
	assert.Equal(t, 1, p.timeMachine.TotalCount())

	ev, err := p.EventByID("ev1")
	require.NoError(t, err)
	assert.Equal(t, "npub-a", ev.PubKey)
}

func TestInitialize_SecondCallIsNoOp(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	calls := func() int {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return fr.queryCalls
	}
	before := calls()
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, before, calls(), "an active pipeline must not re-run the bulk fetch")
	assert.Equal(t, pipeline.StateActive, p.State())
}

func TestInitialize_FailsWhenRetryBudgetSpent(t *testing.T) {
	fr := &fakeRelay{queryErr: errors.New("relay down")}
	p := newTestPipeline(t, fr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Initialize(ctx)

	require.Error(t, err)
	assert.Equal(t, pipeline.StateFailed, p.State())
}

func TestHandleEvent_ArchivesAndNotifies(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	var mu sync.Mutex
	var got []domain.FeedItem
	p.SubscribeUpdates(func(item domain.FeedItem) {
		mu.Lock()
		got = append(got, item)
		mu.Unlock()
	})

	fr.push(noteEvent("ev-live", "npub-a", "fresh https://a.com/live.jpg"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	item := got[0]
	mu.Unlock()
	assert.Equal(t, "ev-live", item.ID)
	require.Len(t, item.Media.Images, 1)
	assert.Equal(t, 1, p.timeMachine.TotalCount())
}

func TestArchiveEventMedia_RejectsImplausibleCreatedAt(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)

	ancient := noteEvent("ev-ancient", "npub-a", "https://a.com/1.jpg")
	ancient.CreatedAt = -4_000_000_000_000_000_000

	future := noteEvent("ev-future", "npub-a", "https://a.com/2.jpg")
	future.CreatedAt = time.Now().Unix() + 3600

	assert.Zero(t, p.archiveEventMedia(ancient))
	assert.Zero(t, p.archiveEventMedia(future))
	assert.Zero(t, p.timeMachine.TotalCount())

	recent := noteEvent("ev-recent", "npub-a", "https://a.com/3.jpg")
	assert.Equal(t, 1, p.archiveEventMedia(recent))
}

func TestCheckHealth_RestartsStaleStream(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	subs := func() int {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.subs)
	}
	require.Equal(t, 1, subs())

	// a fresh stream is left alone
	p.checkHealth(context.Background())
	assert.Equal(t, 1, subs())

	// past the staleness threshold the stream is reopened in place
	p.lastEventAt.Store(time.Now().Add(-10 * time.Minute).UnixMilli())
	p.checkHealth(context.Background())

	assert.Equal(t, 2, subs())
	assert.True(t, fr.subs[0].isClosed(), "the stale stream must be closed")
	assert.Equal(t, pipeline.StateActive, p.State())
}

func TestSubscriptionClose_TriggersReconnect(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	fr.mu.Lock()
	onClose := fr.handlers.OnClose
	fr.mu.Unlock()
	require.NotNil(t, onClose)

	onClose("relay dropped the connection")
	assert.Equal(t, pipeline.StateReconnecting, p.State())

	require.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.subs) == 2
	}, 5*time.Second, 50*time.Millisecond, "a replacement subscription should be opened")

	require.Eventually(t, func() bool {
		return p.State() == pipeline.StateActive
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSubscribeUpdates_PanickingObserverIsolated(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	p.SubscribeUpdates(func(domain.FeedItem) { panic("observer blew up") })

	got := make(chan domain.FeedItem, 1)
	p.SubscribeUpdates(func(item domain.FeedItem) { got <- item })

	fr.push(noteEvent("ev-live", "npub-a", "fresh https://a.com/live.jpg"))

	select {
	case item := <-got:
		assert.Equal(t, "ev-live", item.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("second observer was never notified")
	}
}

func TestHandleEvent_NoNotifyWithoutFreshMedia(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	notified := make(chan struct{}, 1)
	p.SubscribeUpdates(func(domain.FeedItem) { notified <- struct{}{} })

	fr.push(noteEvent("ev-text", "npub-a", "plain words only"))

	select {
	case <-notified:
		t.Fatal("expected no notification for a post without media")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandleEvent_DuplicateIDsIgnored(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	ev := noteEvent("ev-dup", "npub-a", "https://a.com/1.jpg")
	fr.push(ev)
	fr.push(ev)

	require.Eventually(t, func() bool {
		return p.timeMachine.TotalCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	p.eventsMu.RLock()
	buffered := len(p.events)
	p.eventsMu.RUnlock()
	assert.Equal(t, 1, buffered)
}

func TestEventBuffer_Bounded(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	for i := 0; i < 8; i++ {
		fr.push(noteEvent("ev-"+string(rune('a'+i)), "npub-a", "text"))
	}

	p.eventsMu.RLock()
	buffered := len(p.events)
	newest := p.events[0].ID
	p.eventsMu.RUnlock()

	assert.Equal(t, 5, buffered)
	assert.Equal(t, "ev-h", newest)
}

func TestMarkSeen_PrunesOldestHalf(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)

	for i := 0; i < 11; i++ {
		p.markSeen("id-" + string(rune('a'+i)))
	}

	p.seenMu.Lock()
	remaining := len(p.seenIDs)
	p.seenMu.Unlock()

	// the cap is 10; crossing it drops the oldest half
	assert.Equal(t, 6, remaining)
	assert.True(t, p.markSeen("id-a"), "pruned id should be accepted again")
}

func TestEventByID_Missing(t *testing.T) {
	p := newTestPipeline(t, &fakeRelay{})

	_, err := p.EventByID("missing")

	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAuthorInfo_ParsesAndCaches(t *testing.T) {
	fr := &fakeRelay{profiles: map[string]relay.Event{
		"npub-a": {
			ID:      "profile-1",
			PubKey:  "npub-a",
			Kind:    relay.KindProfile,
			Content: `{"name":"alice","picture":"https://a.com/alice.png"}`,
		},
	}}
	p := newTestPipeline(t, fr)

	info := p.AuthorInfo(context.Background(), "npub-a")
	require.NotNil(t, info)
	assert.Equal(t, "alice", info.Name)
	assert.Equal(t, "https://a.com/alice.png", info.Picture)

	before := func() int {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return fr.queryCalls
	}()
	again := p.AuthorInfo(context.Background(), "npub-a")
	after := func() int {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return fr.queryCalls
	}()

	assert.Equal(t, info, again)
	assert.Equal(t, before, after, "cached profile must not re-query")
}

func TestAuthorInfo_MissIsCachedNil(t *testing.T) {
	fr := &fakeRelay{}
	p := newTestPipeline(t, fr)

	assert.Nil(t, p.AuthorInfo(context.Background(), "npub-unknown"))
	assert.Nil(t, p.AuthorInfo(context.Background(), "npub-unknown"))
}

func TestFeedItems_ConvertsBufferedEvents(t *testing.T) {
	fr := &fakeRelay{stored: []relay.Event{
		noteEvent("ev1", "npub-a", "hello https://a.com/1.jpg"),
		noteEvent("ev2", "npub-b", "world"),
	}}
	p := newTestPipeline(t, fr)
	require.NoError(t, p.Initialize(context.Background()))

	items := p.FeedItems(context.Background(), 10)

	require.Len(t, items, 2)
	ids := []string{items[0].ID, items[1].ID}
	assert.ElementsMatch(t, []string{"ev1", "ev2"}, ids)

	limited := p.FeedItems(context.Background(), 1)
	assert.Len(t, limited, 1)
}

func TestParseProfile(t *testing.T) {
	assert.Nil(t, parseProfile("not json"))
	assert.Nil(t, parseProfile("{}"))

	info := parseProfile(`{"display_name":"Alice B","name":"alice"}`)
	require.NotNil(t, info)
	assert.Equal(t, "Alice B", info.Name)

	fallback := parseProfile(`{"name":"alice"}`)
	require.NotNil(t, fallback)
	assert.Equal(t, "alice", fallback.Name)
}
