package pipelineimpl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/orgball2608/nostr-media-observatory/internal/classifier"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
	"github.com/orgball2608/nostr-media-observatory/pkg/config"
	"github.com/orgball2608/nostr-media-observatory/pkg/errors"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
	"github.com/orgball2608/nostr-media-observatory/pkg/retry"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	Config      *config.Config
	Logger      logger.Logger
	Relay       relay.Client
	Classifier  classifier.Client
	TimeMachine timemachine.Client
}

type Impl struct {
	cfg         *config.Config
	logger      logger.Logger
	relay       relay.Client
	classifier  classifier.Client
	timeMachine timemachine.Client

	stateMu sync.Mutex
	state   pipeline.State

	initializing atomic.Bool
	closed       atomic.Bool

	// short-term raw event buffer, newest first, independent of the archive
	eventsMu sync.RWMutex
	events   []relay.Event

	// seen event ids in arrival order so the oldest half can be pruned
	seenMu    sync.Mutex
	seenIDs   map[string]struct{}
	seenOrder []string

	lastEventAt atomic.Int64 // unix ms

	subMu  sync.Mutex
	sub    relay.Subscription
	subGen uint64

	profileMu sync.Mutex
	profiles  map[string]*cachedProfile

	cbMu      sync.Mutex
	callbacks []pipeline.UpdateFunc

	workers *ants.Pool
	monitor *healthMonitor
}

type cachedProfile struct {
	info *domain.AuthorInfo
}

func New(opts Opts) *Impl {
	pool, _ := ants.NewPool(opts.Config.Pipeline.ProcessWorkers, ants.WithPreAlloc(true))

	p := &Impl{
		cfg:         opts.Config,
		logger:      opts.Logger.WithComponent("Pipeline"),
		relay:       opts.Relay,
		classifier:  opts.Classifier,
		timeMachine: opts.TimeMachine,
		state:       pipeline.StateIdle,
		seenIDs:     make(map[string]struct{}),
		profiles:    make(map[string]*cachedProfile),
		workers:     pool,
	}
	p.lastEventAt.Store(time.Now().UnixMilli())
	return p
}

var _ pipeline.Client = (*Impl)(nil)

func (p *Impl) State() pipeline.State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Impl) setState(s pipeline.State) {
	p.stateMu.Lock()
	prev := p.state
	p.state = s
	p.stateMu.Unlock()
	if prev != s {
		p.logger.Info("Pipeline state changed", "from", prev, "to", s)
	}
}

// Initialize backfills recent posts and opens the live stream. The bulk
// fetch retries with capped backoff; once the budget is spent the pipeline
// parks in Failed and stops retrying on its own.
func (p *Impl) Initialize(ctx context.Context) error {
	if !p.initializing.CompareAndSwap(false, true) {
		p.logger.Info("Already initializing, skipping")
		return nil
	}
	defer p.initializing.Store(false)

	if s := p.State(); s == pipeline.StateConnecting || s == pipeline.StateActive {
		p.logger.Info("Pipeline already running, skipping initialization", "state", s)
		return nil
	}

	p.setState(pipeline.StateConnecting)

	err := retry.Do(ctx, p.logger, "pipeline bulk fetch", func() error {
		return p.bulkFetch(ctx)
	}, retry.UpstreamConfig(p.cfg.Pipeline.MaxInitRetries))
	if err != nil {
		p.setState(pipeline.StateFailed)
		p.logger.Error("Bulk fetch retry budget exhausted, pipeline failed", "error", err)
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	if err := p.openSubscription(ctx); err != nil {
		// the live stream keeps retrying in the background; not fatal here
		p.setState(pipeline.StateReconnecting)
		p.logger.Warn("Live subscription not yet available, reconnecting in background", "error", err)
		go p.reconnectLoop(ctx)
	} else {
		p.setState(pipeline.StateActive)
	}

	p.startHealthMonitor(ctx)
	p.logger.Info("Pipeline initialized")
	return nil
}

func (p *Impl) bulkFetch(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Relay.QueryTimeoutSec)*time.Second)
	defer cancel()

	since := time.Now().Add(-time.Duration(p.cfg.Pipeline.LookbackSec) * time.Second).Unix()
	events, err := p.relay.QuerySync(queryCtx, relay.Filter{
		Kinds: []int{relay.KindTextNote},
		Since: &since,
		Limit: p.cfg.Pipeline.BulkLimit,
	})
	if err != nil {
		return fmt.Errorf("bulk query: %w", err)
	}

	fresh := 0
	var wg sync.WaitGroup
	for _, ev := range events {
		if !p.markSeen(ev.ID) {
			continue
		}
		fresh++
		p.bufferEvent(ev)

		ev := ev
		wg.Add(1)
		submitErr := p.workers.Submit(func() {
			defer wg.Done()
			p.archiveEventMedia(ev)
		})
		if submitErr != nil {
			wg.Done()
			p.archiveEventMedia(ev)
		}
	}
	wg.Wait()

	p.logger.Info("Loaded recent events", "fetched", len(events), "fresh", fresh)
	return nil
}

// markSeen records an event id, pruning the oldest half of the set past the
// configured cap. Returns false when the id was already seen.
func (p *Impl) markSeen(id string) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()

	if _, dup := p.seenIDs[id]; dup {
		return false
	}
	p.seenIDs[id] = struct{}{}
	p.seenOrder = append(p.seenOrder, id)

	if max := p.cfg.Pipeline.MaxSeenEventIDs; max > 0 && len(p.seenOrder) > max {
		drop := p.seenOrder[:len(p.seenOrder)/2]
		for _, old := range drop {
			delete(p.seenIDs, old)
		}
		p.seenOrder = append([]string(nil), p.seenOrder[len(drop):]...)
	}
	return true
}

func (p *Impl) bufferEvent(ev relay.Event) {
	p.eventsMu.Lock()
	p.events = append([]relay.Event{ev}, p.events...)
	if max := p.cfg.Pipeline.MaxBufferedEvents; max > 0 && len(p.events) > max {
		p.events = p.events[:max]
	}
	p.eventsMu.Unlock()
}

func (p *Impl) EventByID(id string) (*relay.Event, error) {
	p.eventsMu.RLock()
	defer p.eventsMu.RUnlock()

	for _, ev := range p.events {
		if ev.ID == id {
			found := ev
			return &found, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (p *Impl) SubscribeUpdates(cb pipeline.UpdateFunc) {
	p.cbMu.Lock()
	p.callbacks = append(p.callbacks, cb)
	p.cbMu.Unlock()
}

func (p *Impl) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	if p.monitor != nil {
		p.monitor.stop()
	}

	p.subMu.Lock()
	if p.sub != nil {
		p.sub.Close()
		p.sub = nil
	}
	p.subMu.Unlock()

	p.workers.Release()
	p.logger.Info("Pipeline closed")
}
