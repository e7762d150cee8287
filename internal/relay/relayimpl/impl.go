package relayimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
	"github.com/orgball2608/nostr-media-observatory/pkg/config"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	Config *config.Config
	Logger logger.Logger
}

// Impl fans queries and subscriptions out over a fixed relay set, dialing
// connections lazily and re-dialing dropped ones on next use.
type Impl struct {
	urls        []string
	dialTimeout time.Duration
	logger      logger.Logger

	connMu sync.Mutex
	conns  map[string]*conn

	closed atomic.Bool
}

func New(opts Opts) *Impl {
	return &Impl{
		urls:        opts.Config.RelayURLs(),
		dialTimeout: time.Duration(opts.Config.Relay.DialTimeoutSec) * time.Second,
		logger:      opts.Logger.WithComponent("RelayPool"),
		conns:       make(map[string]*conn),
	}
}

var _ relay.Client = (*Impl)(nil)

// getConn returns the live connection for url, dialing when missing or dead.
func (p *Impl) getConn(ctx context.Context, url string) (*conn, error) {
	p.connMu.Lock()
	c, ok := p.conns[url]
	if ok {
		select {
		case <-c.done:
			delete(p.conns, url)
			ok = false
		default:
		}
	}
	p.connMu.Unlock()
	if ok {
		return c, nil
	}

	c, err := dial(ctx, url, p.dialTimeout, p.logger)
	if err != nil {
		return nil, err
	}

	p.connMu.Lock()
	if existing, raced := p.conns[url]; raced {
		p.connMu.Unlock()
		c.shutdown("duplicate connection")
		return existing, nil
	}
	p.conns[url] = c
	p.connMu.Unlock()

	p.logger.Info("Connected to relay", "relay", url)
	return c, nil
}

func (p *Impl) QuerySync(ctx context.Context, f relay.Filter) ([]relay.Event, error) {
	subID := "q-" + uuid.NewString()[:8]

	var (
		mu     sync.Mutex
		events []relay.Event
		byID   = make(map[string]struct{})
		wg     sync.WaitGroup
		errs   atomic.Int32
	)

	for _, url := range p.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			c, err := p.getConn(ctx, url)
			if err != nil {
				p.logger.Debug("Relay unavailable for query", "relay", url, "error", err)
				errs.Add(1)
				return
			}

			eose := make(chan struct{})
			var eoseOnce sync.Once
			finish := func(string) { eoseOnce.Do(func() { close(eose) }) }

			c.register(subID, &subHandler{
				onEvent: func(ev relay.Event) {
					mu.Lock()
					if _, dup := byID[ev.ID]; !dup {
						byID[ev.ID] = struct{}{}
						events = append(events, ev)
					}
					mu.Unlock()
				},
				onEOSE:  func() { finish("") },
				onClose: finish,
			})
			defer c.unregister(subID)

			if err := c.sendReq(subID, f); err != nil {
				p.logger.Debug("Query send failed", "relay", url, "error", err)
				errs.Add(1)
				return
			}

			select {
			case <-eose:
				c.sendClose(subID)
			case <-ctx.Done():
			}
		}(url)
	}
	wg.Wait()

	if len(events) == 0 && int(errs.Load()) == len(p.urls) {
		return nil, fmt.Errorf("query %s: no relay reachable", subID)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt > events[j].CreatedAt })
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events, nil
}

// subscription is the multi-relay live stream handle.
type subscription struct {
	id        string
	conns     []*conn
	remaining atomic.Int32
	closeOnce sync.Once
	handlers  relay.SubscriptionHandlers
}

func (s *subscription) Close() {
	s.closeOnce.Do(func() {
		for _, c := range s.conns {
			c.sendClose(s.id)
			c.unregister(s.id)
		}
	})
}

// legClosed reports one relay leg ending; the subscriber's OnClose fires only
// when the last leg is gone.
func (s *subscription) legClosed(reason string) {
	if s.remaining.Add(-1) == 0 && s.handlers.OnClose != nil {
		s.handlers.OnClose(reason)
	}
}

func (p *Impl) Subscribe(ctx context.Context, f relay.Filter, h relay.SubscriptionHandlers) (relay.Subscription, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("relay pool is closed")
	}

	sub := &subscription{
		id:       "s-" + uuid.NewString()[:8],
		handlers: h,
	}

	var legs []*conn
	for _, url := range p.urls {
		c, err := p.getConn(ctx, url)
		if err != nil {
			p.logger.Debug("Relay unavailable for subscription", "relay", url, "error", err)
			continue
		}
		legs = append(legs, c)
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("subscribe: no relay reachable")
	}

	// counters must be in place before any handler can fire
	sub.remaining.Store(int32(len(legs)))

	var (
		eoseRemaining atomic.Int32
		seenMu        sync.Mutex
		seen          = make(map[string]struct{})
	)
	eoseRemaining.Store(int32(len(legs)))

	for _, c := range legs {
		c.register(sub.id, &subHandler{
			onEvent: func(ev relay.Event) {
				if h.OnEvent == nil {
					return
				}
				// the same event arrives from several relays; deliver once
				seenMu.Lock()
				if _, dup := seen[ev.ID]; dup {
					seenMu.Unlock()
					return
				}
				seen[ev.ID] = struct{}{}
				if len(seen) > 4096 {
					seen = make(map[string]struct{})
				}
				seenMu.Unlock()
				h.OnEvent(ev)
			},
			onEOSE: func() {
				if eoseRemaining.Add(-1) == 0 && h.OnEndOfStored != nil {
					h.OnEndOfStored()
				}
			},
			onClose: sub.legClosed,
		})

		if err := c.sendReq(sub.id, f); err != nil {
			c.unregister(sub.id)
			p.logger.Debug("Subscription send failed", "relay", c.url, "error", err)
			sub.remaining.Add(-1)
			eoseRemaining.Add(-1)
			continue
		}

		sub.conns = append(sub.conns, c)
	}

	if len(sub.conns) == 0 {
		return nil, fmt.Errorf("subscribe: no relay accepted the request")
	}

	p.logger.Info("Live subscription established", "sub_id", sub.id, "relays", len(sub.conns))
	return sub, nil
}

func (p *Impl) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.connMu.Lock()
	conns := p.conns
	p.conns = make(map[string]*conn)
	p.connMu.Unlock()

	for _, c := range conns {
		c.shutdown("pool closed")
	}
	p.logger.Info("Relay pool closed", "connections", len(conns))
}
