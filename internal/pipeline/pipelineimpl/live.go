package pipelineimpl

import (
	"context"
	"time"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
)

// openSubscription starts the live stream for new text notes. Only events
// created after subscription time flow here; history came from the bulk fetch.
func (p *Impl) openSubscription(ctx context.Context) error {
	p.subMu.Lock()
	p.subGen++
	gen := p.subGen
	p.subMu.Unlock()

	since := time.Now().Unix()
	sub, err := p.relay.Subscribe(ctx, relay.Filter{
		Kinds: []int{relay.KindTextNote},
		Since: &since,
	}, relay.SubscriptionHandlers{
		OnEvent: p.handleEvent,
		OnEndOfStored: func() {
			p.logger.Debug("Live stream drained stored events")
		},
		OnClose: func(reason string) {
			p.onSubscriptionClosed(ctx, gen, reason)
		},
	})
	if err != nil {
		return err
	}

	p.subMu.Lock()
	old := p.sub
	p.sub = sub
	p.subMu.Unlock()
	if old != nil {
		old.Close()
	}

	p.logger.Info("Live subscription opened")
	return nil
}

// onSubscriptionClosed only reacts when the closed stream is still the
// current one; a superseded subscription closing is expected and ignored.
func (p *Impl) onSubscriptionClosed(ctx context.Context, gen uint64, reason string) {
	if p.closed.Load() {
		return
	}

	p.subMu.Lock()
	stale := gen != p.subGen
	if !stale {
		p.sub = nil
	}
	p.subMu.Unlock()
	if stale {
		return
	}

	p.logger.Warn("Live subscription closed", "reason", reason)
	p.setState(pipeline.StateReconnecting)
	go p.reconnectLoop(ctx)
}

// reconnectLoop retries the live subscription on a fixed delay until it
// sticks or the pipeline shuts down.
func (p *Impl) reconnectLoop(ctx context.Context) {
	delay := time.Duration(p.cfg.Pipeline.ReconnectDelaySec) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if p.closed.Load() {
			return
		}

		if err := p.openSubscription(ctx); err != nil {
			p.logger.Warn("Reconnect attempt failed", "error", err, "retry_in", delay.String())
			continue
		}
		p.setState(pipeline.StateActive)
		return
	}
}

// handleEvent is the live path: dedup, buffer, archive, notify.
func (p *Impl) handleEvent(ev relay.Event) {
	if p.closed.Load() {
		return
	}
	if !p.markSeen(ev.ID) {
		return
	}

	p.lastEventAt.Store(time.Now().UnixMilli())
	p.bufferEvent(ev)

	if err := p.workers.Submit(func() { p.processEvent(ev) }); err != nil {
		p.processEvent(ev)
	}
}

func (p *Impl) processEvent(ev relay.Event) {
	added := p.archiveEventMedia(ev)
	if added == 0 {
		return
	}

	p.notify(p.toFeedItem(context.Background(), ev))
}

// Bounds on created_at. Relays echo whatever clients sign, so timestamps far
// in the past or future are noise and never reach the archive. Checking the
// raw seconds value also keeps the millisecond conversion from overflowing.
const (
	maxEventAgeSec  = 30 * 24 * 60 * 60
	maxClockSkewSec = 5 * 60
)

func plausibleCreatedAt(createdAt int64) bool {
	now := time.Now().Unix()
	return createdAt >= now-maxEventAgeSec && createdAt <= now+maxClockSkewSec
}

// archiveEventMedia classifies the post and writes every extracted item to
// the archive. Returns the number of items newly added.
func (p *Impl) archiveEventMedia(ev relay.Event) int {
	if !plausibleCreatedAt(ev.CreatedAt) {
		p.logger.Warn("Dropping event with implausible created_at",
			"event_id", ev.ID, "created_at", ev.CreatedAt)
		return 0
	}

	classified := p.classifier.ExtractMedia(ev.Content)
	if classified.TotalCount == 0 {
		return 0
	}

	added := 0
	for _, m := range classified.All() {
		m.Timestamp = ev.CreatedAt * 1000
		m.EventID = ev.ID
		m.Event = eventData(ev)
		if m.Type == domain.TypeImage {
			m.Category = p.classifier.CategorizeImage(m.URL, ev.Content)
		}
		fresh, err := p.timeMachine.AddItem(m)
		if err != nil {
			p.logger.Warn("Failed to archive media item", "url", m.URL, "error", err)
			continue
		}
		if fresh {
			added++
		}
	}
	return added
}
