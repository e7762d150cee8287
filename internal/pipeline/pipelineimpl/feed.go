package pipelineimpl

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
)

func eventData(ev relay.Event) *domain.EventData {
	return &domain.EventData{
		ID:        ev.ID,
		Author:    ev.PubKey,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
	}
}

// FeedItems converts the newest buffered events into feed items. Media
// discovered here is archived as a side effect, so a feed read never races
// ahead of the archive.
func (p *Impl) FeedItems(ctx context.Context, limit int) []domain.FeedItem {
	p.eventsMu.RLock()
	events := make([]relay.Event, len(p.events))
	copy(events, p.events)
	p.eventsMu.RUnlock()

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	items := make([]domain.FeedItem, 0, len(events))
	for _, ev := range events {
		p.archiveEventMedia(ev)
		items = append(items, p.toFeedItem(ctx, ev))
	}
	return items
}

func (p *Impl) toFeedItem(ctx context.Context, ev relay.Event) domain.FeedItem {
	return domain.FeedItem{
		ID:         ev.ID,
		Author:     ev.PubKey,
		Content:    ev.Content,
		CreatedAt:  ev.CreatedAt,
		Media:      p.classifier.ExtractMedia(ev.Content),
		AuthorInfo: p.AuthorInfo(ctx, ev.PubKey),
	}
}

// AuthorInfo resolves a pubkey's kind-0 profile, best effort. Results are
// cached for the process lifetime, including misses.
func (p *Impl) AuthorInfo(ctx context.Context, pubkey string) *domain.AuthorInfo {
	if pubkey == "" {
		return nil
	}

	p.profileMu.Lock()
	if cached, ok := p.profiles[pubkey]; ok {
		p.profileMu.Unlock()
		return cached.info
	}
	p.profileMu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx,
		time.Duration(p.cfg.Pipeline.ProfileTimeoutSec)*time.Second)
	defer cancel()

	var info *domain.AuthorInfo
	events, err := p.relay.QuerySync(lookupCtx, relay.Filter{
		Kinds:   []int{relay.KindProfile},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		p.logger.Debug("Profile lookup failed", "pubkey", pubkey, "error", err)
	} else if len(events) > 0 {
		info = parseProfile(events[0].Content)
	}

	p.profileMu.Lock()
	p.profiles[pubkey] = &cachedProfile{info: info}
	p.profileMu.Unlock()
	return info
}

// parseProfile extracts the display fields from a kind-0 event's JSON
// content. Malformed content yields nil, same as a missing profile.
func parseProfile(content string) *domain.AuthorInfo {
	var raw struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Picture     string `json:"picture"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil
	}

	name := raw.DisplayName
	if name == "" {
		name = raw.Name
	}
	if name == "" && raw.Picture == "" {
		return nil
	}
	return &domain.AuthorInfo{Name: name, Picture: raw.Picture}
}

// notify fans a feed item out to observers, isolating panics per callback so
// one misbehaving subscriber cannot take the ingestion path down.
func (p *Impl) notify(item domain.FeedItem) {
	p.cbMu.Lock()
	cbs := make([]pipeline.UpdateFunc, len(p.callbacks))
	copy(cbs, p.callbacks)
	p.cbMu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Feed observer panicked", "panic", r)
				}
			}()
			cb(item)
		}()
	}
}
