package feedimpl

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/orgball2608/nostr-media-observatory/internal/classifier"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/feed"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
	"github.com/orgball2608/nostr-media-observatory/pkg/errors"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

type Opts struct {
	fx.In

	Logger      logger.Logger
	Pipeline    pipeline.Client
	TimeMachine timemachine.Client
	Classifier  classifier.Client
}

type Impl struct {
	logger      logger.Logger
	pipeline    pipeline.Client
	timeMachine timemachine.Client
	classifier  classifier.Client
}

func New(opts Opts) *Impl {
	return &Impl{
		logger:      opts.Logger.WithComponent("Feed"),
		pipeline:    opts.Pipeline,
		timeMachine: opts.TimeMachine,
		classifier:  opts.Classifier,
	}
}

var _ feed.Client = (*Impl)(nil)

func (f *Impl) FeedItems(ctx context.Context, limit int) []domain.FeedItem {
	return f.pipeline.FeedItems(ctx, limit)
}

func (f *Impl) CachedMedia(limit int) []domain.MediaItem {
	images := f.timeMachine.MediaByType(domain.TypeImage, nil)
	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	return images
}

func (f *Impl) MediaForRange(r domain.TimeRange) []domain.MediaItem {
	return f.timeMachine.MediaForRange(r, domain.StoredTypes)
}

// PostByEventID prefers the live buffer because it still carries the raw
// event; the archive path reconstructs the post from whatever media item
// captured it at ingestion.
func (f *Impl) PostByEventID(ctx context.Context, eventID string) (*domain.FeedItem, error) {
	if eventID == "" {
		return nil, errors.ErrBadRequest
	}

	if ev, err := f.pipeline.EventByID(eventID); err == nil {
		item := domain.FeedItem{
			ID:         ev.ID,
			Author:     ev.PubKey,
			Content:    ev.Content,
			CreatedAt:  ev.CreatedAt,
			Media:      f.classifier.ExtractMedia(ev.Content),
			AuthorInfo: f.pipeline.AuthorInfo(ctx, ev.PubKey),
		}
		return &item, nil
	}

	stored, err := f.timeMachine.FindByEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", eventID, err)
	}
	if stored.Event == nil {
		// legacy snapshot items carry no originating event
		return nil, fmt.Errorf("post %s: %w", eventID, errors.ErrNotFound)
	}

	item := domain.FeedItem{
		ID:         stored.Event.ID,
		Author:     stored.Event.Author,
		Content:    stored.Event.Content,
		CreatedAt:  stored.Event.CreatedAt,
		Media:      f.classifier.ExtractMedia(stored.Event.Content),
		AuthorInfo: f.pipeline.AuthorInfo(ctx, stored.Event.Author),
	}
	return &item, nil
}

func (f *Impl) MediaByAuthor(pubkey string) []domain.MediaItem {
	return f.timeMachine.MediaByAuthor(pubkey)
}

func (f *Impl) Stats() feed.Stats {
	return feed.Stats{
		PipelineState: f.pipeline.State(),
		TotalItems:    f.timeMachine.TotalCount(),
		ByType:        f.timeMachine.Stats(),
		CurrentRange:  f.timeMachine.CurrentRange(),
		ActiveTypes:   f.timeMachine.ActiveTypes(),
	}
}

func (f *Impl) TimeBuckets(bucketMinutes int) []domain.TimeBucket {
	return f.timeMachine.TimeBuckets(bucketMinutes)
}

func (f *Impl) TimeTravel(cmd feed.TravelCommand) (feed.TravelResult, error) {
	var items []domain.MediaItem

	switch cmd.Action {
	case feed.ActionBackwards:
		items = f.timeMachine.TravelBy(-f.minutesOrDefault(cmd.Minutes))
	case feed.ActionForwards:
		items = f.timeMachine.TravelBy(f.minutesOrDefault(cmd.Minutes))
	case feed.ActionNow:
		items = f.timeMachine.JumpToNow()
	case feed.ActionGoto:
		if cmd.Timestamp <= 0 {
			return feed.TravelResult{}, fmt.Errorf("goto needs a timestamp: %w", errors.ErrBadRequest)
		}
		items = f.timeMachine.TravelToDate(cmd.Timestamp, cmd.TimespanMinutes)
	case feed.ActionSetWindow:
		if cmd.Start <= 0 || cmd.End <= 0 || cmd.End < cmd.Start {
			return feed.TravelResult{}, fmt.Errorf("set-window needs start <= end: %w", errors.ErrBadRequest)
		}
		items = f.timeMachine.TravelToRange(domain.TimeRange{Start: cmd.Start, End: cmd.End})
	default:
		return feed.TravelResult{}, fmt.Errorf("unknown action %q: %w", cmd.Action, errors.ErrBadRequest)
	}

	result := feed.TravelResult{Count: len(items), Range: f.timeMachine.CurrentRange()}
	f.logger.Info("Time travel", "action", cmd.Action, "count", result.Count,
		"start", result.Range.Start, "end", result.Range.End)
	return result, nil
}

func (f *Impl) minutesOrDefault(minutes int) int {
	if minutes <= 0 {
		return 60
	}
	return minutes
}
