package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/feed"
	"github.com/orgball2608/nostr-media-observatory/pkg/errors"
)

const (
	defaultFeedLimit    = 20
	maxFeedLimit        = 100
	defaultCachedLimit  = 500
	defaultBucketMinute = 60
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{
		"env":      s.cfg.App.Env,
		"pipeline": s.feed.Stats().PipelineState,
		"items":    s.feed.Stats().TotalItems,
		"clients":  s.broadcaster.clientCount(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultFeedLimit)
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	writeSuccess(w, s.feed.FeedItems(r.Context(), limit))
}

func (s *Server) handleCachedImages(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.feed.CachedMedia(defaultCachedLimit))
}

func (s *Server) handleTimeTravel(w http.ResponseWriter, r *http.Request) {
	var cmd feed.TravelCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(s.logger, w, errors.Wrap(errors.ErrBadRequest, "invalid request body"))
		return
	}

	result, err := s.feed.TimeTravel(cmd)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"count":     result.Count,
		"timeRange": result.Range,
	})
}

func (s *Server) handleTimeMachineMedia(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(s.logger, w, errors.Wrap(errors.ErrBadRequest, "invalid request body"))
		return
	}
	if body.Start <= 0 || body.End <= 0 || body.End < body.Start {
		writeError(s.logger, w, errors.Wrap(errors.ErrBadRequest, "start and end must form a valid range"))
		return
	}

	media := s.feed.MediaForRange(domain.TimeRange{Start: body.Start, End: body.End})
	writeSuccess(w, media)
}

func (s *Server) handleTimePeriods(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", defaultBucketMinute)
	writeSuccess(w, s.feed.TimeBuckets(minutes))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.feed.Stats())
}

func (s *Server) handlePostByID(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	post, err := s.feed.PostByEventID(r.Context(), eventID)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}
	writeSuccess(w, post)
}

func (s *Server) handleMediaByAuthor(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	if pubkey == "" {
		writeError(s.logger, w, errors.Wrap(errors.ErrBadRequest, "missing pubkey"))
		return
	}
	writeSuccess(w, s.feed.MediaByAuthor(pubkey))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
