package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/internal/feed"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/ratelimit"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
	"github.com/orgball2608/nostr-media-observatory/pkg/config"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

type Opts struct {
	fx.In

	Config      *config.Config
	Logger      logger.Logger
	Feed        feed.Client
	Pipeline    pipeline.Client
	TimeMachine timemachine.Client
}

// Server is the HTTP delivery layer: the JSON API plus the SSE stream.
type Server struct {
	cfg         *config.Config
	logger      logger.Logger
	feed        feed.Client
	broadcaster *broadcaster
	http        *http.Server
}

func New(opts Opts) *Server {
	log := opts.Logger.WithComponent("Server")

	s := &Server{
		cfg:         opts.Config,
		logger:      log,
		feed:        opts.Feed,
		broadcaster: newBroadcaster(opts.Logger),
	}

	// mutating routes share one limiter: a burst of 10, refilling at
	// 5 requests per second per client
	limiter := ratelimit.NewInMemoryLimiter(5, time.Second, 10)

	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(recoverer(log))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/nostr/stream", s.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/feed", s.handleFeed)
		r.Get("/cached-images", s.handleCachedImages)
		r.Get("/time-periods", s.handleTimePeriods)
		r.Get("/stats", s.handleStats)
		r.Get("/posts/{eventId}", s.handlePostByID)
		r.Get("/media/author/{pubkey}", s.handleMediaByAuthor)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(limiter))
			r.Post("/time-travel", s.handleTimeTravel)
			r.Post("/time-machine-media", s.handleTimeMachineMedia)
		})
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Config.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// stream frames: one per post with fresh media, one per window move
	opts.Pipeline.SubscribeUpdates(func(item domain.FeedItem) {
		s.broadcaster.publish("item", item)
	})
	opts.TimeMachine.Subscribe(func(items []domain.MediaItem, tr domain.TimeRange) {
		s.broadcaster.publish("timeframe", map[string]any{
			"count":     len(items),
			"timeRange": tr,
			"media":     items,
		})
	})

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.broadcaster.closeAll()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
