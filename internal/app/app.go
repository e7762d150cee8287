package app

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"

	"github.com/orgball2608/nostr-media-observatory/internal/classifier"
	"github.com/orgball2608/nostr-media-observatory/internal/classifier/classifierimpl"
	"github.com/orgball2608/nostr-media-observatory/internal/feed"
	"github.com/orgball2608/nostr-media-observatory/internal/feed/feedimpl"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/internal/pipeline/pipelineimpl"
	"github.com/orgball2608/nostr-media-observatory/internal/relay"
	"github.com/orgball2608/nostr-media-observatory/internal/relay/relayimpl"
	"github.com/orgball2608/nostr-media-observatory/internal/server"
	"github.com/orgball2608/nostr-media-observatory/internal/snapshot"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine"
	"github.com/orgball2608/nostr-media-observatory/internal/timemachine/timemachineimpl"
	"github.com/orgball2608/nostr-media-observatory/pkg/config"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

var Module = fx.Options(
	fx.Provide(
		config.New,
		logger.FxOption,
	),
	fx.Provide(
		fx.Annotate(
			func(cfg *config.Config, log logger.Logger) *snapshot.FileStore {
				return snapshot.NewFileStore(cfg.TimeMachine.StorageKey, log)
			},
			fx.As(new(snapshot.Store)),
		),
		fx.Annotate(
			classifierimpl.New,
			fx.As(new(classifier.Client)),
		),
		fx.Annotate(
			timemachineimpl.New,
			fx.As(new(timemachine.Client)),
		),
		fx.Annotate(
			relayimpl.New,
			fx.As(new(relay.Client)),
		),
		fx.Annotate(
			pipelineimpl.New,
			fx.As(new(pipeline.Client)),
		),
		fx.Annotate(
			feedimpl.New,
			fx.As(new(feed.Client)),
		),
		server.New,
	),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, log logger.Logger, srv *server.Server,
	pipelineClient pipeline.Client, relayClient relay.Client, tmClient timemachine.Client) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("HTTP server error", "error", err)
				}
			}()

			go func() {
				if err := pipelineClient.Initialize(context.Background()); err != nil {
					log.Error("Pipeline initialization failed", "error", err)
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			pipelineClient.Close()
			relayClient.Close()
			tmClient.Close()

			if err := srv.Stop(ctx); err != nil {
				log.Error("HTTP server shutdown error", "error", err)
			}

			sentry.Flush(2 * time.Second)
			return nil
		},
	})
}
