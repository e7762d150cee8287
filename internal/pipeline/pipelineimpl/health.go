package pipelineimpl

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/orgball2608/nostr-media-observatory/internal/pipeline"
	"github.com/orgball2608/nostr-media-observatory/pkg/formatter"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

// healthMonitor watches event recency and forces a stream restart when the
// live subscription has gone quiet past the staleness threshold.
type healthMonitor struct {
	scheduler gocron.Scheduler
	logger    logger.Logger
}

func (p *Impl) startHealthMonitor(ctx context.Context) {
	if p.monitor != nil {
		return
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		p.logger.Error("Failed to create health scheduler", "error", err)
		return
	}

	interval := time.Duration(p.cfg.Pipeline.HealthIntervalSec) * time.Second
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { p.checkHealth(ctx) }),
	)
	if err != nil {
		p.logger.Error("Failed to schedule health check", "error", err)
		return
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(p.logStatus),
	)
	if err != nil {
		p.logger.Error("Failed to schedule status report", "error", err)
	}

	scheduler.Start()
	p.monitor = &healthMonitor{scheduler: scheduler, logger: p.logger}

	go func() {
		<-ctx.Done()
		p.monitor.stop()
	}()
}

func (m *healthMonitor) stop() {
	if m == nil || m.scheduler == nil {
		return
	}
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Warn("Health scheduler shutdown failed", "error", err)
	}
}

func (p *Impl) checkHealth(ctx context.Context) {
	if p.closed.Load() || p.State() != pipeline.StateActive {
		return
	}

	silence := time.Since(time.UnixMilli(p.lastEventAt.Load()))
	threshold := time.Duration(p.cfg.Pipeline.StaleThresholdSec) * time.Second
	if silence < threshold {
		return
	}

	p.logger.Warn("No events received past staleness threshold, restarting stream",
		"silence", silence.Round(time.Second).String(),
		"threshold", threshold.String(),
	)

	p.setState(pipeline.StateReconnecting)
	// openSubscription swaps the stream in place and closes the old one,
	// so the stale stream's close callback cannot trigger a second restart.
	if err := p.openSubscription(ctx); err != nil {
		p.logger.Warn("Stream restart failed, retrying in background", "error", err)
		go p.reconnectLoop(ctx)
		return
	}
	p.lastEventAt.Store(time.Now().UnixMilli())
	p.setState(pipeline.StateActive)
}

func (p *Impl) logStatus() {
	p.eventsMu.RLock()
	buffered := len(p.events)
	p.eventsMu.RUnlock()

	p.logger.Info("Pipeline status",
		"state", p.State(),
		"buffered_events", buffered,
		"archived_items", formatter.FormatNumber(p.timeMachine.TotalCount()),
		"last_event_at", time.UnixMilli(p.lastEventAt.Load()).Format(time.RFC3339),
	)
}
