package app

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fillscope/internal/batch"
	"github.com/alanyoungcy/fillscope/internal/config"
	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/notify"
	"github.com/alanyoungcy/fillscope/internal/pipeline"
	"github.com/alanyoungcy/fillscope/internal/platform/dome"
	"github.com/alanyoungcy/fillscope/internal/platform/tradefeed"
	"github.com/alanyoungcy/fillscope/internal/rematch"
	"github.com/alanyoungcy/fillscope/internal/server"
	"github.com/alanyoungcy/fillscope/internal/server/handler"
	"github.com/alanyoungcy/fillscope/internal/server/ws"
	"github.com/alanyoungcy/fillscope/internal/service"
	"github.com/alanyoungcy/fillscope/internal/sink"
)

// streamPath is the live order path: dome feed, rematch scheduler and the
// websocket hub it publishes to.
type streamPath struct {
	client    *dome.Client
	scheduler *rematch.Scheduler
	ingester  *pipeline.StreamIngester
	hub       *ws.Hub
}

// StreamMode runs the live order stream, the websocket hub and the HTTP
// server.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	sp, err := a.buildStreamPath(deps)
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, sp, nil)
}

// BatchMode runs the trade-feed analyzer and the HTTP server.
func (a *App) BatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting batch mode")

	analyzer, err := a.buildAnalyzer(deps)
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, nil, analyzer)
}

// FullMode runs both ingestion paths against the shared cache.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sp, err := a.buildStreamPath(deps)
	if err != nil {
		return err
	}
	analyzer, err := a.buildAnalyzer(deps)
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, sp, analyzer)
}

func (a *App) buildStreamPath(deps *Dependencies) (*streamPath, error) {
	cfg := a.cfg

	client, err := dome.NewClient(dome.Config{
		APIKey:         cfg.Dome.APIKey,
		URL:            cfg.Dome.URL,
		Platform:       cfg.Dome.Platform,
		Version:        cfg.Dome.Version,
		Wallets:        cfg.Dome.Wallets,
		ReconnectDelay: cfg.Dome.ReconnectDelay.Duration,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(ws.Config{
		Bus:       deps.SignalBus,
		Channel:   cfg.Redis.Channel,
		Connected: func() bool { return client.Status().Connected },
	}, a.logger)

	// With Redis every instance's hub relays from the bus, so the scheduler
	// publishes there only.
	var out domain.Sink = hub
	if deps.SignalBus != nil {
		out = sink.NewBus(deps.SignalBus, cfg.Redis.Channel)
	}

	scheduler := rematch.New(deps.Engine, deps.History, sink.NewFanout(a.logger, out), rematch.Options{
		Ticks:       config.Durations(cfg.Rematch.Ticks),
		PreferredBy: cfg.Rematch.PreferredBy.Duration,
		Concurrency: int64(cfg.Rematch.Concurrency),
	}, a.logger)
	a.closers = append(a.closers, scheduler.Shutdown)

	client.OnStatusChange(func(connected bool) {
		hub.SetConnected(connected)
		if connected {
			return
		}
		// The callback runs on the reader goroutine; delivery must not stall it.
		go func() {
			err := deps.Notifier.Notify(context.Background(), notify.Alert{
				Event:   notify.EventStreamDisconnected,
				Title:   "Order stream disconnected",
				Message: "The order stream dropped and is reconnecting.",
			})
			if err != nil {
				a.logger.Warn("disconnect alert failed", slog.String("error", err.Error()))
			}
		}()
	})

	ingester := pipeline.NewStreamIngester(client, scheduler, pipeline.StreamOptions{
		BatchSize: cfg.Dome.BatchSize,
		FirstWait: cfg.Dome.FirstWait.Duration,
		NextWait:  cfg.Dome.NextWait.Duration,
		Workers:   cfg.Dome.Workers,
	}, a.logger)

	return &streamPath{client: client, scheduler: scheduler, ingester: ingester, hub: hub}, nil
}

func (a *App) buildAnalyzer(deps *Dependencies) (*pipeline.Analyzer, error) {
	cfg := a.cfg

	feed, err := tradefeed.NewClient(tradefeed.Config{
		BaseURL:     cfg.TradeFeed.BaseURL,
		AuthURL:     cfg.TradeFeed.AuthURL,
		Email:       cfg.TradeFeed.Email,
		Password:    cfg.TradeFeed.Password,
		BearerToken: cfg.TradeFeed.BearerToken,
		PageSize:    cfg.TradeFeed.PageSize,
		Timeout:     cfg.TradeFeed.Timeout.Duration,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	coordinator := batch.New(deps.Engine, batch.Options{
		MaxWorkers: cfg.Matching.MaxWorkers,
		Buffer:     cfg.Matching.Buffer.Duration,
	}, a.logger)

	var archiver pipeline.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}

	return pipeline.NewAnalyzer(feed, coordinator, deps.History, archiver, deps.Notifier, pipeline.AnalyzerOptions{
		MaxFills:       cfg.TradeFeed.MaxFills,
		FreshnessGuard: cfg.TradeFeed.FreshnessGuard.Duration,
	}, a.logger), nil
}

// serve starts every long-running goroutine for the configured paths and
// blocks until one fails or ctx is done. sp and analyzer may be nil.
func (a *App) serve(ctx context.Context, deps *Dependencies, sp *streamPath, analyzer *pipeline.Analyzer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(deps.History.Run(ctx))
	})
	if deps.MemoryCache != nil {
		g.Go(func() error {
			return ignoreCanceled(deps.MemoryCache.Run(ctx, a.cfg.Retention.SweepInterval.Duration))
		})
	}

	orch := &pipeline.Orchestrator{
		Analyzer:        analyzer,
		RefreshInterval: a.cfg.TradeFeed.RefreshInterval.Duration,
		Logger:          a.logger,
	}

	status := handler.StatusSources{
		Mode:      a.cfg.Mode,
		CacheSize: deps.History.Len,
	}
	handlers := server.Handlers{}
	var hub *ws.Hub
	var connected func() bool

	if sp != nil {
		hub = sp.hub
		orch.Ingester = sp.ingester
		connected = func() bool { return sp.client.Status().Connected }
		status.Stream = sp.client
		status.Pending = sp.scheduler.Pending
		status.Clients = hub.Clients

		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})

		orders := service.NewOrderService(deps.History, deps.Accounts, sp.client.Wallets(), a.logger)
		handlers.Orders = handler.NewOrderHandler(orders, int(deps.History.Horizon().Hours()), a.logger)
	}
	if analyzer != nil {
		analyzer.Bind(ctx)
		handlers.TradeFeed = handler.NewTradeFeedHandler(analyzer, a.logger)
	}
	handlers.Health = handler.NewHealthHandler(connected)
	handlers.Status = handler.NewStatusHandler(status)

	g.Go(func() error {
		return orch.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, handlers, hub, a.logger)
	g.Go(func() error {
		return srv.Run(ctx, a.cfg.Server.ShutdownTimeout.Duration)
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
