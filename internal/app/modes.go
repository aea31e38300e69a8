package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradegate/internal/classify"
	"github.com/alanyoungcy/tradegate/internal/crypto"
	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/engine"
	"github.com/alanyoungcy/tradegate/internal/executor"
	"github.com/alanyoungcy/tradegate/internal/feed"
	"github.com/alanyoungcy/tradegate/internal/ledger"
	"github.com/alanyoungcy/tradegate/internal/metrics"
	"github.com/alanyoungcy/tradegate/internal/payment"
	"github.com/alanyoungcy/tradegate/internal/pipeline"
	"github.com/alanyoungcy/tradegate/internal/risk"
	"github.com/alanyoungcy/tradegate/internal/server"
	"github.com/alanyoungcy/tradegate/internal/server/handler"
	"github.com/alanyoungcy/tradegate/internal/server/ws"
	"github.com/alanyoungcy/tradegate/internal/service"
	"github.com/alanyoungcy/tradegate/internal/source"
)

const shutdownTimeout = 10 * time.Second

// core is the running decision engine and everything hanging off it.
type core struct {
	engine  *engine.Engine
	meter   *payment.Meter
	risk    *service.RiskService
	metrics *metrics.Metrics
}

// FullMode runs the engine, the HTTP/websocket API and, when enabled, the
// archive cron.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.engine.Run(ctx) })
	a.runFeed(ctx, g, deps)

	job := a.archiveJob(deps, c.metrics)
	if job != nil {
		g.Go(func() error { return job.RunCron(ctx, a.cfg.Archive.Cron) })
	}
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, c.engine.Status, a.cfg.Server.CORSOrigins, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
		a.serve(ctx, g, a.engineHandlers(deps, c, job), hub, deps)
	}
	return g.Wait()
}

// EngineMode runs only the decision loop. It follows limit changes made by
// a separate API process and, when the server is enabled, exposes health,
// status and metrics.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.engine.Run(ctx) })
	g.Go(func() error { return c.risk.Follow(ctx) })
	a.runFeed(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.serve(ctx, g, server.Handlers{
			Health:  handler.NewHealthHandler(deps.Probes, a.logger),
			Status:  handler.NewStatusHandler(a.cfg.Mode, c.engine),
			Metrics: c.metrics.Handler(),
		}, nil, deps)
	}
	return g.Wait()
}

// ServerMode serves the API over persisted state without running ticks.
// Limit changes are saved and published for engine processes to follow.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	holder, err := risk.NewLimitsHolder(a.cfg.Risk)
	if err != nil {
		return fmt.Errorf("app: risk limits: %w", err)
	}
	riskSvc := service.NewRiskService(service.NewDetachedLimits(holder),
		deps.RiskLimitsStore, deps.AuditStore, deps.SignalBus, deps.Notifier, a.logger)
	if err := riskSvc.Bootstrap(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	hub := ws.NewHub(deps.SignalBus, nil, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	h := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Probes, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, nil),
		Decisions: handler.NewDecisionHandler(nil, deps.DecisionStore, a.logger),
		Positions: handler.NewPositionHandler(nil, deps.PositionStore, a.logger),
		Risk:      handler.NewRiskHandler(riskSvc, a.logger),
	}
	if deps.BlobReader != nil {
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, nil, a.logger)
	}
	a.serve(ctx, g, h, hub, deps)
	return g.Wait()
}

// ArchiveMode performs one archive run and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode needs s3 and postgres")
	}
	job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger,
		pipeline.WithArchiveNotifier(deps.Notifier))
	_, err := job.Run(ctx)
	return err
}

// buildCore assembles the engine: executor, signal source, ledger (restored
// from the position store), sinks and the risk service.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	cfg := a.cfg
	m := metrics.New()

	var meter *payment.Meter
	if cfg.Payment.Enabled {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Payment.ChainID)
		if err != nil {
			return nil, fmt.Errorf("app: payment signer: %w", err)
		}
		meter = payment.NewMeter(payment.Config{
			Budget:   cfg.Payment.Budget,
			TickCost: cfg.Payment.TickCost,
			PayTo:    cfg.Payment.PayTo,
			Asset:    cfg.Payment.Asset,
			ChainID:  cfg.Payment.ChainID,
		}, a.logger, payment.WithSigner(signer), payment.WithAudit(deps.AuditStore))
		m.RegisterBudget(func() float64 { return meter.Summary().Remaining })
		a.logger.Info("payment meter enabled",
			slog.String("payer", signer.Address().Hex()),
			slog.Float64("budget", cfg.Payment.Budget),
		)
	}

	srcOpts := []source.Option{source.WithHistory(deps.PriceCache)}
	if meter != nil {
		srcOpts = append(srcOpts, source.WithMeter(meter))
	}
	signals := source.New(source.Config{
		Assets:       cfg.Engine.Assets,
		ResearchCost: cfg.Signals.ResearchCost,
		HistoryLen:   cfg.Signals.CorrelationWindow,
	}, deps.SignalCache, deps.PriceCache, deps.AccountCache, a.logger, srcOpts...)

	var (
		exec     domain.OrderExecutor
		accounts domain.AccountSource = signals
		paper    *executor.PaperExecutor
	)
	switch cfg.Executor.Kind {
	case "http":
		exec = executor.NewHTTP(executor.HTTPConfig{
			BaseURL:   cfg.Executor.BaseURL,
			APIKey:    cfg.Executor.APIKey,
			APISecret: cfg.Executor.APISecret,
			Timeout:   cfg.Executor.Timeout.Duration,
		}, a.logger, executor.WithRateLimiter(deps.ExecLimiter))
	default:
		paper = executor.NewPaper(executor.PaperConfig{
			Venue:           cfg.Engine.Venue,
			StartingBalance: cfg.Executor.StartingBalance,
			FeeBps:          cfg.Executor.FeeBps,
		}, a.logger, executor.WithPriceCache(deps.PriceCache), executor.WithAccountPublisher(deps.AccountCache))
		exec, accounts = paper, paper
	}

	classifier, err := classify.NewClassifier(cfg.Engine.ExecuteThreshold, cfg.Engine.MonitorThreshold)
	if err != nil {
		return nil, fmt.Errorf("app: classifier: %w", err)
	}
	limits, err := risk.NewLimitsHolder(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("app: risk limits: %w", err)
	}

	lcfg := ledger.DefaultConfig(cfg.Engine.TickInterval.Duration)
	lcfg.CooldownDuration = cfg.Engine.Cooldown()
	lcfg.HysteresisMargin = cfg.Engine.HysteresisMargin
	lcfg.StopLossPct = cfg.Engine.StopLossPct
	lcfg.TakeProfitPct = cfg.Engine.TakeProfitPct
	lcfg.MaxConsecutiveFailures = cfg.Engine.MaxConsecutiveFailures
	lcfg.CallTimeout = cfg.Engine.Timeout()
	book := ledger.New(exec, lcfg, a.logger)

	positions := service.NewPositionService(deps.PositionStore, deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger)
	restored, err := positions.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if len(restored) > 0 {
		book.Restore(restored)
		if paper != nil {
			paper.Restore(restored)
		}
		a.logger.Info("positions restored", slog.Int("count", len(restored)))
	}

	opts := []engine.Option{
		engine.WithSinks(service.NewDecisionRecorder(deps.DecisionStore, deps.SignalBus, a.logger), positions, m),
	}
	if meter != nil {
		opts = append(opts, engine.WithTickPayer(meter))
	}
	if cfg.Engine.Narrate {
		opts = append(opts, engine.WithNarrator(engine.RuleNarrator{}))
	}
	if cfg.Engine.DistributedLock {
		opts = append(opts, engine.WithLockManager(deps.LockManager))
	}
	eng := engine.New(engine.Config{
		Mode:           cfg.Executor.Kind,
		Assets:         cfg.Engine.Assets,
		Venue:          cfg.Engine.Venue,
		TickInterval:   cfg.Engine.TickInterval.Duration,
		CallTimeout:    cfg.Engine.Timeout(),
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		MaxSignalAge:   cfg.Engine.MaxSignalAge.Duration,
		RiskPerTrade:   cfg.Engine.RiskPerTrade,
		Leverage:       cfg.Engine.Leverage,
		AuditCapacity:  cfg.Engine.AuditCapacity,
	}, signals, accounts, classifier, book, limits, a.logger, opts...)

	riskSvc := service.NewRiskService(eng, deps.RiskLimitsStore, deps.AuditStore, deps.SignalBus, deps.Notifier, a.logger,
		service.WithHaltCleared(m.HaltCleared))
	if err := riskSvc.Bootstrap(ctx); err != nil {
		return nil, err
	}

	return &core{engine: eng, meter: meter, risk: riskSvc, metrics: m}, nil
}

// engineHandlers is the complete API for a process running the engine.
func (a *App) engineHandlers(deps *Dependencies, c *core, job *pipeline.ArchiveJob) server.Handlers {
	h := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Probes, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, c.engine),
		Decisions: handler.NewDecisionHandler(c.engine, deps.DecisionStore, a.logger),
		Positions: handler.NewPositionHandler(c.engine, deps.PositionStore, a.logger),
		Risk:      handler.NewRiskHandler(c.risk, a.logger),
		Tick:      handler.NewTickHandler(c.engine, a.logger),
		Metrics:   c.metrics.Handler(),
	}
	if c.meter != nil {
		h.Payment = handler.NewPaymentHandler(c.meter, a.logger)
	}
	if deps.BlobReader != nil {
		var trigger handler.ArchiveJob
		if job != nil {
			trigger = job
		}
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, trigger, a.logger)
	}
	return h
}

// archiveJob returns the cron job when archiving is enabled and possible.
func (a *App) archiveJob(deps *Dependencies, m *metrics.Metrics) *pipeline.ArchiveJob {
	if !a.cfg.Archive.Enabled {
		return nil
	}
	if deps.Archiver == nil {
		a.logger.Warn("archive enabled but s3 or postgres is not; archiving disabled")
		return nil
	}
	return pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger,
		pipeline.WithArchiveNotifier(deps.Notifier),
		pipeline.WithArchiveObserver(m),
	)
}

// runFeed starts the upstream mark and signal feed when one is configured.
func (a *App) runFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Signals.FeedURL == "" {
		return
	}
	f := feed.New(a.cfg.Signals.FeedURL, a.cfg.Engine.Assets, deps.PriceCache, deps.SignalCache, a.logger)
	g.Go(func() error { return f.Run(ctx) })
}

// serve runs the API server in g and shuts it down when ctx ends.
func (a *App) serve(ctx context.Context, g *errgroup.Group, h server.Handlers, hub *ws.Hub, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
