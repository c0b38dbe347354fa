// Package bootstrap assembles the application: config, logging, telemetry,
// durable store, price engine, live server and backup scheduler, with a
// single graceful-shutdown path.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"taproom/internal/alert"
	"taproom/internal/api"
	"taproom/internal/backup"
	"taproom/internal/broadcast"
	"taproom/internal/config"
	"taproom/internal/core"
	"taproom/internal/infrastructure/health"
	"taproom/internal/infrastructure/metrics"
	"taproom/internal/model"
	"taproom/internal/pricing"
	"taproom/internal/store"
	"taproom/internal/validate"
	"taproom/pkg/concurrency"
	"taproom/pkg/liveserver"
	"taproom/pkg/logging"
	"taproom/pkg/telemetry"
)

// App holds the composed application.
type App struct {
	Config    *config.Config
	Logger    core.ILogger
	Backups   *backup.Store
	State     *store.StateStore
	Engine    *pricing.Engine
	Hub       *liveserver.Hub
	Server    *liveserver.Server
	Alerts    *alert.AlertManager
	Health    *health.HealthManager
	Scheduler *backup.Manager
	Restorer  *backup.Restorer

	zapLogger     *logging.ZapLogger
	telemetry     *telemetry.Telemetry
	pool          *concurrency.WorkerPool
	metricsServer *metrics.Server
}

// NewApp builds the application from configuration. No goroutines are
// started; Run does that.
func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zapLogger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger := zapLogger.WithField("service", "taproom")

	tel, err := telemetry.Setup("taproom")
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	backups, err := backup.NewStore(cfg.Data.BackupDir, logger)
	if err != nil {
		return nil, err
	}

	seed, err := seedSnapshot(cfg, backups, logger)
	if err != nil {
		return nil, err
	}

	state := store.NewStateStore(seed, backups, logger)

	hub := liveserver.NewHub(logger)
	server := liveserver.NewServer(hub, logger, cfg.Server.AllowedOrigins)
	server.SetStaticDir(cfg.Server.StaticDir)
	server.SetProduction(cfg.Server.Production)
	server.SetMaxConnections(cfg.Server.MaxConnections)
	server.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "broadcast",
		MaxWorkers:  cfg.Concurrency.BroadcastPoolSize,
		MaxCapacity: cfg.Concurrency.BroadcastPoolBuffer,
		NonBlocking: true,
	}, logger)

	broadcaster := broadcast.New(server, pool, logger)
	engine := pricing.NewEngine(state, broadcaster, logger)

	alerts := alert.NewAlertManager(logger)
	if cfg.Alerts.Enabled {
		if cfg.Alerts.SlackWebhookURL != "" {
			alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL.Value()))
		}
		if cfg.Alerts.TelegramBotToken != "" {
			alerts.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken.Value(), cfg.Alerts.TelegramChatID))
		}
	}

	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("state_store", state.Healthy)
	healthMgr.Register("backup_store", backups.Healthy)
	healthMgr.Register("snapshot", func() error {
		snap := state.Read()
		if !snap.VerifyChecksum() {
			return errors.New("committed snapshot checksum mismatch")
		}
		return validate.Snapshot(snap)
	})
	server.SetHealthFunc(func() (bool, map[string]string) {
		return healthMgr.IsHealthy(), healthMgr.GetStatus()
	})

	restorer := backup.NewRestorer(backups, state, &restoreNotifier{alerts: alerts, health: healthMgr}, logger)

	scheduler := backup.NewManager(backup.ManagerConfig{
		Enabled:       cfg.Data.AutoBackup,
		Schedule:      cfg.Data.BackupSchedule,
		RetentionDays: cfg.Data.RetentionDays,
		MaxCount:      cfg.Data.MaxBackups,
	}, backups, state, logger)

	apiLayer := api.New(state, engine, backups, restorer, broadcaster, logger)
	server.SetAPIHandler(apiLayer.Handler())
	server.SetInitialState(func() (liveserver.Message, bool) {
		return liveserver.NewStateSnapshotMessage(apiLayer.StateSnapshot()), true
	})

	var metricsServer *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Backups:   backups,
		State:     state,
		Engine:    engine,
		Hub:       hub,
		Server:    server,
		Alerts:    alerts,
		Health:    healthMgr,
		Scheduler: scheduler,
		Restorer:  restorer,

		zapLogger:     zapLogger,
		telemetry:     tel,
		pool:          pool,
		metricsServer: metricsServer,
	}, nil
}

// seedSnapshot loads the most recent backup, or seeds and persists the
// default board when the directory is empty. A corrupted newest backup is a
// hard startup failure: silently discarding operator data is worse than
// refusing to boot.
func seedSnapshot(cfg *config.Config, backups *backup.Store, logger core.ILogger) (*model.Snapshot, error) {
	snap, name, err := backups.LoadMostRecent()
	if err != nil {
		return nil, fmt.Errorf("most recent backup %q is unusable: %w", name, err)
	}
	if snap != nil {
		logger.Info("Loaded state from backup", "backup", name, "drinks", len(snap.Drinks))
		return snap, nil
	}

	if !cfg.Data.SeedOnEmptyDir {
		return nil, errors.New("no backups found and seeding is disabled")
	}

	snap = model.DefaultSnapshot(time.Now())
	if err := backups.PersistCurrent(snap); err != nil {
		return nil, fmt.Errorf("failed to persist seed snapshot: %w", err)
	}
	logger.Info("Seeded default board", "drinks", len(snap.Drinks))
	return snap, nil
}

// Run starts every component and blocks until a termination signal or a
// fatal component error, then shuts everything down in reverse order.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return a.Server.Start(ctx, a.Config.ListenAddr())
	})

	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	if a.Config.Engine.AutoStart {
		if err := a.Engine.Start(ctx); err != nil {
			return err
		}
	}

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}

	a.Logger.Info("Taproom started",
		"addr", a.Config.ListenAddr(),
		"backup_dir", a.Backups.Dir(),
		"auto_backup", a.Config.Data.AutoBackup)

	err := g.Wait()
	a.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) shutdown() {
	a.Logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Engine.Running() {
		if err := a.Engine.Stop(); err != nil {
			a.Logger.Warn("Engine stop failed", "error", err.Error())
		}
	}
	if err := a.Scheduler.Stop(shutdownCtx); err != nil {
		a.Logger.Warn("Backup scheduler stop failed", "error", err.Error())
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(shutdownCtx); err != nil {
			a.Logger.Warn("Metrics server stop failed", "error", err.Error())
		}
	}
	a.pool.Stop()

	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err.Error())
	}
	_ = a.zapLogger.Sync()
}

// restoreNotifier routes restore alerts to the alert channels and pins a
// sticky health flag so /health reflects a failed rollback until restart.
type restoreNotifier struct {
	alerts *alert.AlertManager
	health *health.HealthManager
}

func (n *restoreNotifier) Notify(severity, title, message string) {
	n.alerts.Notify(severity, title, message)
	if severity == "critical" {
		n.health.SetFlag("restore", errors.New(title+": "+message))
	}
}
