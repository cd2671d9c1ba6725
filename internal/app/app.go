package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"campusbot/internal/bot"
	"campusbot/internal/broadcast"
	"campusbot/internal/config"
	"campusbot/internal/storage"
	"campusbot/internal/transport/telegram"
	"campusbot/pkg/logx"
)

const defaultRetention = 180 * 24 * time.Hour

// App wires config, storage, the Telegram adapter, the broadcast engine,
// and the command router together.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   *storage.Store
	adapter *telegram.Adapter
	engine  *broadcast.Service

	cron *cron.Cron

	stopOnce sync.Once
	cancelBG context.CancelFunc
	bgWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logConfig(cfg))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busy, _ := config.ParseDuration(cfg.Storage.BusyTimeout, 0)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	poll, _ := config.ParseDuration(cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll},
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	engine := broadcast.New(
		broadcast.Config{
			RatePerSec:         cfg.Broadcast.RatePerSec,
			MaxConcurrentPairs: cfg.Broadcast.MaxConcurrentPairs,
		},
		store, store, adminStore{st: store}, adapter,
		log.With(logx.String("comp", "broadcast")),
	)

	router := bot.New(engine, store, log.With(logx.String("comp", "router")))
	router.Attach(adapter.Bot())

	return &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		adapter: adapter,
		engine:  engine,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	// Config-file owners are superusers; seed them so authorization has a
	// single source of truth (the admin table).
	seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if err := a.store.SeedOwner(seedCtx, id); err != nil {
			return fmt.Errorf("seed owner %d: %w", id, err)
		}
	}

	a.adapter.Start()

	if cfg.Retention != nil {
		maxAge, _ := config.ParseDuration(cfg.Retention.MaxAge, defaultRetention)
		if maxAge <= 0 {
			maxAge = defaultRetention
		}
		a.cron = cron.New()
		if _, err := a.cron.AddFunc(cfg.Retention.Sweep, func() { a.sweepLedger(maxAge) }); err != nil {
			return fmt.Errorf("retention sweep spec: %w", err)
		}
		a.cron.Start()
		a.log.Info("retention sweep scheduled",
			logx.String("spec", cfg.Retention.Sweep), logx.Duration("max_age", maxAge))
	}

	bgCtx, cancelBG := context.WithCancel(context.Background())
	a.cancelBG = cancelBG

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		_ = a.cfgMgr.Watch(bgCtx, a.applyConfig)
	}()

	a.notifySystemd(bgCtx)

	a.log.Info("campusbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		if a.cancelBG != nil {
			a.cancelBG()
		}
		if a.cron != nil {
			cctx := a.cron.Stop()
			select {
			case <-cctx.Done():
			case <-ctx.Done():
			}
		}
		a.adapter.Stop(ctx)
		a.bgWG.Wait()
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.log.Info("campusbot stopped")
		_ = a.logSvc.Close()
	})
	return nil
}

// applyConfig propagates a reloaded config to the live components. Token
// and storage path changes need a restart and are left alone.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logConfig(cfg))
	a.engine.Apply(broadcast.Config{
		RatePerSec:         cfg.Broadcast.RatePerSec,
		MaxConcurrentPairs: cfg.Broadcast.MaxConcurrentPairs,
	})
}

func (a *App) sweepLedger(maxAge time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-maxAge)
	messages, receipts, err := a.store.PruneLedger(ctx, cutoff)
	if err != nil {
		a.log.Error("ledger sweep failed", logx.Err(err))
		return
	}
	a.log.Info("ledger sweep done",
		logx.Int64("messages", messages),
		logx.Int64("receipts", receipts),
		logx.Time("cutoff", cutoff))
}

// notifySystemd signals readiness and keeps the watchdog fed when running
// under systemd; it is a no-op everywhere else.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
