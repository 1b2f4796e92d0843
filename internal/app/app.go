// Package app wires peillute's services together: config, logging,
// storage, the refresh scheduler, the dashboard and maintenance.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"peillute/internal/config"
	"peillute/internal/dashboard"
	"peillute/internal/eventbus"
	"peillute/internal/maintenance"
	"peillute/internal/refresh"
	"peillute/internal/storage"
	logx "peillute/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.Store
	sched *refresh.Scheduler
	dash  *dashboard.Dashboard
	maint *maintenance.Service

	watcher *config.Watcher

	mu          sync.Mutex
	started     bool
	cancelBg    context.CancelFunc
	bgDone      sync.WaitGroup
	busUnsub    func()
	watchdogSub *refresh.Handle
}

func NewApp(cfgPath string) (*App, error) {
	cfg, err := config.Parse(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		Node:        cfg.Node,
		BusyTimeout: cfg.StorageBusyTimeout(),
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	sched := refresh.NewScheduler(logSvc.Logger().With(logx.String("comp", "refresh")), bus)

	a := &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
		maint: maintenance.New(maintenance.Config{
			Enabled:  cfg.Maintenance.Enabled,
			Schedule: cfg.Maintenance.Schedule,
			Keep:     cfg.MaintenanceKeep(),
		}, store, logSvc.Logger().With(logx.String("comp", "maintenance"))),
	}

	// Hot reload currently applies logging changes only; interval or
	// storage changes need a restart.
	a.watcher = config.NewWatcher(cfgPath, logSvc.Logger().With(logx.String("comp", "config")), func(next *config.Config) {
		a.logs.Apply(next.LogConfig())
	})
	return a, nil
}

// Dashboard is available after Start.
func (a *App) Dashboard() *dashboard.Dashboard { return a.dash }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	dash, err := dashboard.Mount(a.sched, a.logs.Logger().With(logx.String("comp", "dashboard")), a.store, dashboard.Intervals{
		Users:        a.cfg.UsersInterval(),
		Balance:      a.cfg.BalanceInterval(),
		Transactions: a.cfg.TransactionsInterval(),
		Status:       a.cfg.StatusInterval(),
	})
	if err != nil {
		return fmt.Errorf("mount dashboard: %w", err)
	}
	a.dash = dash

	if err := a.maint.Start(); err != nil {
		dash.Close()
		return err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel

	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		if err := a.watcher.Run(bgCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	a.watcher.Prime()

	// Surface refresh failures on the bus at debug level; the scheduler
	// already rate-limits its own warn logs.
	ch, unsub := a.bus.Subscribe(64)
	a.busUnsub = unsub
	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		for {
			select {
			case <-bgCtx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if e.Type == refresh.EventFetchFailed {
					a.log.Debug("refresh failure event", logx.Any("data", e.Data))
				}
			}
		}
	}()

	a.notifySystemd()

	a.started = true
	a.log.Info("peillute started", logx.String("config", a.cfgPath), logx.String("node", a.cfg.Node))
	return nil
}

// notifySystemd reports readiness and, when the unit has a watchdog,
// keeps it fed through a regular refresh subscription.
func (a *App) notifySystemd() {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready")
	}

	wd, err := daemon.SdWatchdogEnabled(false)
	if err != nil || wd <= 0 {
		return
	}
	// Ping at half the watchdog window, as systemd recommends.
	h, err := a.sched.Every("systemd/watchdog", wd/2, func(context.Context) error {
		_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		return err
	})
	if err != nil {
		a.log.Warn("watchdog subscription failed", logx.Err(err))
		return
	}
	a.watchdogSub = h
	a.log.Info("systemd watchdog armed", logx.Duration("interval", wd/2))
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("peillute stopping")

	if a.watchdogSub != nil {
		a.watchdogSub.Cancel()
		a.watchdogSub = nil
	}
	if a.cancelBg != nil {
		a.cancelBg()
		a.cancelBg = nil
	}
	if a.busUnsub != nil {
		a.busUnsub()
		a.busUnsub = nil
	}

	stopCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	if a.dash != nil {
		a.dash.Close()
		a.dash = nil
	}
	a.maint.Stop(stopCtx)
	a.sched.Close()
	a.bgDone.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("peillute stopped")
	return a.logs.Close()
}
