package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"clockd/internal/config"
	"clockd/internal/device"
	"clockd/internal/eventbus"
	"clockd/internal/scheduler"
	"clockd/internal/server"
	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

const defaultTimezone = "America/Tijuana"

// App wires configuration, storage, the scheduler and the admin API into one
// process with config hot-reload.
type App struct {
	cfgm *config.Manager

	logSvc *logx.Service
	log    logx.Logger

	bus        eventbus.Bus
	store      storage.Store
	dispatcher *device.Dispatcher
	sched      *scheduler.Service
	srv        *server.Server

	autostart bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	srvErr chan error
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	dispatchTimeout, err := config.DurationOr("device.dispatch_timeout", cfg.Device.DispatchTimeout, 12*time.Second)
	if err != nil {
		return nil, err
	}
	probeTimeout, err := config.DurationOr("device.probe_timeout", cfg.Device.ProbeTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	dispatcher := device.NewDispatcher(device.Options{
		DispatchTimeout: dispatchTimeout,
		ProbeTimeout:    probeTimeout,
	}, log.With(logx.String("comp", "device")))

	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	sched := scheduler.New(scheduler.Options{
		Timezone:   tz,
		Store:      store,
		Dispatcher: dispatcher,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "scheduler")),
	})

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	srv := server.New(srvCfg, server.Deps{
		Scheduler: sched,
		Store:     store,
		Log:       log.With(logx.String("comp", "server")),
	})

	return &App{
		cfgm:       cfgm,
		logSvc:     logSvc,
		log:        log,
		bus:        bus,
		store:      store,
		dispatcher: dispatcher,
		sched:      sched,
		srv:        srv,
		autostart:  cfg.Scheduler.Autostart,
		srvErr:     make(chan error, 1),
	}, nil
}

// Done reports a fatal listener error, if any. The channel yields at most one
// error and never closes.
func (a *App) Done() <-chan error { return a.srvErr }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if a.autostart {
		if n, err := a.sched.Start(runCtx); err != nil {
			a.log.Error("scheduler autostart failed", logx.Err(err))
		} else {
			a.log.Info("scheduler autostarted", logx.Int("schedules", n))
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.Start(); err != nil {
			a.log.Error("admin api failed", logx.Err(err))
			select {
			case a.srvErr <- err:
			default:
			}
		}
	}()

	// Execution events at debug level for operational tracing.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("execution event",
					logx.String("schedule", e.ScheduleName),
					logx.Bool("success", e.Success),
					logx.Bool("manual", e.Manual),
					logx.Duration("took", e.Took),
				)
			}
		}
	}()

	// Config hot-reload fan-in.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(runCtx, last, newCfg)
				last = newCfg
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case "storage", "server", "auth":
			a.log.Warn("config section changed; restart required to take effect",
				logx.String("section", s))
		}
	}

	a.logSvc.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	tz := strings.TrimSpace(newCfg.Scheduler.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	if err := a.sched.Apply(ctx, tz); err != nil {
		a.log.Warn("scheduler timezone change failed; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.cancel != nil {
		a.cancel()
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.sched.Stop(stopCtx)

	if err := a.srv.Shutdown(stopCtx); err != nil {
		a.log.Warn("admin api shutdown", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}

	a.wg.Wait()
	a.log.Info("stopped")
	if a.logSvc != nil {
		a.logSvc.Close()
	}
	return nil
}
