package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealbot/internal/catalog/aliexpress"
	"dealbot/internal/config"
	"dealbot/internal/control"
	"dealbot/internal/distribution"
	"dealbot/internal/eventbus"
	"dealbot/internal/runtime/supervisor"
	"dealbot/internal/shortener/tinyurl"
	"dealbot/internal/storage"
	"dealbot/internal/task/scheduler"
	telegram "dealbot/internal/transport/telegram/adapter"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	sd   systemd.Notifier

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	registry *distribution.Registry
	runState *distribution.RunState
	ledger   *distribution.Ledger
	cycle    *distribution.Cycle
	sched    *scheduler.Service
	stats    *distribution.Stats
	ctrlCfg  control.Config
	ctrl     *control.Dispatcher
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapTelegramConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging stays off until the target chat is set, otherwise
	// Apply warns about a missing group.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if chatID, _ := cfg.Telegram.GroupLogID(); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
	}
	if err := a.build(cfg, log); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	catCfg, err := mapCatalogConfig(cfg)
	if err != nil {
		return err
	}
	catalog, err := aliexpress.New(catCfg, log.With(logx.String("comp", "catalog")))
	if err != nil {
		return err
	}
	shortCfg, err := mapShortenerConfig(cfg)
	if err != nil {
		return err
	}
	cycleCfg, err := mapCycleConfig(cfg)
	if err != nil {
		return err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	if a.ctrlCfg, err = mapControlConfig(cfg); err != nil {
		return err
	}

	if a.registry, err = distribution.NewRegistry(mapPolicies(cfg)); err != nil {
		return err
	}
	a.runState = distribution.NewRunState(!cfg.Distribution.Paused)
	a.ledger = distribution.NewLedger(cfg.Distribution.LedgerSize)
	a.stats = distribution.NewStats(time.Now())

	rnd := distribution.NewRandom()
	a.cycle = distribution.NewCycle(distribution.CycleDeps{
		Catalog:   catalog,
		Publisher: a.adapter,
		Shortener: tinyurl.New(shortCfg, log.With(logx.String("comp", "shortener"))),
		Ledger:    a.ledger,
		Store:     a.store,
		Bus:       a.bus,
		Log:       log.With(logx.String("comp", "cycle")),
		Random:    rnd,
	}, cycleCfg)

	a.sched = scheduler.New(schedCfg, scheduler.Deps{
		Registry: a.registry,
		RunState: a.runState,
		Runner:   a.cycle,
		Bus:      a.bus,
		Log:      log,
		Random:   rnd,
	})
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	ctrl, err := control.New(a.ctrlCfg, control.Deps{
		Adapter:  a.adapter,
		Registry: a.registry,
		RunState: a.runState,
		Ledger:   a.ledger,
		Cycle:    a.cycle,
		Ticker:   a.sched,
		Stats:    a.stats,
		Store:    a.store,
		Bus:      a.bus,
		Spawner:  a.sup,
		Log:      a.logs.Logger(),
	})
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	if err := a.sched.AddReport("stats", a.ctrl.Report); err != nil {
		return err
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// only live sections need to map cleanly; the rest waits for a restart
		_, err := mapControlConfig(cfg)
		return err
	})

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("stats.collect", func(c context.Context) {
		defer unsub()
		a.stats.Collect(c, events)
	})
	statusEvents, statusUnsub := a.bus.Subscribe(16)
	a.sup.Go0("systemd.status", func(c context.Context) {
		defer statusUnsub()
		a.followStatus(c, statusEvents)
	})

	a.sup.Go("scheduler.loop", a.sched.Run)
	a.sup.GoRestart("control.poll", a.ctrl.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(false),
	)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if iv := a.sd.WatchdogInterval(); iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.Watchdog(c, iv, func() bool { return a.sup.Err() == nil })
		})
	}
	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Int("channels", a.registry.Len()),
		logx.Int("active", a.registry.ActiveCount()),
		logx.Bool("running", a.runState.Active()),
		logx.Int("ledger_cap", a.ledger.Cap()),
	)
	return nil
}

// followStatus mirrors tick outcomes into the systemd status line.
func (a *App) followStatus(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TickDone {
				continue
			}
			res, ok := e.Data.(scheduler.TickResult)
			if !ok {
				continue
			}
			line := fmt.Sprintf("last tick %s: %d sent", e.Time.Format(time.RFC3339), res.Sent())
			if res.Paused {
				line = "paused"
			}
			_, _ = a.sd.Status(line)
		}
	}
}

// reloadLoop applies hot-reloadable sections: logging and operators.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(prev, cfg *config.Config) {
	ch := config.SummarizeChange(prev, cfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	// target first so Apply does not warn about a missing group
	chatID, _ := cfg.Telegram.GroupLogID()
	a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(cfg))

	if cc, err := mapControlConfig(cfg); err == nil {
		a.ctrl.SetOperators(cc.Operators)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// unwind background loops right away
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := a.stopStep(ctx, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// scheduler, control loop and test runs all live under the supervisor
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("events_dropped", eventbus.Dropped(a.bus)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// stopStep runs fn bounded by limit and the caller's deadline. A step that
// overruns is logged and left behind.
func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return stepCtx.Err()
	}
}
