package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"cronjob/internal/clock"
	"cronjob/internal/config"
	"cronjob/internal/eventbus"
	"cronjob/internal/flow"
	"cronjob/internal/notifier"
	"cronjob/internal/runtime/supervisor"
	"cronjob/internal/storage"
	"cronjob/internal/task/scheduler"
	"cronjob/internal/task/timer"
	logx "cronjob/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	clock   *clock.Clock
	cards   map[string]*flow.Card
	notif   *notifier.Notifier
	factory *timer.CronFactory
	sched   *scheduler.Service

	// schedMu guards the running scheduler loop; it is started and stopped
	// by Start, config reloads and Stop.
	schedMu     sync.Mutex
	stopping    bool
	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("run journal enabled", logx.String("driver", sc.Driver))
	}

	debounce, err := config.ParseDurationField("scheduler.refresh_debounce", cfg.Scheduler.RefreshDebounce)
	if err != nil {
		return nil, err
	}

	tickTimeout, err := config.ParseDurationField("scheduler.tick_timeout", cfg.Scheduler.TickTimeout)
	if err != nil {
		return nil, err
	}

	clk := clock.New(cfg.Clock.Timezone, clock.WithLogger(log.With(logx.String("comp", "clock"))))

	cards := newCards(log.With(logx.String("comp", "flow")), bus, store)
	applyFlows(cards, cfg, log)

	notif := notifier.New(
		notifier.WithLogger(log.With(logx.String("comp", "notifier"))),
		notifier.WithBus(bus),
		notifier.WithTimeout(tickTimeout),
	)
	sources := make([]scheduler.ArgumentSource, 0, len(cards))
	for _, c := range sortedCards(cards) {
		notif.Register(c)
		sources = append(sources, c)
	}

	factory := timer.NewCronFactory(context.Background())
	sched := scheduler.New(scheduler.Config{
		Enabled:         cfg.Scheduler.Enabled,
		RefreshDebounce: debounce,
	}, clk, factory, notif, log.With(logx.String("comp", "scheduler")), bus)
	sched.AddSources(sources...)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		clock:   clk,
		cards:   cards,
		notif:   notif,
		factory: factory,
		sched:   sched,
	}, nil
}

// Scheduler exposes the reconciliation driver (snapshots, tests).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store returns the run journal, or nil when disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// Tick callbacks inherit the app context; no timer exists yet.
	a.factory.Context = a.sup.Context()

	cfg := a.cfgm.Get()
	logInvalidSchedules(cfg, a.log)

	a.sup.Go0("eventbus.log", func(c context.Context) {
		_ = eventbus.Drain(c, a.bus, 128, func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		})
	})

	if cfg.Clock.WatchLocal {
		a.sup.GoRestart("clock.watch", a.clock.Watch)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.sched.Enabled() {
		a.startScheduler()
	} else {
		a.log.Info("scheduler disabled via config")
	}

	a.log.Info("app started",
		logx.String("tz", a.clock.Timezone()),
		logx.Int("flows", len(cfg.Flows)),
		logx.Bool("scheduler", a.sched.Enabled()),
	)
	return nil
}

func (a *App) startScheduler() {
	a.schedMu.Lock()
	defer a.schedMu.Unlock()
	if a.stopping || a.schedCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.sup.Context())
	done := make(chan struct{})
	a.schedCancel, a.schedDone = cancel, done
	a.sup.Go("scheduler", func(context.Context) error {
		defer close(done)
		return a.sched.Run(ctx)
	})
}

// stopScheduler cancels the scheduler loop and waits until it has stopped
// every timer, or ctx is done.
func (a *App) stopScheduler(ctx context.Context) error {
	a.schedMu.Lock()
	cancel, done := a.schedCancel, a.schedDone
	a.schedCancel, a.schedDone = nil, nil
	a.schedMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, flowsChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(flowsChanged) > 0 {
		a.log.Debug("flow changes detected", logx.Strs("flows", flowsChanged))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if strings.TrimSpace(oldCfg.Scheduler.RefreshDebounce) != strings.TrimSpace(newCfg.Scheduler.RefreshDebounce) {
		a.log.Warn("scheduler.refresh_debounce changed; restart required for changes to take effect")
	}
	if strings.TrimSpace(oldCfg.Scheduler.TickTimeout) != strings.TrimSpace(newCfg.Scheduler.TickTimeout) {
		a.log.Warn("scheduler.tick_timeout changed; restart required for changes to take effect")
	}
	if oldCfg.Clock.WatchLocal != newCfg.Clock.WatchLocal {
		a.log.Warn("clock.watch_local changed; restart required for changes to take effect")
	}

	// Each of these signals the scheduler loop, which runs the pass.
	a.clock.SetConfigured(newCfg.Clock.Timezone)
	applyFlows(a.cards, newCfg, a.log)
	logInvalidSchedules(newCfg, a.log)

	switch {
	case oldCfg.Scheduler.Enabled && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.stopScheduler(stopCtx); err != nil {
			a.log.Warn("scheduler stop timed out", logx.Err(err))
		}
		cancel()
	case !oldCfg.Scheduler.Enabled && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.startScheduler()
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))

	a.schedMu.Lock()
	a.stopping = true
	a.schedMu.Unlock()

	// Stop timers first so no tick fires into a half-stopped app.
	a.step(ctx, "scheduler", 3*time.Second, a.stopScheduler)

	a.sup.Cancel()
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Int64("events_dropped", int64(eventbus.Dropped(a.bus))))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so a stuck component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
