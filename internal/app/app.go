// Package app wires configuration, logging, storage, the planner and the inbox
// runner into one long-running process.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dreamplan/internal/config"
	"dreamplan/internal/eventbus"
	"dreamplan/internal/httpapi"
	"dreamplan/internal/planner"
	"dreamplan/internal/runner"
	"dreamplan/internal/runtime/supervisor"
	"dreamplan/internal/storage"
	logx "dreamplan/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	planner *planner.Service
	http    *httpapi.Service

	mu     sync.Mutex
	runner *runner.Runner
}

// NewApp loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	popts, err := mapPlannerOptions(cfg)
	if err != nil {
		closeQuiet(store)
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()
	psvc := planner.New(popts, store, bus, log.With(logx.String("comp", "planner")))

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		closeQuiet(store)
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		planner: psvc,
		http:    httpapi.New(hcfg, psvc, log.With(logx.String("comp", "http"))),
	}
	if cfg.Runner.Enabled {
		r, err := a.newRunner(cfg)
		if err != nil {
			closeQuiet(store)
			_ = logSvc.Close()
			return nil, err
		}
		a.runner = r
	}
	return a, nil
}

func closeQuiet(s storage.Store) {
	if s != nil {
		_ = s.Close()
	}
}

func (a *App) newRunner(cfg *config.Config) (*runner.Runner, error) {
	ropts, err := mapRunnerOptions(cfg)
	if err != nil {
		return nil, err
	}
	return runner.New(ropts, a.planner, a.log.With(logx.String("comp", "runner")))
}

// Planner returns the planning service.
func (a *App) Planner() *planner.Service { return a.planner }

// HTTP returns the HTTP control surface.
func (a *App) HTTP() *httpapi.Service { return a.http }

// Runner returns the inbox runner, or nil when it is disabled.
func (a *App) Runner() *runner.Runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner
}

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

// validate is the app-level hot reload check, run after config.Validate.
func validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapPlannerOptions(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if cfg.Runner.Enabled {
		if _, err := runner.ParseSchedule(cfg.Runner.Schedule); err != nil {
			return fmt.Errorf("runner.schedule: %w", err)
		}
		if _, err := mapRunnerOptions(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if r := a.Runner(); r != nil {
		if err := r.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if a.http.Enabled() {
		a.http.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		eventbus.Consume(c, events, a.logEvent)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started")
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	if d, ok := e.Data.(eventbus.ScheduleData); ok {
		fields = append(fields,
			logx.String("dream", d.DreamID),
			logx.String("run_id", d.RunID),
			logx.Int("placed", d.Placed),
			logx.Int("inserted", d.Inserted),
		)
	}
	if e.Type == eventbus.ScheduleTight {
		a.log.Info("event", fields...)
		return
	}
	a.log.Debug("event", fields...)
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("log sinks partially applied", logx.Err(err))
	}

	if popts, err := mapPlannerOptions(newCfg); err != nil {
		a.log.Warn("invalid planner config; keeping previous", logx.Err(err))
	} else {
		a.planner.Apply(popts)
	}

	a.applyRunner(ctx, newCfg)

	if hcfg, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyRunner starts, stops or reconfigures the runner to match cfg.
func (a *App) applyRunner(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !cfg.Runner.Enabled && a.runner != nil:
		a.log.Info("runner disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.runner.Stop(stopCtx); err != nil {
			a.log.Warn("runner stop", logx.Err(err))
		}
		cancel()
		a.runner = nil
	case cfg.Runner.Enabled && a.runner == nil:
		r, err := a.newRunner(cfg)
		if err != nil {
			a.log.Warn("invalid runner config; runner stays disabled", logx.Err(err))
			return
		}
		if err := r.Start(ctx); err != nil {
			a.log.Warn("runner start", logx.Err(err))
			return
		}
		a.log.Info("runner enabled via config")
		a.runner = r
	case cfg.Runner.Enabled:
		ropts, err := mapRunnerOptions(cfg)
		if err == nil {
			err = a.runner.Apply(ropts)
		}
		if err != nil {
			a.log.Warn("invalid runner config; keeping previous", logx.Err(err))
		}
	}
}

// Stop shuts components down in reverse start order. Each step is bounded so
// one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		closeQuiet(a.store)
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("runner", 3*time.Second, func(c context.Context) error {
		if r := a.Runner(); r != nil {
			return r.Stop(c)
		}
		return nil
	})
	step("http", 2*time.Second, func(c context.Context) error {
		a.http.Stop(c)
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
