package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"belltower/internal/actuator"
	"belltower/internal/bell"
	"belltower/internal/clock"
	"belltower/internal/config"
	"belltower/internal/core"
	"belltower/internal/jobs"
	"belltower/internal/runtime/supervisor"
	"belltower/internal/schedule"
	"belltower/internal/storage"
	"belltower/internal/transport/httpapi"
	"belltower/internal/transport/telegram"
	logx "belltower/pkg/logx"
)

const defaultRingRetention = 720 * time.Hour // 30 days

// App assembles the tower: playback engine, schedule matcher, clock
// chain, persistence, background jobs and the control surfaces.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	logs *logx.Service
	log  logx.Logger

	store  storage.Store
	driver actuator.Driver
	ctl    *bell.Controller
	chain  *clock.Chain
	ckpt   *clock.CheckpointSource
	match  *schedule.Matcher
	svc    *core.Service

	runner *jobs.Runner
	api    *httpapi.Server
	bot    *telegram.Bot

	tickInterval time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgPath: cfgPath, cfgm: cfgm, logs: logs, log: log}
	if err := a.build(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	base := a.logs.Logger()

	// Persistence (optional).
	var storeCfg storage.Config
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		storeCfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	}
	store, err := storage.Open(storeCfg, base.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	// Actuator.
	driver, err := actuator.Open(cfg.Bells, base.With(logx.String("comp", "actuator")))
	if err != nil {
		return err
	}
	a.driver = driver

	// Melody catalog: persisted slots win; an empty tower gets the
	// canonical defaults.
	melodies := bell.NewStore()
	if store != nil {
		records, err := store.LoadMelodies(context.Background())
		if err != nil {
			a.log.Warn("melody load failed; starting from defaults", logx.Err(err))
		} else if len(records) > 0 {
			core.RestoreMelodies(melodies, records)
		}
	}
	if melodies.ActiveCount() == 0 {
		melodies.LoadDefaults()
		a.log.Info("default melodies loaded")
	}
	a.ctl = bell.NewController(melodies, driver, base.With(logx.String("comp", "bells")))
	if cfg.Bells.AutoEnableOn() {
		a.ctl.SetEnabled(true)
		a.log.Info("ringing system auto-enabled")
	}

	tick, err := config.ParseDurationOrDefault("bells.tick_interval", cfg.Bells.TickInterval, core.DefaultTickInterval)
	if err != nil {
		return err
	}
	a.tickInterval = tick

	// Clock chain: system time first, last checkpoint next, fixed
	// fallback always last.
	a.chain = clock.NewChain(base.With(logx.String("comp", "clock")))
	sys, err := clock.NewSystemSource(cfg.Schedule.Timezone)
	if err != nil {
		return err
	}
	a.chain.Prepend(sys, clock.Live)
	if p := strings.TrimSpace(cfg.Clock.CheckpointPath); p != "" {
		a.ckpt = clock.NewCheckpointSource(p)
		a.chain.Append(a.ckpt, clock.Recovered)
	}

	// Schedule matcher.
	if cfg.Schedule.Enabled {
		var saver schedule.Saver
		if store != nil {
			saver = store
		}
		a.match = schedule.NewMatcher(a.ctl, a.chain, saver, base.With(logx.String("comp", "schedule")))
		a.match.SetTrustFallback(cfg.Schedule.TrustFallbackTime)
		if store != nil {
			weekly, special, err := store.LoadSchedules(context.Background())
			if err != nil {
				a.log.Warn("schedule load failed; starting empty", logx.Err(err))
			} else {
				a.match.Restore(weekly, special)
			}
		}
	}

	a.svc = core.NewService(a.ctl, a.match, store, a.chain, base.With(logx.String("comp", "service")))

	// Background jobs.
	runner, err := jobs.New(base.With(logx.String("comp", "jobs")), cfg.Schedule.Timezone)
	if err != nil {
		return err
	}
	if a.match != nil {
		every, err := config.ParseDurationOrDefault("schedule.evaluate_every", cfg.Schedule.EvaluateEvery, 30*time.Second)
		if err != nil {
			return err
		}
		if err := runner.Every("schedule.evaluate", every, func(ctx context.Context) {
			a.match.Evaluate(ctx)
		}); err != nil {
			return err
		}
	}
	if a.ckpt != nil {
		every, err := config.ParseDurationOrDefault("clock.checkpoint_every", cfg.Clock.CheckpointEvery, 5*time.Minute)
		if err != nil {
			return err
		}
		if err := runner.Every("clock.checkpoint", every, func(ctx context.Context) {
			r := a.chain.Now()
			if r.Confidence != clock.Live {
				return
			}
			if err := a.ckpt.Checkpoint(r.Time); err != nil {
				a.log.Warn("clock checkpoint failed", logx.Err(err))
			}
		}); err != nil {
			return err
		}
	}
	if store != nil {
		retention, err := config.ParseDurationOrDefault("schedule.ring_audit_retention", cfg.Schedule.RingAuditRetention, defaultRingRetention)
		if err != nil {
			return err
		}
		if retention > 0 {
			if err := runner.Cron("rings.prune", "0 4 * * *", func(ctx context.Context) {
				n, err := store.PruneRings(ctx, time.Now().Add(-retention))
				if err != nil {
					a.log.Warn("ring audit prune failed", logx.Err(err))
					return
				}
				if n > 0 {
					a.log.Info("ring audit pruned", logx.Int64("dropped", n))
				}
			}); err != nil {
				return err
			}
		}
	}
	a.runner = runner

	// Control surfaces.
	if cfg.HTTP.Enabled {
		readTO, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
		if err != nil {
			return err
		}
		writeTO, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
		if err != nil {
			return err
		}
		idleTO, err := config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
		if err != nil {
			return err
		}
		a.api = httpapi.New(httpapi.Config{
			Enabled:        true,
			Addr:           cfg.HTTP.Addr,
			Token:          cfg.HTTP.Token,
			AllowInsecure:  cfg.HTTP.AllowInsecure,
			RingRatePerMin: cfg.HTTP.RingRatePerMin,
			RingBurst:      cfg.HTTP.RingBurst,
			ReadTimeout:    readTO,
			WriteTimeout:   writeTO,
			IdleTimeout:    idleTO,
		}, a.svc, base.With(logx.String("comp", "http")))
	}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		bot, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
			PollTimeout:  pollTimeout,
		}, a.svc, base.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.bot = bot
	}

	return nil
}

// Done is closed when the app supervisor context is cancelled (fatal
// error or Stop()).
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

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	sctx := a.sup.Context()

	a.sup.Go0("bells.tick", func(c context.Context) {
		core.RunTickLoop(c, a.ctl, a.tickInterval, a.log.With(logx.String("comp", "bells")))
	})
	a.sup.Go0("rings.audit", func(c context.Context) {
		a.svc.RunAuditWriter(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		runWatchdog(c, a.log)
	})

	a.runner.Start(sctx)

	if a.api != nil {
		if err := a.api.Start(sctx); err != nil {
			return err
		}
	}
	if a.bot != nil {
		a.bot.Start(sctx)
	}

	// Hot reload fan-out.
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
				// Coalesce bursts: keep only the latest config.
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
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyReload(newCfg)
				if len(sections) > 0 {
					a.log.Info("config reloaded",
						append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyReady(a.log)
	a.log.Info("belltower started")
	return nil
}

// applyReload applies the hot-reloadable subset of the config. Changes
// to wiring (actuator driver, storage backend, listen addresses) need a
// restart and are intentionally not applied live.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if a.match != nil {
		a.match.SetTrustFallback(cfg.Schedule.TrustFallbackTime)
	}
}

func validate(cfg *config.Config) error {
	if _, err := config.ParseDurationField("bells.tick_interval", cfg.Bells.TickInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("schedule.evaluate_every", cfg.Schedule.EvaluateEvery); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("schedule.ring_audit_retention", cfg.Schedule.RingAuditRetention); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("clock.checkpoint_every", cfg.Clock.CheckpointEvery); err != nil {
		return err
	}
	if cfg.Telegram != nil {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Bells.Actuator)) {
	case "", "nop", "none", "midi":
	case "gpio":
		if cfg.Bells.GPIO.Bell1Pin <= 0 || cfg.Bells.GPIO.Bell2Pin <= 0 {
			return fmt.Errorf("bells.gpio: bell1_pin and bell2_pin are required")
		}
	default:
		return fmt.Errorf("bells.actuator: unknown driver %q", cfg.Bells.Actuator)
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// Cancel the run context first so background loops start unwinding.
	// The tick loop's shutdown path forces an emergency stop.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.bot != nil {
		step("telegram", 2*time.Second, func(c context.Context) error { return a.bot.Stop(c) })
	}
	if a.api != nil {
		step("http", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	}
	step("jobs", 2*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	// Outputs last: everything that could assert a relay has stopped.
	a.ctl.EmergencyStop()
	step("actuator", time.Second, func(context.Context) error { return a.driver.Close() })
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
