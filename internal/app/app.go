package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"auratask/internal/channel"
	"auratask/internal/delay"
	"auratask/internal/delivery"
	"auratask/internal/eventbus"
	"auratask/internal/observability/diag"
	"auratask/internal/reminder"
	"auratask/internal/rescan"
	"auratask/internal/storage"
	"auratask/internal/task/engine"
	"auratask/internal/task/scheduler"
	"auratask/internal/taskops"
	logx "auratask/pkg/logx"
)

// Job names registered on the task scheduler.
const (
	jobRescan  = "urgency.rescan"
	jobCleanup = "notification_logs.cleanup"
)

type App struct {
	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.SQLStore
	rdb   *redis.Client

	engine    *engine.Service
	sched     *scheduler.Service
	delay     delay.Runtime
	runtime   string
	channels  *channel.Registry
	alerts    *alertProxy
	delivery  *delivery.Handler
	tester    *delivery.Tester
	reminders *reminder.Scheduler
	rescan    *rescan.Job
	tasks     *taskops.Service
	diag      *diag.Service
}

// NewApp loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	// Mappers cannot fail past validateConfig.
	stCfg, _ := mapStorageConfig(cfg)
	engCfg, _ := mapEngineConfig(cfg)
	rtCfg, _ := mapRuntimeConfig(cfg)
	jobs, _ := mapJobsConfig(cfg)
	chCfg, _ := mapChannelsConfig(cfg)
	diagCfg, _ := mapDiagConfig(cfg)

	alerts := &alertProxy{}
	logSvc, log := logx.New(mapLoggingConfig(cfg), alerts)
	appLog := log.With(logx.Component("app"))

	bus := eventbus.New()

	store, err := storage.Open(ctx, stCfg, log.With(logx.Component("storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage ready", logx.String("driver", stCfg.Driver))

	engineSvc := engine.New(engCfg, log.With(logx.Component("taskengine")), bus)

	reg := channel.NewRegistry(chCfg.Registry, log)
	registerSenders(reg, chCfg, alerts, appLog)

	deliv := delivery.New(store, reg, bus, log)

	var (
		rt  delay.Runtime
		rdb *redis.Client
	)
	switch rtCfg.Driver {
	case runtimeDriverRedis:
		rdb = redis.NewClient(rtCfg.Client)
		rt = delay.NewRedis(rdb, rtCfg.Redis, engineSvc, deliv.DelayHandler(), rtCfg.Opt, log)
	default:
		rt = delay.NewMemory(engineSvc, deliv.DelayHandler(), rtCfg.Opt, log)
	}

	reminders := reminder.New(rt, log)
	rescanJob := rescan.New(store, bus, log)
	tasks := taskops.New(store, reminders, rescanJob, bus, log)

	schedSvc := scheduler.New(scheduler.Config{Timezone: jobs.Timezone}, engineSvc, log.With(logx.Component("scheduler")))

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		rdb:       rdb,
		engine:    engineSvc,
		sched:     schedSvc,
		delay:     rt,
		runtime:   rtCfg.Driver,
		channels:  reg,
		alerts:    alerts,
		delivery:  deliv,
		tester:    delivery.NewTester(store, reg, log),
		reminders: reminders,
		rescan:    rescanJob,
		tasks:     tasks,
		diag: diag.New(diagCfg, diag.Sources{
			Ping:      store.Ping,
			Engine:    engineSvc.Snapshot,
			Schedules: schedSvc.Schedules,
		}, log),
	}
	if err := a.registerJobs(jobs); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// Tasks is the task lifecycle service used by the API layer.
func (a *App) Tasks() *taskops.Service { return a.tasks }

// Notifications sends test messages and reports which channels can deliver.
func (a *App) Notifications() *delivery.Tester { return a.tester }

// Bus carries live updates for connected clients.
func (a *App) Bus() eventbus.Bus { return a.bus }

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

// registerJobs upserts the periodic jobs; it is also used on reload.
func (a *App) registerJobs(js jobSettings) error {
	if err := a.sched.AddSchedule(jobRescan, js.Rescan, 2*time.Minute, func(ctx context.Context) error {
		_, err := a.rescan.Run(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", jobRescan, err)
	}
	retention := js.Retention
	if err := a.sched.AddSchedule(jobCleanup, js.Cleanup, 5*time.Minute, func(ctx context.Context) error {
		_, err := a.rescan.CleanupLogs(ctx, retention)
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", jobCleanup, err)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error { return validateConfig(cfg) })

	// engine first: the delay runtime hands fired items to it
	a.engine.Start(a.sup.Context())
	if err := a.delay.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start delay runtime: %w", err)
	}
	if a.runtime == runtimeDriverMemory {
		a.sup.Go("reminders.restore", a.restoreReminders)
	}
	a.sched.Start(a.sup.Context())
	a.diag.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.UserID(e.UserID), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// coalesce bursts
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("runtime", a.runtime))
	return nil
}

// applyConfig applies the live sections of a reloaded config.
func (a *App) applyConfig(oldCfg, newCfg *Config) {
	ch := SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if cs, err := mapChannelsConfig(newCfg); err != nil {
		a.log.Warn("invalid channels config; keeping previous", logx.Err(err))
	} else {
		registerSenders(a.channels, cs, a.alerts, a.log)
	}

	if js, err := mapJobsConfig(newCfg); err != nil {
		a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scheduler.Config{Timezone: js.Timezone})
		if err := a.registerJobs(js); err != nil {
			a.log.Warn("re-registering jobs failed", logx.Err(err))
		}
	}

	if dc, err := mapDiagConfig(newCfg); err != nil {
		a.log.Warn("invalid diagnostics config; keeping previous", logx.Err(err))
	} else {
		a.diag.Reconfigure(a.sup.Context(), dc)
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// restoreReminders resubmits reminders of every live task. The memory runtime
// forgets pending items on restart; Schedule skips instants already passed.
func (a *App) restoreReminders(ctx context.Context) error {
	tasks, err := a.store.ListActiveTasks(ctx)
	if err != nil {
		// not fatal: reminders of tasks touched later are scheduled again
		a.log.Error("restore: listing active tasks failed", logx.Err(err))
		return nil
	}
	restored := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			return nil
		}
		ns, err := a.store.GetOrCreateSettings(ctx, t.UserID)
		if err != nil {
			a.log.Warn("restore: loading settings failed", logx.TaskID(t.ID), logx.Err(err))
			continue
		}
		items, err := a.reminders.Schedule(ctx, t, ns)
		restored += len(items)
		if err != nil {
			a.log.Warn("restore: scheduling failed", logx.TaskID(t.ID), logx.Err(err))
		}
	}
	a.log.Info("reminders restored", logx.Int("tasks", len(tasks)), logx.Int("items", restored))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// triggers first, then the pending queue, then the workers draining it
	step("diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("delay", 2*time.Second, func(c context.Context) error { a.delay.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	if a.rdb != nil {
		step("redis", time.Second, func(context.Context) error { return a.rdb.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
