// Package app wires the queue, its storage and the front ends into one
// process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"foxq/internal/config"
	"foxq/internal/control"
	"foxq/internal/eventbus"
	"foxq/internal/runtime/supervisor"
	"foxq/internal/storage"
	"foxq/internal/task/periodic"
	"foxq/internal/task/queue"
	"foxq/internal/transport/console"
	"foxq/internal/transport/httpapi"
	"foxq/internal/transport/telegram"
	"foxq/pkg/logx"
)

// Payload is the task data the binary stores: any JSON object.
type Payload = map[string]any

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	queue *queue.Queue[Payload]
	ctl   *control.Surface[Payload]
	jobs  *periodic.Service

	http    *httpapi.Server[Payload]
	console *console.Console
	tg      *telegram.Bot

	exitOnConcluded atomic.Bool
	concluded       *logx.Throttle

	reasonMu sync.Mutex
	reason   StopReason
	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetLogger(logx.NewConsole("info").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       eventbus.New(),
		concluded: logx.NewThrottle(time.Minute, 1),
	}
	a.log.Info("config loaded", config.SummaryFields(cfg)...)

	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	// Storage is opened with a bounded context; redis dials here.
	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := storage.Open(openCtx, sc, log)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	if store == nil {
		a.log.Warn("storage disabled; tasks will not survive a restart")
	}

	process, err := processFunc(cfg, log.With(logx.String("comp", "processor")))
	if err != nil {
		a.closeStore()
		return nil, err
	}
	tun, err := tunables(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.exitOnConcluded.Store(cfg.Queue.OnAllConcluded == config.OnAllConcludedExit)

	opts := queue.Options[Payload]{
		Process:        process,
		OnAllConcluded: a.onAllConcluded,
		Tunables:       tun,
		Log:            log,
		Bus:            a.bus,
	}
	// A nil storage.Store must stay a nil queue.Store.
	if store != nil {
		opts.Store = store
	}
	a.queue = queue.New(opts)

	a.jobs = periodic.New(cfg.Jobs.Timezone, log)
	if err := a.registerJobs(cfg); err != nil {
		a.closeStore()
		return nil, err
	}
	return a, nil
}

func (a *App) registerJobs(cfg *config.Config) error {
	if s := cfg.Jobs.Checkpoint; s != config.JobOff {
		err := a.jobs.Add(periodic.Job{
			Name:     "checkpoint",
			Schedule: s,
			Timeout:  30 * time.Second,
			Run:      func(ctx context.Context) error { return a.queue.Save(ctx) },
		})
		if err != nil {
			return err
		}
	}
	if s := cfg.Jobs.RestartErrors; s != config.JobOff {
		err := a.jobs.Add(periodic.Job{
			Name:     "restart_errors",
			Schedule: s,
			Timeout:  30 * time.Second,
			Run: func(ctx context.Context) error {
				a.ctl.RestartErrors(ctx, control.Actor{Source: "jobs", Name: "restart_errors"})
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) onAllConcluded() {
	if !a.exitOnConcluded.Load() {
		return
	}
	a.concluded.Log(a.log, logx.LevelInfo, "exit", "all tasks concluded; shutting down", logx.String("stats", a.queue.Stats().String()))
	a.requestStop(StopAllConcluded)
}

// requestStop records the first reason and cancels the run context; the
// caller of Done then runs Stop.
func (a *App) requestStop(r StopReason) {
	a.reasonMu.Lock()
	if a.reason == "" {
		a.reason = r
	}
	a.reasonMu.Unlock()
	if a.sup != nil {
		a.sup.Cancel()
	}
}

// Control exposes the control surface once the app has started.
func (a *App) Control() *control.Surface[Payload] { return a.ctl }

// Done is closed when the app run context ends: a fatal error, an operator
// quit or, with on_all_concluded "exit", the queue draining.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reason reports why Done closed.
func (a *App) Reason() StopReason {
	a.reasonMu.Lock()
	r := a.reason
	a.reasonMu.Unlock()
	if r != "" {
		return r
	}
	if a.Err() != nil {
		return StopFatalError
	}
	return StopUnknown
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	if err := a.queue.Load(ctx); err != nil {
		return err
	}
	a.log.Info("tasks loaded", logx.String("stats", a.queue.Stats().String()))

	a.ctl = control.New(runCtx, a.queue, a.auditor(), a.log)
	a.ctl.SetJobs(a.jobs)

	if err := a.startFrontEnds(runCtx, cfg); err != nil {
		return err
	}
	a.jobs.Start(runCtx)

	if cfg.Queue.Autostart == nil || *cfg.Queue.Autostart {
		a.ctl.Start(ctx, control.Actor{Source: "app", Name: "autostart"})
	} else {
		a.log.Info("autostart disabled; scheduler paused")
	}

	a.watchEvents()
	a.watchConfig()
	a.startSystemd()

	a.log.Info("app started")
	return nil
}

func (a *App) auditor() control.Auditor {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) startFrontEnds(runCtx context.Context, cfg *config.Config) error {
	if hc, enabled := dashboardConfig(cfg); enabled {
		hc.Runtime = func() any { return a.Runtime() }
		a.http = httpapi.New(hc, a.ctl, a.bus, a.log)
		if err := a.http.Start(runCtx); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		a.log.Info("dashboard listening", logx.String("url", a.http.URL()))
	}

	if cfg.Telegram.Enabled {
		tc, err := telegramConfig(cfg)
		if err != nil {
			return err
		}
		tg, err := telegram.New(tc, a.ctl, a.bus, a.log)
		if err != nil {
			return err
		}
		a.tg = tg
		if err := a.tg.Start(runCtx); err != nil {
			return err
		}
	}

	if cfg.Console.Enabled {
		var url func() string
		if a.http != nil {
			url = a.http.URL
		}
		a.console = console.New(console.Config{
			In:           os.Stdin,
			Out:          os.Stdout,
			DashboardURL: url,
			Quit:         func() { a.requestStop(StopOperatorQuit) },
		}, a.ctl, a.log)
		// Stdin reads cannot be interrupted, so the console is not waited on.
		go func() {
			if err := a.console.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("console stopped", logx.Err(err))
			}
		}()
	}
	return nil
}

// watchEvents logs bus traffic at debug level.
func (a *App) watchEvents() {
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

// Stop shuts the app down in bounded steps. It is safe to call more than
// once; only the first call does anything.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(sdStopping)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
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

	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			a.tg.Stop(c)
		}
		return nil
	})
	step("dashboard", 3*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("jobs", 5*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	// In-flight tasks get a grace period; whatever is still running is
	// saved as running and reported as stale on the next load.
	step("scheduler", 10*time.Second, func(c context.Context) error {
		a.queue.Stop()
		return a.queue.Wait(c)
	})
	step("save", 5*time.Second, func(c context.Context) error { return a.queue.Save(c) })
	step("storage", 2*time.Second, func(context.Context) error { a.closeStore(); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	fields := []logx.Field{logx.String("stats", a.queue.Stats().String())}
	if n := a.bus.Dropped(); n > 0 {
		fields = append(fields, logx.Uint64("bus_dropped", n))
	}
	a.log.Info("stopped", fields...)
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		a.log.Warn("storage close failed", logx.Err(err))
	}
}

func joinSections(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
