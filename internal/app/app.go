package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"eventra/internal/alert"
	"eventra/internal/config"
	"eventra/internal/dispatch"
	"eventra/internal/eventbus"
	"eventra/internal/notifier"
	"eventra/internal/observability/debug"
	"eventra/internal/registry"
	"eventra/internal/runtime/supervisor"
	"eventra/internal/schedule"
	"eventra/internal/storage"
	"eventra/internal/task/engine"
	kit "eventra/internal/transport"
	"eventra/internal/transport/console"
	"eventra/internal/transport/telegram"
	logx "eventra/pkg/logx"
	"eventra/pkg/systemd"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type options struct {
	clock    registry.Clock
	store    storage.Store
	sinks    []kit.Sink
	sinksSet bool
	stdout   io.Writer
	logOut   io.Writer
	actor    string
}

type Option func(*options)

// WithClock drives registry timers. Tests use a manual clock.
func WithClock(c registry.Clock) Option { return func(o *options) { o.clock = c } }

// WithStore replaces the configured storage driver.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// WithSinks replaces the configured alert sinks.
func WithSinks(sinks ...kit.Sink) Option {
	return func(o *options) { o.sinks, o.sinksSet = sinks, true }
}

// WithStdout is where the console sink prints alerts.
func WithStdout(w io.Writer) Option { return func(o *options) { o.stdout = w } }

// WithLogOutput is where console logs go.
func WithLogOutput(w io.Writer) Option { return func(o *options) { o.logOut = w } }

// WithActor names who performs mutations in the audit log.
func WithActor(name string) Option { return func(o *options) { o.actor = name } }

// App owns every component. A one-shot CLI command builds it, calls the
// operation it needs and closes it; `serve` additionally starts timers,
// workers and config hot reload.
type App struct {
	cfgm   *config.ConfigManager
	root   logx.Logger
	log    logx.Logger
	logs   *logx.Service
	logOut io.Writer
	bus    eventbus.Bus
	store  storage.Store
	loc    *time.Location
	actor  string

	engine *engine.Service
	reg    *registry.Service
	notif  *notifier.Service
	render *alert.Renderer
	disp   *dispatch.Dispatcher
	perm   *dispatch.Switch
	coord  *schedule.Coordinator
	orch   *schedule.Orchestrator
	hooks  *schedule.Hooks
	debug  *debug.Service

	sup     *supervisor.Supervisor
	started time.Time
	serving atomic.Bool
	closed  atomic.Bool
}

// New loads cfgPath (empty means defaults) and builds the app.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, opts...)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{stdout: os.Stdout, actor: "cli"}
	for _, fn := range opts {
		fn(&o)
	}

	logCfg := mapLoggingConfig(cfg)
	logCfg.Out = o.logOut
	logSvc, root := logx.NewService(logCfg)

	a := &App{
		cfgm:   cfgm,
		root:   root,
		log:    root.Component("app"),
		logs:   logSvc,
		logOut: o.logOut,
		bus:    eventbus.New(),
		loc:    cfg.Location(),
		actor:  o.actor,
	}
	fail := func(err error) (*App, error) {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	a.store = o.store
	if a.store == nil {
		sc, enabled, err := mapStorageConfig(cfg)
		if err != nil {
			return fail(err)
		}
		if !enabled {
			a.log.Warn("storage disabled; events live in memory for this process only")
			a.store = storage.NewMemory()
		} else if a.store, err = storage.Open(sc, root); err != nil {
			return fail(fmt.Errorf("open storage: %w", err))
		}
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.engine = engine.New(engCfg, root, a.bus)

	if a.render, err = alert.NewRenderer(a.loc); err != nil {
		return fail(err)
	}
	a.perm = dispatch.NewSwitch(config.BoolOr(cfg.Permission.Granted, true))

	sinks := o.sinks
	if !o.sinksSet {
		sinks = a.buildSinks(cfg, o.stdout, root)
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(ncfg, sinks, a.store, root, a.bus)

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.disp = dispatch.New(a.render, dispatch.StoreSettings(a.store), a.perm, dispatch.PublisherFunc(a.publish),
		dispatch.WithLogger(root), dispatch.WithBus(a.bus), dispatch.WithConfig(dcfg))

	rcfg, err := mapRegistryConfig(cfg)
	if err != nil {
		return fail(err)
	}
	regOpts := []registry.Option{registry.WithLogger(root), registry.WithBus(a.bus), registry.WithExecutor(a.engine)}
	if o.clock != nil {
		regOpts = append(regOpts, registry.WithClock(o.clock))
	}
	a.reg = registry.New(rcfg, a.store, a.disp, regOpts...)

	scfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return fail(err)
	}
	var coordOpts []schedule.CoordinatorOption
	if o.clock != nil {
		coordOpts = append(coordOpts, schedule.WithNow(o.clock.Now))
	}
	a.coord = schedule.NewCoordinator(scfg, a.reg, root, coordOpts...)
	a.orch = schedule.NewOrchestrator(a.coord, a.store)
	a.hooks = schedule.NewHooks(a.coord, a.orch, a.store)
	a.debug = debug.New(mapDebugConfig(cfg), a.status, a.healthy, root)
	return a, nil
}

func (a *App) buildSinks(cfg *config.Config, stdout io.Writer, log logx.Logger) []kit.Sink {
	var sinks []kit.Sink
	if config.BoolOr(cfg.Console.Enabled, true) {
		sinks = append(sinks, console.New(stdout))
	}
	if tc := cfg.Telegram; tc != nil && tc.Enabled {
		tcfg, err := mapTelegramConfig(*tc)
		if err == nil {
			var s *telegram.Sink
			if s, err = telegram.New(tcfg, log); err == nil {
				sinks = append(sinks, s)
			}
		}
		if err != nil {
			a.log.Warn("telegram sink disabled", logx.Err(err))
		}
	}
	return sinks
}

// publish queues alerts while serving. One-shot commands have no worker
// pool and deliver inline.
func (a *App) publish(ctx context.Context, al alert.Alert) error {
	if a.serving.Load() {
		return a.notif.Publish(ctx, al)
	}
	return a.notif.Send(ctx, al)
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Location() *time.Location { return a.loc }

// Done is closed when the serve supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen while serving.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon side: timers for persisted bindings, delivery
// workers, the alert pipeline and config hot reload. It reports readiness
// to systemd when done.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.root)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapAll(cfg)
		return err
	})
	a.serving.Store(true)

	runCtx := a.sup.Context()
	a.engine.Start(runCtx)
	a.notif.Start(runCtx)
	if err := a.reg.Start(runCtx); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c, a.healthy); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if err := a.debug.Start(runCtx); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}
	a.started = time.Now()

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("%d bindings armed", a.reg.Armed())

	a.log.Info("eventra started",
		logx.Int("armed", a.reg.Armed()),
		logx.String("sinks", strings.Join(a.notif.Sinks(), ",")),
	)
	return nil
}

type mapped struct {
	engine   engine.Config
	notifier notifier.Config
	registry registry.Config
}

// mapAll runs every live-applied mapping so a reload that would fail to
// apply is rejected before commit.
func mapAll(cfg *config.Config) (mapped, error) {
	var (
		m    mapped
		err  error
		errs []error
	)
	if m.engine, err = mapTaskEngineConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if m.notifier, err = mapNotifierConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if m.registry, err = mapRegistryConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err = mapScheduleConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err = mapDispatchConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err = mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return m, errors.Join(errs...)
}

// restartSections are read only at startup.
var restartSections = map[string]bool{
	"storage":   true,
	"locale":    true,
	"telegram":  true,
	"console":   true,
	"scheduler": true,
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	m, err := mapAll(newCfg)
	if err != nil {
		a.log.Warn("config reload not applied", logx.Err(err))
		return
	}
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	logCfg := mapLoggingConfig(newCfg)
	logCfg.Out = a.logOut
	a.logs.Apply(logCfg)

	prevEng := a.engine.Enabled()
	a.engine.Apply(ctx, m.engine)
	switch {
	case prevEng && !m.engine.Enabled:
		a.log.Info("task engine disabled via config; deliveries run inline")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	case !prevEng && m.engine.Enabled:
		a.log.Info("task engine enabled via config")
		a.engine.Start(ctx)
	}

	prevNotif := a.notif.Enabled()
	a.notif.Apply(m.notifier)
	switch {
	case prevNotif && !m.notifier.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevNotif && m.notifier.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.reg.Apply(m.registry)
	a.perm.Set(config.BoolOr(newCfg.Permission.Granted, true))
	if err := a.debug.Reconfigure(ctx, mapDebugConfig(newCfg)); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigApplied, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts the daemon down in dependency order: no new fires, then
// in-flight deliveries, then the alert queue, then storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// step bounds one shutdown stage so a stuck component cannot stall the
	// rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		if max > 0 {
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("registry", 2*time.Second, func(c context.Context) error { a.reg.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.serving.Store(false)

	a.log.Info("stopped")
	return a.Close()
}

// Close releases storage and log files. It is safe to call twice.
func (a *App) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
