package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"topicwatch/internal/config"
	"topicwatch/internal/eventbus"
	"topicwatch/internal/mattermost"
	"topicwatch/internal/mcpserver"
	"topicwatch/internal/monitor"
	"topicwatch/internal/notifier"
	"topicwatch/internal/observability/diag"
	"topicwatch/internal/runtime/supervisor"
	"topicwatch/internal/storage"
	logx "topicwatch/pkg/logx"
	"topicwatch/pkg/systemd"
)

// Options are the command line switches of the daemon.
type Options struct {
	ConfigPath string
	// MCP serves the tool interface on stdio. Console logs move to stderr.
	MCP     bool
	Version string
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client *mattermost.Client
	notif  *notifier.Service
	mon    *monitor.Monitor
	mcp    *mcpserver.Server
	diag   *diag.Service
	sd     *systemd.Notifier
	// sdNotify is fixed at construction; the systemd section needs a restart.
	sdNotify bool

	recorder func(context.Context)
}

func NewApp(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mmCfg, err := cfg.ToMattermost()
	if err != nil {
		return nil, err
	}
	client, err := mattermost.New(mmCfg)
	if err != nil {
		return nil, err
	}

	// The client doubles as the chat log sink.
	logSvc, log := logx.New(cfg.ToLogx(opts.MCP), client)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := cfg.ToStorage()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := cfg.ToNotifier()
	if err != nil {
		return nil, err
	}
	notifOpts := []notifier.Option{notifier.WithEventBus(bus)}
	if m := buildMirror(ncfg, log); m != nil {
		notifOpts = append(notifOpts, notifier.WithMirror(m))
	}
	notifSvc := notifier.New(ncfg, client, log, notifOpts...)

	mon := monitor.New(client, notifSvc, cfg.ToMonitor(), log, monitor.WithEventBus(bus))

	a := &App{
		opts:   opts,
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		client: client,
		notif:  notifSvc,
		mon:    mon,
		sd:     systemd.New(),

		sdNotify: cfg.Systemd != nil && cfg.Systemd.Notify,
	}
	if opts.MCP || (cfg.MCP != nil && cfg.MCP.Enabled) {
		a.mcp = mcpserver.New(cfg.MCPName(), opts.Version, mon, log)
	}
	if dc := cfg.ToDiagnostics(); dc.Enabled {
		a.diag = diag.New(dc, mon, notifSvc, store, log)
	}
	if store != nil {
		// Subscribe now so events of the first cycle are not missed.
		r := &recorder{store: store, log: log.With(logx.String("comp", "recorder"))}
		a.recorder = r.subscribe(bus)
	}
	return a, nil
}

// buildMirror returns nil when the mirror is disabled or cannot be built.
func buildMirror(cfg notifier.Config, log logx.Logger) notifier.Mirror {
	if !cfg.Telegram.Enabled {
		return nil
	}
	m, err := notifier.NewTelegramMirror(cfg.Telegram)
	if err != nil {
		log.Warn("telegram mirror disabled", logx.Err(err))
		return nil
	}
	log.Info("telegram mirror enabled", logx.Int64("chat_id", cfg.Telegram.ChatID))
	return m
}

func (a *App) Monitor() *monitor.Monitor { return a.mon }

// Done is closed when the app supervisor context is canceled (fatal error,
// MCP client gone, or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches background loops and, when enabled, scheduled monitoring.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)

	if a.recorder != nil {
		a.sup.Go0("storage.recorder", a.recorder)
	}
	a.sup.Go0("eventbus.log", func(c context.Context) {
		eventbus.Consume(c, a.bus, 64, func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		})
	})

	if err := a.startMonitor(a.sup.Context()); err != nil {
		return err
	}

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
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.mcp != nil {
		a.sup.Go("mcp.stdio", func(c context.Context) error {
			err := a.mcp.Run(c)
			// Client disconnected: shut the process down.
			a.sup.Cancel()
			if err != nil && c.Err() == nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		})
	}

	if a.diag != nil {
		a.sup.Go("diagnostics.http", func(c context.Context) error {
			// Diagnostics are optional; a bind failure is logged by Run and
			// must not take monitoring down.
			_ = a.diag.Run(c)
			return nil
		})
	}

	a.notifySystemd()
	a.log.Info("app started", logx.Bool("mcp", a.mcp != nil), logx.Bool("diagnostics", a.diag != nil))
	return nil
}

func (a *App) startMonitor(ctx context.Context) error {
	err := a.mon.Start(ctx)
	switch {
	case errors.Is(err, monitor.ErrDisabled):
		a.log.Info("scheduled monitoring disabled")
		return nil
	case err != nil:
		return fmt.Errorf("start monitoring: %w", err)
	}
	return nil
}

func (a *App) notifySystemd() {
	if !a.sdNotify {
		return
	}
	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	st := a.mon.Status()
	_, _ = a.sd.Status(fmt.Sprintf("watching %d channels for %d topics", len(st.Channels), len(st.Topics)))
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Systemd != nil && cfg.Systemd.Watchdog {
		a.sup.Go("systemd.watchdog", a.sd.Watchdog)
	}
}

// applyConfig pushes a validated config into running services.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	if oldCfg == nil {
		oldCfg = &config.Config{}
	}
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if a.sdNotify {
		_, _ = a.sd.Reloading()
		defer func() { _, _ = a.sd.Ready() }()
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(newCfg.ToLogx(a.opts.MCP))

	if ncfg, err := newCfg.ToNotifier(); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		oldN, _ := oldCfg.ToNotifier()
		if !reflect.DeepEqual(oldN.Telegram, ncfg.Telegram) {
			a.notif.SetMirror(buildMirror(ncfg, a.log))
		}
	}

	mcfg := newCfg.ToMonitor()
	if err := a.mon.UpdateConfig(mcfg); err != nil {
		a.log.Warn("monitoring config rejected; keeping previous", logx.Err(err))
	} else if mcfg.Enabled && !a.mon.IsRunning() {
		if err := a.startMonitor(ctx); err != nil {
			a.log.Error("monitoring start after reload failed", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// RunOnce executes a single monitoring cycle without starting the schedule.
func (a *App) RunOnce(ctx context.Context) (monitor.CycleReport, error) {
	if a.recorder != nil && a.sup == nil {
		a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
		a.sup.Go0("storage.recorder", a.recorder)
	}
	return a.mon.RunNow(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.sdNotify {
		_, _ = a.sd.Stopping()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("monitor", time.Second, func(context.Context) error { a.mon.Stop(); return nil })
	if a.sup != nil {
		a.log.Debug("supervisor counters",
			logx.Any("counters", a.sup.Counters()),
			logx.Int64("bus_dropped", int64(eventbus.Dropped(a.bus))),
		)
		a.sup.Cancel()
		step("supervisor", 3*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
