package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"steamwatch/internal/config"
	"steamwatch/internal/delivery"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/gateway"
	"steamwatch/internal/notifier"
	"steamwatch/internal/observability"
	"steamwatch/internal/periodic"
	"steamwatch/internal/runtime/supervisor"
	"steamwatch/internal/scheduler"
	"steamwatch/internal/storage"
	"steamwatch/internal/transport/discord"
	"steamwatch/internal/transport/telegram"
	"steamwatch/internal/upstream/steam"
	"steamwatch/internal/watcher"
	logx "steamwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	alerts *telegram.Sender
	bus    eventbus.Bus
	store  *storage.DB

	steam   *steam.Client
	discord *discord.Client

	queue   *delivery.Queue
	gateway *gateway.Queue
	changes *gateway.ChangeFeed
	sched   *scheduler.Scheduler
	drivers []*watcher.Driver
	jobs    *periodic.Service

	registry *prometheus.Registry
	metrics  *observability.Metrics
	http     *observability.Server
	httpOn   bool
}

// New loads the config file and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return build(ctx, cfgm, cfg)
}

func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config) (_ *App, err error) {
	// Alerts stay off until the sender exists; Apply below turns them on.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Alerts.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)

	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	if cfg.Alerts.Telegram.Enabled {
		a.alerts, err = telegram.New(mapAlertConfig(cfg), log.With(logx.String("comp", "alerts")))
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		logSvc.SetAlertSender(a.alerts)
	}
	logSvc.Apply(logCfg)

	a.bus = eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", orDefault(sc.Driver, "sqlite")))

	stc, err := mapSteamConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.steam = steam.New(stc, log.With(logx.String("comp", "steam")))

	dc, err := mapDiscordConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.discord = discord.New(dc, log.With(logx.String("comp", "discord")))

	qc, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.queue = delivery.New(qc, a.discord, a.store, a.bus, log.With(logx.String("comp", "delivery")))
	if err := a.queue.Load(); err != nil {
		return nil, fmt.Errorf("delivery queue: %w", err)
	}

	gc, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.gateway = gateway.New(gc, a.steam, a.store, a.bus, log.With(logx.String("comp", "gateway")))
	if err := a.gateway.Load(); err != nil {
		return nil, fmt.Errorf("gateway queue: %w", err)
	}
	a.changes = gateway.NewChangeFeed(a.steam, a.store, a.gateway, cfg.Jobs.ChangeFeedLimit, a.bus, log.With(logx.String("comp", "changefeed")))

	a.sched = scheduler.New(a.store, mapFrequencies(cfg))
	deps := watcher.Deps{
		Scheduler: a.sched,
		Notifier:  notifier.New(a.store, a.queue, log.With(logx.String("comp", "notifier"))),
		Log:       log.With(logx.String("comp", "watcher")),
	}
	a.drivers, err = buildWatchers(cfg, deps, a.steam, a.store, a.bus, log.With(logx.String("comp", "watcher")))
	if err != nil {
		return nil, err
	}

	a.jobs = periodic.New(periodic.Config{Timezone: cfg.Jobs.Timezone}, a.bus, log.With(logx.String("comp", "jobs")))
	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry, a.bus.Dropped)

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.httpOn = hc.Enabled
	a.http = observability.NewServer(hc, a.registry, observability.Health{
		Ping:   a.store.Ping,
		Status: a.status,
	}, log.With(logx.String("comp", "http")))

	a.log.Info("app built", logx.Int("watchers", len(a.drivers)), logx.Bool("http", a.httpOn),
		logx.Bool("alerts", a.alerts != nil))
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first loop failure observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithFailureHook(func(name string, _ error) {
			a.bus.Publish(eventbus.Event{Type: eventbus.LoopFailed, Data: name})
		}),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("metrics", func(c context.Context) error {
		defer unsub()
		return a.metrics.Consume(c, events)
	})

	a.sup.GoRestart("delivery", a.queue.Run)
	a.sup.GoRestart("gateway", a.gateway.Run)
	for _, d := range a.drivers {
		a.sup.GoRestart("watcher:"+string(d.Type()), d.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	a.jobs.Start(a.sup.Context())

	if a.httpOn {
		a.sup.GoRestart("http", a.http.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.Int("watchers", len(a.drivers)))
	return nil
}

// reloadLoop applies the live-tunable parts of each published config.
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
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// restartOnly lists sections whose changes need a process restart.
var restartOnly = []string{"alerts", "discord", "http", "steam", "storage"}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs, watchers := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	var needRestart []string
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			needRestart = append(needRestart, s)
		}
	}
	if len(needRestart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.Strings("sections", needRestart))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if qc, err := mapDeliveryConfig(newCfg); err != nil {
		a.log.Warn("invalid queue config; keeping previous", logx.Err(err))
	} else {
		a.queue.Apply(qc)
	}

	a.sched.SetFrequencies(mapFrequencies(newCfg))
	if len(watchers) > 0 {
		a.log.Info("watcher settings changed; frequencies applied, other settings need a restart",
			logx.Strings("watchers", watchers))
	}

	if slices.Contains(sections, "jobs") || slices.Contains(sections, "queue") {
		if err := a.registerJobs(newCfg); err != nil {
			a.log.Warn("job reschedule failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// validate rejects reloads that would not map onto the running components.
func validate(cfg *config.Config) error {
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSnapshotEvery(cfg); err != nil {
		return err
	}
	for name, raw := range map[string]string{
		"jobs.change_feed": orDefault(cfg.Jobs.ChangeFeed, defaultChangeFeed),
		"jobs.purge":       orDefault(cfg.Jobs.Purge, defaultPurge),
	} {
		if _, err := periodic.ParseSchedule(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Jobs.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("jobs.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// status is the /healthz detail.
func (a *App) status() any {
	apps, pkgs := a.gateway.Len()
	out := map[string]any{
		"delivery_queue":   a.queue.Len(),
		"gateway_apps":     apps,
		"gateway_packages": pkgs,
		"steam_connected":  a.steam.Connected(),
		"jobs":             a.jobs.Jobs(),
	}
	if a.sup != nil {
		out["loops"] = a.sup.Loops()
	}
	return out
}

type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
)

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeAll()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("jobs", 3*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("supervisor", 5*time.Second, a.sup.Stop)
	step("delivery", 3*time.Second, func(context.Context) error {
		return a.queue.Close()
	})
	step("gateway", 3*time.Second, func(context.Context) error {
		return a.gateway.Close()
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// closeAll releases whatever build managed to open.
func (a *App) closeAll() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.gateway != nil {
		_ = a.gateway.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
