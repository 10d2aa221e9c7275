// Package app assembles the daemon: config, logging, the batching engine,
// dispatch pipeline, HTTP listener and housekeeping, with hot reload
// fan-out across all of them.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hookpush/internal/config"
	"hookpush/internal/dispatch"
	"hookpush/internal/engine"
	"hookpush/internal/eventbus"
	"hookpush/internal/listener"
	"hookpush/internal/maintenance"
	"hookpush/internal/render"
	"hookpush/internal/runtime/supervisor"
	"hookpush/internal/stats"
	"hookpush/internal/storage"
	"hookpush/internal/summarize"
	kit "hookpush/internal/transport"
	"hookpush/internal/transport/telegram"
	logx "hookpush/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	stats *stats.Registry

	adapter kit.Adapter

	engine *engine.Engine
	disp   *dispatch.Dispatcher
	gate   *summarize.Gateway
	web    *listener.Server
	maint  *maintenance.Service
	rec    *dispatch.Recorder
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// The same checks gate hot reloads; a config rejected there must not
	// boot either.
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:   cfg.Telegram.Token,
		Timeout: sendTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with the Telegram sink disabled, point it at the
	// log chat, then apply the real config. Avoids a false warning when
	// Apply runs before the target is known.
	baseLogCfg := mapLogxConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogxConfig(cfg))

	bus := eventbus.New()
	reg := stats.New()

	if cfg.Metrics.Enabled {
		if err := reg.EnableMetrics(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	gate := summarize.NewGateway(mustSummarizerConfig(cfg), reg, bus, log)

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, render.New(mapRenderConfig(cfg)), gate, ad, reg, bus, log)

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, disp, reg, bus, log)

	web := listener.New(listener.Config{
		Port:           cfg.Webhook.Port,
		MediaRoutes:    cfg.Webhook.MediaRoutes,
		GameRoutes:     cfg.Webhook.GameRoutes,
		CommonRoutes:   cfg.Webhook.CommonRoutes,
		DestinationKey: cfg.Telegram.GroupID,
		MetricsEnabled: cfg.Metrics.Enabled,
	}, eng, reg, store, log)

	maint := maintenance.New(maintenance.Config{
		Enabled:            cfg.Maintenance.Enabled,
		DailyReportCron:    cfg.Maintenance.DailyReportCron,
		AuditRetentionDays: cfg.Maintenance.AuditRetentionDays,
		Timezone:           cfg.Maintenance.Timezone,
		ReportTo:           reportTarget(cfg),
	}, reg, store, ad, log)

	var rec *dispatch.Recorder
	if store != nil {
		rec = dispatch.NewRecorder(bus, store, log)
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		stats:   reg,
		adapter: ad,
		engine:  eng,
		disp:    disp,
		gate:    gate,
		web:     web,
		maint:   maint,
		rec:     rec,
	}, nil
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

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.web.Start(); err != nil {
		return err
	}
	if err := a.maint.Start(); err != nil {
		return err
	}
	if a.rec != nil {
		a.sup.Go0("audit.record", a.rec.Run)
	}

	// Debug visibility into pipeline signals.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("addr", a.web.Addr()))
	return nil
}

// reloadLoop applies validated config updates live. Bursts are coalesced so
// only the newest config is applied.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
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
			a.applyConfig(newCfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	applyLogTarget(a.logs, cfg)
	a.logs.Apply(mapLogxConfig(cfg))

	if engCfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid batch config; keeping previous", logx.Err(err))
	} else {
		a.engine.Reconfigure(engCfg)
	}

	if dispCfg, err := mapDispatchConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Reconfigure(dispCfg, render.New(mapRenderConfig(cfg)))
	}

	a.gate.Reconfigure(mustSummarizerConfig(cfg))

	// Listener bind and storage driver changes need a restart.
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	// Close the inbound side first so no new events arrive, then drain.
	step("listener", 3*time.Second, func(c context.Context) error { a.web.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { return a.engine.Stop(c) })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// validateConfig runs the static checks plus the runtime ones the mapping
// layer needs (timezone lookup, destination key shape, storage wiring). It
// gates both the initial load and every hot reload.
func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := kit.ParseTarget(cfg.Telegram.GroupID); err != nil {
		return fmt.Errorf("telegram.group_id: %w", err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// ---- config mapping ----

func mapLogxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if target, err := kit.ParseTarget(raw); err == nil {
		logs.SetTelegramTarget(target.ChatID, target.ThreadID)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	maxWait, err := config.ParseDurationField("batch.max_wait", cfg.Batch.MaxWait)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Interval: time.Duration(cfg.Batch.IntervalSeconds) * time.Second,
		MaxWait:  maxWait,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 15*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		RatePerSec:  float64(cfg.Dispatch.RatePerSec),
		SendTimeout: sendTimeout,
	}, nil
}

func mapRenderConfig(cfg *config.Config) render.Config {
	return render.Config{
		MediaVariant:  cfg.Render.MediaTemplate,
		GameVariant:   cfg.Render.GameTemplate,
		CommonVariant: cfg.Render.CommonTemplate,
	}
}

// mustSummarizerConfig never fails: durations were validated at load time,
// and a zero timeout falls back to the gateway default.
func mustSummarizerConfig(cfg *config.Config) summarize.Config {
	timeout, _ := config.ParseDurationField("summarizer.timeout", cfg.Summarizer.Timeout)
	return summarize.Config{
		Enabled:   cfg.Summarizer.Enabled,
		Endpoint:  cfg.Summarizer.Endpoint,
		APIKey:    cfg.Summarizer.APIKey,
		Model:     cfg.Summarizer.Model,
		Timeout:   timeout,
		MaxTokens: cfg.Summarizer.MaxTokens,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required for driver %q", driver)
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

// reportTarget picks where the daily report goes: the log chat if set,
// otherwise the push group.
func reportTarget(cfg *config.Config) string {
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		return raw
	}
	return strings.TrimSpace(cfg.Telegram.GroupID)
}
