// Package app wires the broadcast engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"

	"tgcast/internal/attachments"
	"tgcast/internal/config"
	"tgcast/internal/destinations"
	"tgcast/internal/dispatch"
	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	"tgcast/internal/observability"
	"tgcast/internal/posting"
	"tgcast/internal/registry"
	"tgcast/internal/retraction"
	rtsup "tgcast/internal/runtime/supervisor"
	"tgcast/internal/scheduler"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	"tgcast/internal/transport/telegram"
	logx "tgcast/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *observability.Metrics

	registry *registry.Registry
	engine   *dispatch.Engine
	sched    *scheduler.Service
	posts    *posting.Service
	dests    *destinations.Service
	retract  *retraction.Service
	obs      *observability.Server
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	tgCfg := mapTelegramConfig(cfg)
	tgLog := log.With(logx.String("comp", "telegram"))
	reg := registry.New(func(secret string) (transport.Client, error) {
		return telegram.New(secret, tgCfg, tgLog)
	}, log.With(logx.String("comp", "registry")))
	for _, t := range cfg.Telegram.Tenants {
		if _, err := reg.Register(t.Name, t.Token); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("tenant %q: %w", t.Name, err)
		}
	}

	bus := eventbus.New()
	metrics := observability.NewMetrics()

	resolver := attachments.NewResolver(cfg.Attachments.BaseDirs, log.With(logx.String("comp", "attachments")))
	cleaner := attachments.NewCleaner(store, resolver, cfg.Attachments.CleanupEnabled(), log.With(logx.String("comp", "attachments")))

	engine := dispatch.New(mapDispatchConfig(cfg), metrics, log.With(logx.String("comp", "dispatch")))
	exec := &dispatch.Executor{
		Store:    store,
		Engine:   engine,
		Resolver: resolver,
		Cleaner:  cleaner,
		Bus:      bus,
		Metrics:  metrics,
		Log:      log.With(logx.String("comp", "dispatch")),
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		metrics:  metrics,
		registry: reg,
		engine:   engine,
	}
	a.sched = scheduler.New(mapSchedulerConfig(cfg), scheduler.Deps{
		Store:    store,
		Tenants:  reg,
		Executor: exec,
		Bus:      bus,
		Metrics:  metrics,
	}, log.With(logx.String("comp", "scheduler")))
	a.posts = posting.New(posting.Deps{
		Store:    store,
		Clients:  reg,
		Executor: exec,
		Cleaner:  cleaner,
	}, log.With(logx.String("comp", "posting")))
	a.dests = destinations.New(store, reg, bus, log.With(logx.String("comp", "destinations")))
	a.retract = retraction.New(mapRetractionConfig(cfg), store, reg, bus, metrics, log.With(logx.String("comp", "retraction")))
	a.obs = observability.NewServer(mapObservabilityConfig(cfg), metrics, a.health, log.With(logx.String("comp", "observability")))

	logSvc.SetAlertSender(a.sendAlert)
	return a, nil
}

func (a *App) Posting() *posting.Service           { return a.posts }
func (a *App) Destinations() *destinations.Service { return a.dests }
func (a *App) Retraction() *retraction.Service     { return a.retract }
func (a *App) Scheduler() *scheduler.Service       { return a.sched }
func (a *App) Registry() *registry.Registry        { return a.registry }
func (a *App) Bus() eventbus.Bus                   { return a.bus }

// Done is closed when the app supervisor context is canceled.
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

func (a *App) health(ctx context.Context) error {
	if a.sup != nil && a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	if len(a.registry.Tenants()) == 0 {
		return errors.New("no tenants registered")
	}
	_, err := a.store.ListDestinations(ctx, domain.CredentialID(""))
	return err
}

// sendAlert delivers operator alerts through the first tenant's bot.
func (a *App) sendAlert(ctx context.Context, chat, text string) error {
	tenants := a.registry.Tenants()
	if len(tenants) == 0 {
		return registry.ErrUnknownTenant
	}
	client, err := a.registry.ClientByID(tenants[0].ID)
	if err != nil {
		return err
	}
	_, err = client.SendText(ctx, chat, text, nil)
	return err
}
