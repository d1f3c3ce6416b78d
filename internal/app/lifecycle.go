package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tgcast/internal/config"
	rtsup "tgcast/internal/runtime/supervisor"
	logx "tgcast/pkg/logx"
)

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	a.obs.Start(a.sup.Context())

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, cfg)
				last = cfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("tenants", len(a.registry.Tenants())),
		logx.Bool("scheduler", a.cfgm.Get().Scheduler.Enabled),
	)
	return nil
}

// applyConfig pushes the live-tunable sections to their components.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, fields, restart := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if restart {
		a.log.Warn("telegram, storage or attachments config changed; restart required for those changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(cfg))
	a.engine.Apply(mapDispatchConfig(cfg))
	a.retract.Apply(mapRetractionConfig(cfg))
	if err := a.sched.Apply(ctx, mapSchedulerConfig(cfg)); err != nil {
		a.log.Warn("scheduler config not applied", logx.Err(err))
	}
	a.obs.Reconfigure(ctx, mapObservabilityConfig(cfg))

	all := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config applied", all...)
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 30*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
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
