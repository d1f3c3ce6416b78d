package app

import (
	"fmt"
	"strings"

	"tgcast/internal/config"
	"tgcast/internal/dispatch"
	"tgcast/internal/observability"
	"tgcast/internal/retraction"
	"tgcast/internal/scheduler"
	"tgcast/internal/storage"
	"tgcast/internal/transport/telegram"
	logx "tgcast/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./data/tgcast.db"
	}
	return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: sc.Busy()}, nil
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		APIURL:         strings.TrimSpace(cfg.Telegram.APIURL),
		RequestTimeout: cfg.Telegram.Timeout(),
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	t := cfg.Dispatch.Tuning()
	return dispatch.Config{
		MaxAttempts:  t.MaxAttempts,
		RetryBase:    t.RetryBase,
		ResetBackoff: t.ResetBackoff,
		StaggerText:  t.StaggerText,
		StaggerMedia: t.StaggerMedia,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Spec: cfg.Scheduler.Spec}
}

func mapRetractionConfig(cfg *config.Config) retraction.Config {
	return retraction.Config{RatePerSec: cfg.Retraction.RatePerSec}
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	o := cfg.Observability
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          addr,
		Pprof:         o.Pprof,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Telegram.Enabled,
			Chat:       strings.TrimSpace(l.Telegram.Chat),
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// validate is the reload gate: everything New would reject is rejected here.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return scheduler.ValidateSpec(cfg.Scheduler.Spec)
}
