package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks fields that can be checked without side effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if len(cfg.Telegram.Tenants) == 0 {
		errs = append(errs, errors.New("telegram.tenants: at least one tenant is required"))
	}
	for i, t := range cfg.Telegram.Tenants {
		if strings.TrimSpace(t.Token) == "" {
			errs = append(errs, fmt.Errorf("telegram.tenants[%d].token: empty", i))
		}
	}
	durations := map[string]string{
		"telegram.request_timeout": cfg.Telegram.RequestTimeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"dispatch.retry_base":      cfg.Dispatch.RetryBase,
		"dispatch.reset_backoff":   cfg.Dispatch.ResetBackoff,
		"dispatch.stagger_text":    cfg.Dispatch.StaggerText,
		"dispatch.stagger_media":   cfg.Dispatch.StaggerMedia,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Dispatch.MaxAttempts < 0 {
		errs = append(errs, errors.New("dispatch.max_attempts: must be >= 0"))
	}
	if cfg.Retraction.RatePerSec < 0 {
		errs = append(errs, errors.New("retraction.rate_per_sec: must be >= 0"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Logging.Telegram.Chat) == "" {
		errs = append(errs, errors.New("logging.telegram.chat: required when enabled"))
	}
	return errors.Join(errs...)
}
