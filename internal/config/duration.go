package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// orDefault is for values Validate has already checked.
func orDefault(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (t TelegramConfig) Timeout() time.Duration { return orDefault(t.RequestTimeout, 2*time.Minute) }

func (s StorageConfig) Busy() time.Duration { return orDefault(s.BusyTimeout, 5*time.Second) }

// Stagger values may legitimately be zero, so only empty falls back.
func stagger(raw string, def time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := ParseDurationField("", raw)
	if err != nil {
		return def
	}
	return d
}

// DispatchTuning is DispatchConfig with durations resolved and defaults applied.
type DispatchTuning struct {
	MaxAttempts  int
	RetryBase    time.Duration
	ResetBackoff time.Duration
	StaggerText  time.Duration
	StaggerMedia time.Duration
}

func (d DispatchConfig) Tuning() DispatchTuning {
	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return DispatchTuning{
		MaxAttempts:  attempts,
		RetryBase:    orDefault(d.RetryBase, time.Second),
		ResetBackoff: orDefault(d.ResetBackoff, 2*time.Second),
		StaggerText:  stagger(d.StaggerText, 500*time.Millisecond),
		StaggerMedia: stagger(d.StaggerMedia, 1500*time.Millisecond),
	}
}
