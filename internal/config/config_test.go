package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLWithEnv(t *testing.T) {
	t.Setenv("TGCAST_TEST_TOKEN", "123:abc")
	p := writeConfig(t, "c.yaml", `
telegram:
  tenants:
    - name: main
      token: ${TGCAST_TEST_TOKEN}
scheduler:
  enabled: true
dispatch:
  stagger_media: 2s
attachments:
  base_dirs: [uploads]
  cleanup: false
`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Telegram.Tenants[0].Token; got != "123:abc" {
		t.Fatalf("token = %q", got)
	}
	if !cfg.Scheduler.Enabled || cfg.Dispatch.StaggerMedia != "2s" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Attachments.CleanupEnabled() {
		t.Fatal("cleanup should be disabled")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeConfig(t, "c.json", `{"telegram":{"tenants":[{"token":"x"}]},"plugins":{}}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "at least one tenant") {
		t.Fatalf("err = %v", err)
	}
	cfg.Telegram.Tenants = []TenantConfig{{Token: "t"}}
	cfg.Dispatch.RetryBase = "soon"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "dispatch.retry_base") {
		t.Fatalf("err = %v", err)
	}
	cfg.Dispatch.RetryBase = "1s"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Tenants: []TenantConfig{{Token: "secret"}}}}
	b := *a
	b.Dispatch.StaggerText = "1s"
	changed, fields, restart := SummarizeConfigChange(a, &b)
	if len(changed) != 1 || changed[0] != "dispatch" || restart || len(fields) == 0 {
		t.Fatalf("changed=%v restart=%v", changed, restart)
	}
	b.Telegram = TelegramConfig{Tenants: []TenantConfig{{Token: "other"}}}
	changed, _, restart = SummarizeConfigChange(a, &b)
	if !restart || changed[len(changed)-1] != "telegram" {
		t.Fatalf("changed=%v restart=%v", changed, restart)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeConfig(t, "c.json", `{"telegram":{"tenants":[{"token":"a"}]}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	body := []byte(`{"telegram":{"tenants":[{"token":"a"}]},"scheduler":{"enabled":true}}`)
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, body, 0o600); err != nil {
		t.Fatal(err)
	}

	// Rewrites are spaced well past the debounce window so each one can
	// fire; they only matter if the first write beat the watcher.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if !cfg.Scheduler.Enabled {
				t.Fatalf("published cfg = %+v", cfg)
			}
			return
		case <-tick.C:
			_ = os.WriteFile(p, body, 0o600)
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestDispatchTuningDefaults(t *testing.T) {
	got := DispatchConfig{StaggerText: "0s"}.Tuning()
	want := DispatchTuning{
		MaxAttempts:  3,
		RetryBase:    time.Second,
		ResetBackoff: 2 * time.Second,
		StaggerText:  0,
		StaggerMedia: 1500 * time.Millisecond,
	}
	if got != want {
		t.Fatalf("Tuning() = %+v, want %+v", got, want)
	}
}
