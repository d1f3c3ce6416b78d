package logx

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMask(t *testing.T) {
	t.Parallel()
	in := "post https://api.telegram.org/bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw_x/sendMessage failed"
	out := Mask(in)
	if strings.Contains(out, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw") {
		t.Fatalf("credential not masked: %s", out)
	}
	if !strings.Contains(out, "sendMessage failed") {
		t.Fatalf("surrounding text lost: %s", out)
	}
	if Mask("chat -100123 ok") != "chat -100123 ok" {
		t.Fatal("unexpected change to plain text")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"warn","time":"x","message":"dispatch failed","tenant":"ab12","attempts":3}`))
	want := "[WARN] dispatch failed\n- attempts=3\n- tenant=ab12"
	if got != want {
		t.Fatalf("formatAlert =\n%q\nwant\n%q", got, want)
	}
}

func TestAlertSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{
		Level:  "debug",
		Alerts: AlertConfig{Enabled: true, Chat: "@ops", MinLevel: "warn", RatePerSec: 10},
	})
	defer svc.Close()

	got := make(chan string, 4)
	svc.SetAlertSender(func(_ context.Context, chat, text string) error {
		got <- chat + "|" + text
		return nil
	})

	log.Info("routine")
	log.Warn("provider slow", String("op", "sendPhoto"))

	select {
	case msg := <-got:
		if !strings.HasPrefix(msg, "@ops|[WARN] provider slow") {
			t.Fatalf("alert = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra alert %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(String("a", "b")).Error("ignored")
}
