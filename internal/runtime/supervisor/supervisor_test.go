package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("boom", func(context.Context) error { panic("bad") })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatal("expected recorded panic error")
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("nope") })
	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled")
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(context.Background())
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d", runs.Load())
	}
	if active, started := s.Counters(); active != 0 || started != 1 {
		t.Fatalf("counters = %d, %d", active, started)
	}
}
