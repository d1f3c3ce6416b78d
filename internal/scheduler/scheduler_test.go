package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tgcast/internal/attachments"
	"tgcast/internal/dispatch"
	"tgcast/internal/domain"
	"tgcast/internal/registry"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	"tgcast/internal/transport/transporttest"
	logx "tgcast/pkg/logx"
)

const (
	tokenA = "111111:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	tokenB = "222222:BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

type harness struct {
	store  storage.Store
	reg    *registry.Registry
	fake   *transporttest.Client
	exec   *dispatch.Executor
	svc    *Service
	tenant domain.CredentialID
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fake := transporttest.New()
	reg := registry.New(func(string) (transport.Client, error) { return fake, nil }, logx.Nop())
	tenant, err := reg.Register("a", tokenA)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := &harness{store: st, reg: reg, fake: fake, tenant: tenant, now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}
	resolver := attachments.NewResolver(nil, logx.Nop())
	exec := &dispatch.Executor{
		Store:    st,
		Engine:   dispatch.New(dispatch.Config{RetryBase: time.Millisecond, ResetBackoff: time.Millisecond}, nil, logx.Nop()),
		Resolver: resolver,
		Cleaner:  attachments.NewCleaner(st, resolver, true, logx.Nop()),
		Now:      func() time.Time { return h.now },
	}
	h.exec = exec
	h.svc = New(Config{Enabled: true}, Deps{
		Store:    st,
		Tenants:  reg,
		Executor: exec,
		Now:      func() time.Time { return h.now },
	}, logx.Nop())
	return h
}

func (h *harness) destination(t *testing.T, chat string) string {
	t.Helper()
	d := &domain.Destination{Tenant: h.tenant, Chat: chat, Name: chat}
	if err := h.store.CreateDestination(context.Background(), d); err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}
	return d.ID
}

func TestTickDispatchesPastDuePost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dest := h.destination(t, "@news")

	due := &domain.OneOffPost{Tenant: h.tenant, Text: "due", DestinationIDs: []string{dest}, TriggerAt: h.now.Add(-time.Minute)}
	later := &domain.OneOffPost{Tenant: h.tenant, Text: "later", DestinationIDs: []string{dest}, TriggerAt: h.now.Add(time.Hour)}
	for _, p := range []*domain.OneOffPost{due, later} {
		if err := h.store.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
	}

	rep, err := h.svc.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Processed != 1 || rep.Errors != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if _, err := h.store.GetPost(ctx, due.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("due post still stored: %v", err)
	}
	if _, err := h.store.GetPost(ctx, later.ID); err != nil {
		t.Fatalf("future post removed: %v", err)
	}
	hist, err := h.store.ListHistory(ctx, h.tenant, 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].PostID != due.ID || hist[0].State() != domain.StateSent {
		t.Fatalf("history = %+v", hist)
	}
	if n := h.fake.Count("sendText", "@news"); n != 1 {
		t.Fatalf("sends = %d", n)
	}
}

func TestTickFinishesStartedPostAfterCancel(t *testing.T) {
	h := newHarness(t)
	h.exec.Engine.Apply(dispatch.Config{RetryBase: time.Millisecond, ResetBackoff: time.Millisecond, StaggerText: 50 * time.Millisecond})
	dests := []string{h.destination(t, "@one"), h.destination(t, "@two")}
	for i := 0; i < 2; i++ {
		p := &domain.OneOffPost{Tenant: h.tenant, Text: "x", DestinationIDs: dests, TriggerAt: h.now.Add(-time.Duration(i+1) * time.Minute)}
		if err := h.store.CreatePost(context.Background(), p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	h.fake.Fail = func(transporttest.Call) error {
		once.Do(cancel)
		return nil
	}

	rep, err := h.svc.Tick(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick err = %v", err)
	}
	if rep.Processed != 1 || rep.Errors != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if n := h.fake.Count("sendText", ""); n != 2 {
		t.Fatalf("sends = %d, want both destinations of the started post", n)
	}
	bg := context.Background()
	hist, err := h.store.ListHistory(bg, h.tenant, 10)
	if err != nil || len(hist) != 1 || hist[0].State() != domain.StateSent {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	left, err := h.store.ListDuePosts(bg, h.tenant, h.now)
	if err != nil || len(left) != 1 {
		t.Fatalf("remaining posts = %+v, %v", left, err)
	}
}

func TestTickMaterializesRecurring(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dest := h.destination(t, "@daily")

	def := &domain.RecurringDefinition{
		Tenant:         h.tenant,
		Text:           "morning",
		DestinationIDs: []string{dest},
		Cadence:        domain.CadenceDaily,
		Hour:           9,
		Enabled:        true,
		NextTrigger:    time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
	}
	if err := h.store.CreateRecurring(ctx, def); err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}

	rep, err := h.svc.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Materialized != 1 || rep.Processed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got, err := h.store.GetRecurring(ctx, def.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	want := time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)
	if !got.NextTrigger.Equal(want) {
		t.Fatalf("next trigger = %v, want %v", got.NextTrigger, want)
	}

	rep, err = h.svc.Tick(ctx)
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if rep.Materialized != 0 || rep.Processed != 0 {
		t.Fatalf("definition fired twice: %+v", rep)
	}
	if n := h.fake.Count("sendText", "@daily"); n != 1 {
		t.Fatalf("sends = %d", n)
	}
}

func TestTickRemovesPostWithoutDestinations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := &domain.OneOffPost{Tenant: h.tenant, Text: "orphan", DestinationIDs: []string{"deleted"}, TriggerAt: h.now.Add(-time.Hour)}
	if err := h.store.CreatePost(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, err := h.store.GetPost(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("orphan post kept: %v", err)
	}
}

func TestTickSkipsBrokenTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if _, err := h.reg.Register("bad", "not-a-token"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	dest := h.destination(t, "@ok")
	if err := h.store.CreatePost(ctx, &domain.OneOffPost{Tenant: h.tenant, Text: "x", DestinationIDs: []string{dest}, TriggerAt: h.now}); err != nil {
		t.Fatal(err)
	}

	rep, err := h.svc.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Tenants != 2 || rep.Errors != 1 || rep.Processed != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

type blockingExecutor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingExecutor) Execute(ctx context.Context, _ transport.Client, _ domain.OneOffPost) (domain.HistoryEntry, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return domain.HistoryEntry{}, nil
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dest := h.destination(t, "@slow")
	if err := h.store.CreatePost(ctx, &domain.OneOffPost{Tenant: h.tenant, Text: "x", DestinationIDs: []string{dest}, TriggerAt: h.now}); err != nil {
		t.Fatal(err)
	}
	blk := &blockingExecutor{entered: make(chan struct{}), release: make(chan struct{})}
	h.svc.d.Executor = blk

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Tick(ctx)
		done <- err
	}()
	<-blk.entered

	if _, err := h.svc.Tick(ctx); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("overlapping Tick err = %v, want ErrTickInProgress", err)
	}
	close(blk.release)
	if err := <-done; err != nil {
		t.Fatalf("first Tick: %v", err)
	}
}

func TestValidateSpec(t *testing.T) {
	if err := ValidateSpec(""); err != nil {
		t.Fatalf("default spec: %v", err)
	}
	if err := ValidateSpec("*/5 * * * *"); err != nil {
		t.Fatalf("cron spec: %v", err)
	}
	if err := ValidateSpec("every minute"); err == nil {
		t.Fatal("expected error for bad spec")
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.svc.Stop(ctx)
	if err := h.svc.Apply(ctx, Config{Enabled: true, Spec: "bogus"}); err == nil {
		t.Fatal("expected Apply to reject bad spec")
	}
}
