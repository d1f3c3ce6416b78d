// Package scheduler drives the periodic tick: for every tenant it materializes
// due recurring definitions and dispatches due one-off posts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tgcast/internal/dispatch"
	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	"tgcast/internal/observability"
	"tgcast/internal/recurrence"
	"tgcast/internal/registry"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

// ErrTickInProgress is returned when a tick starts while another is running.
// The new tick is dropped, not queued.
var ErrTickInProgress = errors.New("scheduler tick already in progress")

const DefaultSpec = "@every 1m"

type Config struct {
	Enabled bool
	Spec    string
}

func (c Config) spec() string {
	if s := strings.TrimSpace(c.Spec); s != "" {
		return s
	}
	return DefaultSpec
}

// Store is the slice of storage the tick touches.
type Store interface {
	ListDuePosts(ctx context.Context, tenant domain.CredentialID, now time.Time) ([]domain.OneOffPost, error)
	ListDueRecurring(ctx context.Context, tenant domain.CredentialID, now time.Time) ([]domain.RecurringDefinition, error)
	MaterializeRecurring(ctx context.Context, defID string, expected time.Time, post *domain.OneOffPost, next time.Time) error
	DeletePost(ctx context.Context, id string) error
}

// Tenants yields registered tenants and their clients.
type Tenants interface {
	Tenants() []registry.Tenant
	ClientByID(id domain.CredentialID) (transport.Client, error)
}

// Executor runs one due post.
type Executor interface {
	Execute(ctx context.Context, client transport.Client, post domain.OneOffPost) (domain.HistoryEntry, error)
}

type Deps struct {
	Store    Store
	Tenants  Tenants
	Executor Executor
	Bus      eventbus.Bus
	Metrics  *observability.Metrics
	Now      func() time.Time
}

// Report summarizes one tick.
type Report struct {
	Tenants      int
	Materialized int
	Processed    int
	Errors       int
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	d   Deps

	parser    cron.Parser
	c         *cron.Cron
	runCancel context.CancelFunc

	running atomic.Bool
}

func New(cfg Config, d Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	return &Service{
		cfg:    cfg,
		d:      d,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateSpec reports whether spec parses as a tick schedule.
func ValidateSpec(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(Config{Spec: spec}.spec()); err != nil {
		return fmt.Errorf("invalid tick spec %q: %w", spec, err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	spec := s.cfg.spec()
	if _, err := c.AddFunc(spec, func() { _, _ = s.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduler spec %q: %w", spec, err)
	}
	c.Start()
	s.c, s.runCancel = c, cancel
	s.log.Info("scheduler started", logx.String("spec", spec))
	return nil
}

// Stop halts the timer and waits for a running tick, or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.runCancel
	s.c, s.runCancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

// Apply swaps config and restarts the timer when enablement or spec changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if running && (!cfg.Enabled || cfg.spec() != old.spec()) {
		s.Stop(ctx)
		running = false
	}
	if !running && cfg.Enabled {
		return s.Start(ctx)
	}
	return nil
}

// Tick processes every tenant once. Tenants run sequentially; a failing
// tenant or post is logged and skipped.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.d.Metrics.Tick("skipped", 0)
		s.log.Warn("tick skipped, previous tick still running")
		return Report{}, ErrTickInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	now := s.d.Now()
	var rep Report
	for _, t := range s.d.Tenants.Tenants() {
		if ctx.Err() != nil {
			break
		}
		rep.Tenants++
		s.tickTenant(ctx, t.ID, now, &rep)
	}

	took := time.Since(start)
	result := "ok"
	if rep.Errors > 0 {
		result = "error"
	}
	s.d.Metrics.Tick(result, took)
	s.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeTickCompleted, Data: eventbus.TickCompleted{
		Tenants:      rep.Tenants,
		Materialized: rep.Materialized,
		Processed:    rep.Processed,
		Errors:       rep.Errors,
		Took:         took,
	}})
	if rep.Processed > 0 || rep.Errors > 0 {
		s.log.Info("tick done",
			logx.Int("tenants", rep.Tenants),
			logx.Int("materialized", rep.Materialized),
			logx.Int("processed", rep.Processed),
			logx.Int("errors", rep.Errors),
			logx.Duration("took", took),
		)
	}
	return rep, ctx.Err()
}

func (s *Service) tickTenant(ctx context.Context, tenant domain.CredentialID, now time.Time, rep *Report) {
	log := s.log.With(logx.String("tenant", string(tenant)))
	defer func() {
		if r := recover(); r != nil {
			rep.Errors++
			log.Error("tenant tick panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	client, err := s.d.Tenants.ClientByID(tenant)
	if err != nil {
		rep.Errors++
		log.Warn("tenant skipped, client unavailable", logx.Err(err))
		return
	}

	rep.Materialized += s.materializeRecurring(ctx, tenant, now, log, rep)

	posts, err := s.d.Store.ListDuePosts(ctx, tenant, now)
	if err != nil {
		rep.Errors++
		log.Error("load due posts failed", logx.Err(err))
		return
	}
	for _, p := range posts {
		if ctx.Err() != nil {
			return
		}
		if err := s.processPost(ctx, client, p, log); err != nil {
			rep.Errors++
			continue
		}
		rep.Processed++
	}
}

// materializeRecurring turns every due definition into a one-off post and
// advances its next trigger in the same transaction. A definition already
// advanced by someone else is skipped.
func (s *Service) materializeRecurring(ctx context.Context, tenant domain.CredentialID, now time.Time, log logx.Logger, rep *Report) int {
	defs, err := s.d.Store.ListDueRecurring(ctx, tenant, now)
	if err != nil {
		rep.Errors++
		log.Error("load due recurring failed", logx.Err(err))
		return 0
	}
	n := 0
	for _, def := range defs {
		post := domain.OneOffPost{
			Tenant:         def.Tenant,
			Text:           def.Text,
			Attachments:    def.Attachments,
			DestinationIDs: def.DestinationIDs,
			Format:         def.Format,
			Buttons:        def.Buttons,
			TriggerAt:      def.NextTrigger,
			CreatedBy:      def.CreatedBy,
			RecurringID:    def.ID,
		}
		next := recurrence.Next(def, now)
		err := s.d.Store.MaterializeRecurring(ctx, def.ID, def.NextTrigger, &post, next)
		switch {
		case errors.Is(err, storage.ErrConflict):
			log.Debug("recurring already materialized", logx.String("recurring", def.ID))
		case err != nil:
			rep.Errors++
			log.Error("materialize recurring failed", logx.String("recurring", def.ID), logx.Err(err))
		default:
			n++
			log.Debug("recurring materialized",
				logx.String("recurring", def.ID),
				logx.String("post", post.ID),
				logx.Time("next", next),
			)
		}
	}
	return n
}

// processPost dispatches one due post and removes it. A post that fails before
// dispatch stays for the next tick unless none of its destinations exist.
// Once started, a post runs to completion even if ctx is cancelled; the tick
// only checks for cancellation between posts.
func (s *Service) processPost(ctx context.Context, client transport.Client, p domain.OneOffPost, log logx.Logger) (err error) {
	ctx = context.WithoutCancel(ctx)
	log = log.With(logx.String("post", p.ID))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("post processing panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	_, err = s.d.Executor.Execute(ctx, client, p)
	switch {
	case errors.Is(err, dispatch.ErrNoDestinations):
		log.Warn("post has no resolvable destinations, removing")
		err = nil
	case err != nil:
		log.Error("post dispatch failed, will retry next tick", logx.Err(err))
		return err
	}
	if derr := s.d.Store.DeletePost(ctx, p.ID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
		log.Error("remove consumed post failed", logx.Err(derr))
		return derr
	}
	return nil
}

// cronLogger routes robfig/cron logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
