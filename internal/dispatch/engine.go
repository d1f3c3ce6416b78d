// Package dispatch fans a post out to its destinations with staggered starts,
// bounded retries and per-destination failure isolation.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"tgcast/internal/domain"
	"tgcast/internal/observability"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

// Config tunes delivery. Zero fields take defaults. A single provider call
// is bounded by the client's own request timeout.
type Config struct {
	MaxAttempts  int
	RetryBase    time.Duration // wait RetryBase*attempt after a failure
	ResetBackoff time.Duration // wait ResetBackoff*attempt after a connection reset
	StaggerText  time.Duration
	StaggerMedia time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.ResetBackoff <= 0 {
		c.ResetBackoff = 2 * time.Second
	}
	if c.StaggerText < 0 {
		c.StaggerText = 0
	}
	if c.StaggerMedia < 0 {
		c.StaggerMedia = 0
	}
	return c
}

// Backoff is the wait before retry attempt+1 after err.
func (c Config) Backoff(err error, attempt int) time.Duration {
	wait := c.RetryBase * time.Duration(attempt)
	if transport.IsConnReset(err) {
		wait = c.ResetBackoff * time.Duration(attempt)
	}
	var te *transport.Error
	if errors.As(err, &te) && te.RetryAfter > wait {
		wait = te.RetryAfter
	}
	return wait
}

// Target is one resolved destination.
type Target struct {
	DestinationID string
	Chat          string
}

// Request is everything a dispatch needs; the engine keeps no reference to it.
type Request struct {
	Text    string
	Plan    Plan
	Targets []Target
	Format  domain.Format
	Buttons []domain.ButtonRow
}

type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	log     logx.Logger
	metrics *observability.Metrics

	// wait pauses between retries; tests replace it.
	wait func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, metrics *observability.Metrics, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.withDefaults(), metrics: metrics, log: log, wait: sleep}
}

// Apply swaps the tuning used by dispatches that start afterwards.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Dispatch sends req to every target and returns one result per target, in
// target order. Target i starts i stagger intervals after the first; sends
// overlap once started. Failures never stop other targets.
func (e *Engine) Dispatch(ctx context.Context, client transport.Client, req Request) []domain.DispatchResult {
	cfg := e.config()
	stagger := cfg.StaggerText
	if req.Plan.HasMedia() {
		stagger = cfg.StaggerMedia
	}
	steps := req.Plan.Steps(req.Text, req.Format)

	results := make([]domain.DispatchResult, len(req.Targets))
	var wg sync.WaitGroup
	for i, t := range req.Targets {
		if i > 0 && stagger > 0 {
			if err := sleep(ctx, stagger); err != nil {
				for j := i; j < len(req.Targets); j++ {
					results[j] = failed(req.Targets[j], "dispatch cancelled before send")
				}
				break
			}
		}
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			results[i] = e.deliver(ctx, cfg, client, req, steps, t)
		}(i, t)
	}
	wg.Wait()
	return results
}

// deliver runs the steps in order for one target. Ids of steps that went
// out before a failure stay on the result so retraction can remove them.
func (e *Engine) deliver(ctx context.Context, cfg Config, client transport.Client, req Request, steps []Step, t Target) domain.DispatchResult {
	kind := string(req.Plan.Kind())
	var ids []int
	for _, st := range steps {
		got, err := e.run(ctx, cfg, client, req, st, t)
		ids = append(ids, got...)
		if err != nil {
			e.metrics.Send(kind, false)
			e.log.Warn("send failed",
				logx.String("chat", t.Chat),
				logx.String("kind", string(st.Kind)),
				logx.String("class", transport.Classify(err).String()),
				logx.Int("delivered", len(ids)),
				logx.Err(err),
			)
			res := failed(t, transport.Describe(err))
			res.MessageIDs = ids
			return res
		}
	}
	e.metrics.Send(kind, true)
	return domain.DispatchResult{DestinationID: t.DestinationID, Chat: t.Chat, OK: true, MessageIDs: ids}
}

// run executes one step with bounded retries. A failure that already
// delivered part of the step is returned as is: retrying would repeat the
// delivered part.
func (e *Engine) run(ctx context.Context, cfg Config, client transport.Client, req Request, st Step, t Target) ([]int, error) {
	opt := &transport.SendOptions{Format: req.Format}
	if st.Buttons {
		opt.Buttons = req.Buttons
	}
	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		e.metrics.Attempt()
		rc, err := send(ctx, client, st, opt, t.Chat)
		if err == nil {
			return rc.MessageIDs, nil
		}
		if len(rc.MessageIDs) > 0 {
			return rc.MessageIDs, err
		}
		last = err
		if !transport.IsTransient(err) || attempt == cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		wait := cfg.Backoff(err, attempt)
		e.log.Debug("send retry scheduled",
			logx.String("chat", t.Chat),
			logx.String("kind", string(st.Kind)),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", wait),
			logx.Err(err),
		)
		if e.wait(ctx, wait) != nil {
			break
		}
	}
	return nil, last
}

func send(ctx context.Context, client transport.Client, st Step, opt *transport.SendOptions, chat string) (transport.Receipt, error) {
	switch st.Kind {
	case SendPhoto:
		return client.SendPhoto(ctx, chat, st.Media[0], st.Text, opt)
	case SendVideo:
		return client.SendVideo(ctx, chat, st.Media[0], st.Text, opt)
	case SendDocument:
		return client.SendDocument(ctx, chat, st.Media[0], st.Text, opt)
	case SendMediaGroup:
		return client.SendMediaGroup(ctx, chat, st.Media, st.Text, opt)
	default:
		return client.SendText(ctx, chat, st.Text, opt)
	}
}

func failed(t Target, msg string) domain.DispatchResult {
	return domain.DispatchResult{DestinationID: t.DestinationID, Chat: t.Chat, Error: msg}
}

// FailAll builds failure results for targets that were never attempted.
func FailAll(targets []Target, msg string) []domain.DispatchResult {
	out := make([]domain.DispatchResult, 0, len(targets))
	for _, t := range targets {
		out = append(out, failed(t, msg))
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
