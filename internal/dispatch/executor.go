package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgcast/internal/attachments"
	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	"tgcast/internal/observability"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

// ErrNoDestinations means none of a post's destinations exist any more.
var ErrNoDestinations = errors.New("no resolvable destinations")

// Store is the persistence the executor needs.
type Store interface {
	GetDestination(ctx context.Context, id string) (domain.Destination, error)
	CreateHistory(ctx context.Context, h *domain.HistoryEntry) error
}

// Executor runs one post end to end: destination lookup, attachment
// resolution, fan-out, history write, attachment cleanup.
type Executor struct {
	Store    Store
	Engine   *Engine
	Resolver *attachments.Resolver
	Cleaner  *attachments.Cleaner
	Bus      eventbus.Bus
	Metrics  *observability.Metrics
	Log      logx.Logger
	Now      func() time.Time
}

func (x *Executor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func (x *Executor) log() logx.Logger {
	if x.Log.IsZero() {
		return logx.Nop()
	}
	return x.Log
}

// Execute dispatches post through client and records the outcome.
//
// Errors returned before any send (store failures, ErrNoDestinations) mean
// nothing was delivered. A history write failure after delivery is logged and
// the entry is still returned so the caller treats the post as consumed.
//
// Cancelling ctx does not interrupt a started post: sends, history and
// cleanup always finish so delivered messages stay recorded.
func (x *Executor) Execute(ctx context.Context, client transport.Client, post domain.OneOffPost) (domain.HistoryEntry, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := x.log().With(logx.String("tenant", string(post.Tenant)), logx.String("post", post.ID))

	targets, missing, err := x.targets(ctx, post)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	if len(targets) == 0 {
		return domain.HistoryEntry{}, ErrNoDestinations
	}

	var results []domain.DispatchResult
	resolved, rerr := x.Resolver.ResolveAll(post.Attachments)
	if rerr != nil {
		serr := &transport.Error{Kind: transport.KindStorage, Op: "resolve attachments", Err: rerr}
		log.Warn("attachments missing, skipping sends", logx.Err(rerr))
		results = FailAll(targets, transport.Describe(serr))
	} else {
		results = x.Engine.Dispatch(ctx, client, Request{
			Text:    post.Text,
			Plan:    PlanFor(resolved),
			Targets: targets,
			Format:  post.Format,
			Buttons: post.Buttons,
		})
	}
	results = inOrder(post.DestinationIDs, append(results, FailAll(missing, "destination not found")...))

	entry := domain.HistoryEntry{
		Tenant:          post.Tenant,
		PostID:          post.ID,
		Text:            post.Text,
		AttachmentNames: domain.AttachmentNames(post.Attachments),
		DestinationIDs:  append([]string(nil), post.DestinationIDs...),
		Results:         results,
		SentAt:          x.now(),
		CreatedBy:       post.CreatedBy,
		Format:          post.Format,
		Buttons:         post.Buttons,
	}
	if err := x.Store.CreateHistory(ctx, &entry); err != nil {
		log.Error("history write failed", logx.Err(err))
	}

	if _, err := x.Cleaner.Cleanup(ctx, post.ID, post.Attachments); err != nil {
		log.Warn("attachment cleanup incomplete", logx.Err(err))
	}

	state := entry.State()
	ok, failed := domain.Counts(results)
	took := time.Since(start)
	x.Metrics.Dispatch(string(state))
	if x.Bus != nil {
		x.Bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchCompleted, Data: eventbus.DispatchCompleted{
			Tenant:    string(post.Tenant),
			PostID:    post.ID,
			HistoryID: entry.ID,
			State:     string(state),
			OK:        ok,
			Failed:    failed,
			Took:      took,
		}})
	}

	fields := []logx.Field{
		logx.String("state", string(state)),
		logx.Int("ok", ok),
		logx.Int("failed", failed),
		logx.Duration("took", took),
	}
	if failed > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}
	return entry, nil
}

// inOrder arranges results by the post's destination order.
func inOrder(ids []string, results []domain.DispatchResult) []domain.DispatchResult {
	byID := make(map[string]domain.DispatchResult, len(results))
	for _, r := range results {
		byID[r.DestinationID] = r
	}
	out := make([]domain.DispatchResult, 0, len(results))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out
}

// targets splits a post's destination ids into resolvable targets and ids
// that no longer exist (or belong to another tenant).
func (x *Executor) targets(ctx context.Context, post domain.OneOffPost) (found, missing []Target, err error) {
	seen := make(map[string]struct{}, len(post.DestinationIDs))
	for _, id := range post.DestinationIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		d, err := x.Store.GetDestination(ctx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && d.Tenant != post.Tenant) {
			missing = append(missing, Target{DestinationID: id})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load destination %s: %w", id, err)
		}
		found = append(found, Target{DestinationID: d.ID, Chat: d.Chat})
	}
	return found, missing, nil
}
