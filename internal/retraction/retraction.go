// Package retraction deletes previously delivered messages of a history entry.
package retraction

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	"tgcast/internal/observability"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

var ErrWrongTenant = errors.New("history entry belongs to another tenant")

type Store interface {
	GetHistory(ctx context.Context, id string) (domain.HistoryEntry, error)
	MarkRetracted(ctx context.Context, id string, at time.Time, results []domain.DispatchResult) error
}

type Clients interface {
	ClientByID(id domain.CredentialID) (transport.Client, error)
}

type Config struct {
	RatePerSec float64 // delete calls per second; 0 means 20
}

// Result of one retraction call. Total counts every recorded message id,
// Skipped those already deleted by an earlier call.
type Result struct {
	Deleted int
	Failed  int
	Skipped int
	Total   int
}

type Service struct {
	store   Store
	clients Clients
	bus     eventbus.Bus
	metrics *observability.Metrics
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, store Store, clients Clients, bus eventbus.Bus, metrics *observability.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{store: store, clients: clients, bus: bus, metrics: metrics, log: log, now: time.Now}
	s.limiter = rate.NewLimiter(limitFor(cfg), 1)
	return s
}

func limitFor(cfg Config) rate.Limit {
	if cfg.RatePerSec <= 0 {
		return rate.Limit(20)
	}
	return rate.Limit(cfg.RatePerSec)
}

// Apply changes the delete pace.
func (s *Service) Apply(cfg Config) { s.limiter.SetLimit(limitFor(cfg)) }

// Retract deletes every not-yet-retracted message of history entry id. Each
// delete is independent. The entry's retraction time and per-destination
// retracted ids are persisted once at least one delete succeeds.
func (s *Service) Retract(ctx context.Context, tenant domain.CredentialID, id string) (Result, error) {
	entry, err := s.store.GetHistory(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if entry.Tenant != tenant {
		return Result{}, ErrWrongTenant
	}
	client, err := s.clients.ClientByID(tenant)
	if err != nil {
		return Result{}, err
	}
	log := s.log.With(logx.String("tenant", string(tenant)), logx.String("history", id))

	var (
		res     Result
		waitErr error
	)
	results := append([]domain.DispatchResult(nil), entry.Results...)
	for i := range results {
		r := &results[i]
		res.Total += len(r.MessageIDs)
		res.Skipped += len(r.MessageIDs) - len(r.Pending())
		if waitErr != nil {
			continue
		}
		for _, mid := range r.Pending() {
			if err := s.limiter.Wait(ctx); err != nil {
				waitErr = err
				break
			}
			err := client.DeleteMessage(ctx, r.Chat, mid)
			if err != nil && !alreadyGone(err) {
				res.Failed++
				s.metrics.Retraction(false)
				log.Warn("delete message failed", logx.String("chat", r.Chat), logx.Int("message", mid), logx.Err(err))
				continue
			}
			res.Deleted++
			s.metrics.Retraction(true)
			r.RetractedIDs = append(r.RetractedIDs, mid)
		}
	}

	// Progress is stored even when pacing was interrupted, so a later call
	// does not repeat deletes that already happened.
	if res.Deleted > 0 {
		if err := s.store.MarkRetracted(context.WithoutCancel(ctx), id, s.now(), results); err != nil {
			return res, err
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRetracted, Data: res})
	}
	if waitErr != nil {
		log.Warn("retraction interrupted", logx.Int("deleted", res.Deleted), logx.Err(waitErr))
		return res, waitErr
	}
	log.Info("retraction finished",
		logx.Int("deleted", res.Deleted),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped),
		logx.Int("total", res.Total),
	)
	return res, nil
}

// alreadyGone reports a delete of a message that no longer exists.
func alreadyGone(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message to delete not found")
}
