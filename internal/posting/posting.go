// Package posting is the operator-facing surface for content: immediate
// sends, one-off scheduling, recurring definitions and history.
package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tgcast/internal/attachments"
	"tgcast/internal/domain"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

var (
	ErrPastTrigger    = errors.New("trigger time must be in the future")
	ErrNoDestinations = errors.New("at least one destination is required")
	ErrEmptyPost      = errors.New("post needs text or at least one attachment")
	ErrWrongTenant    = errors.New("entity belongs to another tenant")
)

// Clients resolves a tenant's messaging client.
type Clients interface {
	ClientByID(id domain.CredentialID) (transport.Client, error)
}

// Executor runs one post end to end.
type Executor interface {
	Execute(ctx context.Context, client transport.Client, post domain.OneOffPost) (domain.HistoryEntry, error)
}

type Deps struct {
	Store    storage.Store
	Clients  Clients
	Executor Executor
	Cleaner  *attachments.Cleaner
	Prepare  attachments.PrepareFunc
	Now      func() time.Time
}

// Draft is caller input shared by every kind of post. Format is a free-form
// tag normalized with domain.ParseFormat.
type Draft struct {
	Text           string
	Attachments    []domain.Attachment
	DestinationIDs []string
	GroupIDs       []string
	Format         string
	Buttons        []domain.ButtonRow
	CreatedBy      int64
}

// RecurringInput is a Draft plus its repeat rule.
type RecurringInput struct {
	Draft
	Cadence   domain.Cadence
	Hour      int
	Minute    int
	DayOfWeek int
	Enabled   bool
}

type Service struct {
	d   Deps
	log logx.Logger
}

func New(d Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Prepare == nil {
		d.Prepare = attachments.Identity
	}
	return &Service{d: d, log: log}
}

// content is a validated Draft.
type content struct {
	text    string
	atts    []domain.Attachment
	dests   []string
	format  domain.Format
	buttons []domain.ButtonRow
}

func (s *Service) prepare(ctx context.Context, tenant domain.CredentialID, d Draft) (content, error) {
	text := strings.TrimSpace(d.Text)
	if text == "" && len(d.Attachments) == 0 {
		return content{}, ErrEmptyPost
	}
	dests, err := s.expand(ctx, tenant, d.DestinationIDs, d.GroupIDs)
	if err != nil {
		return content{}, err
	}
	atts, err := attachments.PrepareAll(ctx, s.d.Prepare, d.Attachments)
	if err != nil {
		return content{}, err
	}
	return content{
		text:    text,
		atts:    atts,
		dests:   dests,
		format:  domain.ParseFormat(d.Format),
		buttons: cleanButtons(d.Buttons),
	}, nil
}

// expand merges explicit destination ids with the members of groups,
// keeping first-seen order.
func (s *Service) expand(ctx context.Context, tenant domain.CredentialID, ids, groups []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range ids {
		add(id)
	}
	for _, gid := range groups {
		g, err := s.d.Store.GetGroup(ctx, gid)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", gid, err)
		}
		if g.Tenant != tenant {
			return nil, fmt.Errorf("group %s: %w", gid, ErrWrongTenant)
		}
		for _, id := range g.DestinationIDs {
			add(id)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoDestinations
	}
	return out, nil
}

func cleanButtons(rows []domain.ButtonRow) []domain.ButtonRow {
	var out []domain.ButtonRow
	for _, row := range rows {
		var r domain.ButtonRow
		for _, b := range row {
			if strings.TrimSpace(b.Label) == "" || strings.TrimSpace(b.URL) == "" {
				continue
			}
			r = append(r, b)
		}
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// SendNow dispatches immediately and returns the recorded history entry with
// one result per destination.
func (s *Service) SendNow(ctx context.Context, tenant domain.CredentialID, d Draft) (domain.HistoryEntry, error) {
	start := time.Now()
	c, err := s.prepare(ctx, tenant, d)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	client, err := s.d.Clients.ClientByID(tenant)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	post := domain.OneOffPost{
		Tenant:         tenant,
		Text:           c.text,
		Attachments:    c.atts,
		DestinationIDs: c.dests,
		Format:         c.format,
		Buttons:        c.buttons,
		TriggerAt:      s.d.Now(),
		CreatedBy:      d.CreatedBy,
	}
	entry, err := s.d.Executor.Execute(ctx, client, post)
	if err != nil {
		s.audit(ctx, tenant, d.CreatedBy, "post.send", "", 0, len(c.dests), err, time.Since(start), nil)
		return domain.HistoryEntry{}, err
	}
	ok, failed := domain.Counts(entry.Results)
	s.audit(ctx, tenant, d.CreatedBy, "post.send", entry.ID, ok, failed, nil, time.Since(start), map[string]any{"state": entry.State()})
	return entry, nil
}

// Schedule stores a one-off post for at, which must be in the future.
func (s *Service) Schedule(ctx context.Context, tenant domain.CredentialID, d Draft, at time.Time) (domain.OneOffPost, error) {
	if !at.After(s.d.Now()) {
		return domain.OneOffPost{}, ErrPastTrigger
	}
	c, err := s.prepare(ctx, tenant, d)
	if err != nil {
		return domain.OneOffPost{}, err
	}
	post := domain.OneOffPost{
		Tenant:         tenant,
		Text:           c.text,
		Attachments:    c.atts,
		DestinationIDs: c.dests,
		Format:         c.format,
		Buttons:        c.buttons,
		TriggerAt:      at,
		CreatedBy:      d.CreatedBy,
	}
	if err := s.d.Store.CreatePost(ctx, &post); err != nil {
		return domain.OneOffPost{}, err
	}
	s.log.Info("post scheduled",
		logx.String("tenant", string(tenant)),
		logx.String("post", post.ID),
		logx.Time("at", at),
		logx.Int("destinations", len(post.DestinationIDs)),
	)
	s.audit(ctx, tenant, d.CreatedBy, "post.schedule", post.ID, 1, 0, nil, 0, nil)
	return post, nil
}

// ListScheduled returns the tenant's pending one-off posts.
func (s *Service) ListScheduled(ctx context.Context, tenant domain.CredentialID) ([]domain.OneOffPost, error) {
	return s.d.Store.ListPosts(ctx, tenant)
}

// CancelScheduled removes a pending post and its unshared attachment files.
func (s *Service) CancelScheduled(ctx context.Context, tenant domain.CredentialID, actor int64, id string) error {
	p, err := s.d.Store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if p.Tenant != tenant {
		return ErrWrongTenant
	}
	if err := s.d.Store.DeletePost(ctx, id); err != nil {
		return err
	}
	if _, err := s.d.Cleaner.Cleanup(ctx, id, p.Attachments); err != nil {
		s.log.Warn("attachment cleanup incomplete", logx.String("post", id), logx.Err(err))
	}
	s.audit(ctx, tenant, actor, "post.cancel", id, 1, 0, nil, 0, nil)
	return nil
}

// History lists dispatches newest first; each entry derives its state from
// its results.
func (s *Service) History(ctx context.Context, tenant domain.CredentialID, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.d.Store.ListHistory(ctx, tenant, limit)
}

func (s *Service) audit(ctx context.Context, tenant domain.CredentialID, actor int64, action, target string, ok, fail int, err error, took time.Duration, meta map[string]any) {
	a := storage.AuditEntry{
		At:      s.d.Now(),
		Tenant:  tenant,
		ActorID: actor,
		Action:  action,
		Target:  target,
		OK:      ok,
		Fail:    fail,
		TookMS:  took.Milliseconds(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, jerr := json.Marshal(meta); jerr == nil {
			a.Meta = string(b)
		}
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if aerr := s.d.Store.AppendAudit(cctx, a); aerr != nil {
		s.log.Debug("audit write failed", logx.String("action", action), logx.Err(aerr))
	}
}
