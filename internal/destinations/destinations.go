// Package destinations manages the chats a tenant broadcasts into, their
// groups, and the cleanup of references when a destination is removed.
package destinations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

var (
	ErrNotAdmin          = errors.New("bot is not an administrator of the chat")
	ErrCannotPost        = errors.New("bot lacks permission to post in the channel")
	ErrAlreadyRegistered = errors.New("destination already registered")
	ErrWrongTenant       = errors.New("entity belongs to another tenant")
	ErrEmptyName         = errors.New("name is required")
)

type Clients interface {
	ClientByID(id domain.CredentialID) (transport.Client, error)
}

type Service struct {
	store   storage.Store
	clients Clients
	bus     eventbus.Bus
	log     logx.Logger
	timeout time.Duration
}

func New(store storage.Store, clients Clients, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{store: store, clients: clients, bus: bus, log: log, timeout: 20 * time.Second}
}

// NormalizeChat turns user input into a provider chat reference: numeric ids
// pass through, handles and t.me links become "@handle".
func NormalizeChat(ref string) string {
	ref = strings.TrimSpace(ref)
	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(strings.ToLower(ref), p) {
			ref = ref[len(p):]
			break
		}
	}
	ref = strings.TrimSuffix(ref, "/")
	if ref == "" {
		return ""
	}
	if _, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return ref
	}
	if !strings.HasPrefix(ref, "@") {
		ref = "@" + ref
	}
	return ref
}

// Register verifies that the tenant's bot administers chatRef (with post
// rights for channels) and stores it. The stored chat is the numeric id.
func (s *Service) Register(ctx context.Context, tenant domain.CredentialID, chatRef, name string, tags []string) (domain.Destination, error) {
	chat := NormalizeChat(chatRef)
	if chat == "" {
		return domain.Destination{}, fmt.Errorf("chat reference is required")
	}
	client, err := s.clients.ClientByID(tenant)
	if err != nil {
		return domain.Destination{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	info, err := client.GetChat(cctx, chat)
	if err != nil {
		return domain.Destination{}, fmt.Errorf("get chat %s: %w", chat, err)
	}
	me, err := client.GetMe(cctx)
	if err != nil {
		return domain.Destination{}, fmt.Errorf("get me: %w", err)
	}
	m, err := client.GetChatMember(cctx, chat, me.ID)
	if err != nil {
		return domain.Destination{}, fmt.Errorf("get chat member: %w", err)
	}
	if !m.IsAdminLike {
		return domain.Destination{}, fmt.Errorf("%w (status %s)", ErrNotAdmin, m.Status)
	}
	if info.Type == "channel" && !m.CanPost {
		return domain.Destination{}, ErrCannotPost
	}

	if info.ID != 0 {
		chat = strconv.FormatInt(info.ID, 10)
	}
	if name = strings.TrimSpace(name); name == "" {
		name = info.Title
	}
	if name == "" {
		name = chat
	}
	d := domain.Destination{Tenant: tenant, Chat: chat, Name: name, Tags: cleanTags(tags)}
	if err := s.store.CreateDestination(ctx, &d); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return domain.Destination{}, ErrAlreadyRegistered
		}
		return domain.Destination{}, err
	}
	s.log.Info("destination registered",
		logx.String("tenant", string(tenant)),
		logx.String("destination", d.ID),
		logx.String("chat", d.Chat),
		logx.String("name", d.Name),
	)
	return d, nil
}

func (s *Service) List(ctx context.Context, tenant domain.CredentialID) ([]domain.Destination, error) {
	return s.store.ListDestinations(ctx, tenant)
}

// Delete removes a destination and then sweeps references to it. A sweep
// failure is logged; the deletion stands.
func (s *Service) Delete(ctx context.Context, tenant domain.CredentialID, id string) error {
	d, err := s.store.GetDestination(ctx, id)
	if err != nil {
		return err
	}
	if d.Tenant != tenant {
		return ErrWrongTenant
	}
	if err := s.store.DeleteDestination(ctx, id); err != nil {
		return err
	}
	if _, err := s.Sweep(ctx, tenant, id); err != nil {
		s.log.Warn("reference sweep incomplete", logx.String("destination", id), logx.Err(err))
	}
	return nil
}

func cleanTags(tags []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
