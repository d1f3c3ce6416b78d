package destinations

import (
	"context"
	"fmt"
	"strings"

	"tgcast/internal/domain"
)

func (s *Service) CreateGroup(ctx context.Context, tenant domain.CredentialID, name string, ids []string) (domain.ChannelGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ChannelGroup{}, ErrEmptyName
	}
	ids, err := s.checkMembers(ctx, tenant, ids)
	if err != nil {
		return domain.ChannelGroup{}, err
	}
	g := domain.ChannelGroup{Tenant: tenant, Name: name, DestinationIDs: ids}
	if err := s.store.CreateGroup(ctx, &g); err != nil {
		return domain.ChannelGroup{}, err
	}
	return g, nil
}

// UpdateGroup renames a group (when name is non-empty) and replaces its members.
func (s *Service) UpdateGroup(ctx context.Context, tenant domain.CredentialID, id, name string, ids []string) (domain.ChannelGroup, error) {
	g, err := s.ownedGroup(ctx, tenant, id)
	if err != nil {
		return domain.ChannelGroup{}, err
	}
	ids, err = s.checkMembers(ctx, tenant, ids)
	if err != nil {
		return domain.ChannelGroup{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		g.Name = name
	}
	g.DestinationIDs = ids
	if err := s.store.UpdateGroup(ctx, g); err != nil {
		return domain.ChannelGroup{}, err
	}
	return g, nil
}

func (s *Service) DeleteGroup(ctx context.Context, tenant domain.CredentialID, id string) error {
	if _, err := s.ownedGroup(ctx, tenant, id); err != nil {
		return err
	}
	return s.store.DeleteGroup(ctx, id)
}

func (s *Service) ListGroups(ctx context.Context, tenant domain.CredentialID) ([]domain.ChannelGroup, error) {
	return s.store.ListGroups(ctx, tenant)
}

func (s *Service) ownedGroup(ctx context.Context, tenant domain.CredentialID, id string) (domain.ChannelGroup, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return domain.ChannelGroup{}, err
	}
	if g.Tenant != tenant {
		return domain.ChannelGroup{}, ErrWrongTenant
	}
	return g, nil
}

// checkMembers dedupes ids and verifies each belongs to tenant.
func (s *Service) checkMembers(ctx context.Context, tenant domain.CredentialID, ids []string) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		d, err := s.store.GetDestination(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", id, err)
		}
		if d.Tenant != tenant {
			return nil, fmt.Errorf("destination %s: %w", id, ErrWrongTenant)
		}
		out = append(out, id)
	}
	return out, nil
}
