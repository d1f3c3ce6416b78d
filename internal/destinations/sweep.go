package destinations

import (
	"context"
	"errors"
	"fmt"

	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	logx "tgcast/pkg/logx"
)

// SweepReport counts the entities whose destination lists were rewritten.
type SweepReport struct {
	Groups    int
	Posts     int
	Recurring int
}

// Sweep removes destID from every group, pending post and recurring
// definition of tenant. Only lists that actually contained the id are
// written. Failures are collected and do not stop the sweep.
func (s *Service) Sweep(ctx context.Context, tenant domain.CredentialID, destID string) (SweepReport, error) {
	var rep SweepReport
	var errs []error

	if groups, err := s.store.ListGroups(ctx, tenant); err != nil {
		errs = append(errs, fmt.Errorf("list groups: %w", err))
	} else {
		for _, g := range groups {
			ids, changed := domain.RemoveID(g.DestinationIDs, destID)
			if !changed {
				continue
			}
			if err := s.store.UpdateGroupDestinations(ctx, g.ID, ids); err != nil {
				errs = append(errs, fmt.Errorf("group %s: %w", g.ID, err))
				continue
			}
			rep.Groups++
		}
	}

	if posts, err := s.store.ListPosts(ctx, tenant); err != nil {
		errs = append(errs, fmt.Errorf("list posts: %w", err))
	} else {
		for _, p := range posts {
			ids, changed := domain.RemoveID(p.DestinationIDs, destID)
			if !changed {
				continue
			}
			if err := s.store.UpdatePostDestinations(ctx, p.ID, ids); err != nil {
				errs = append(errs, fmt.Errorf("post %s: %w", p.ID, err))
				continue
			}
			rep.Posts++
		}
	}

	if defs, err := s.store.ListRecurring(ctx, tenant); err != nil {
		errs = append(errs, fmt.Errorf("list recurring: %w", err))
	} else {
		for _, r := range defs {
			ids, changed := domain.RemoveID(r.DestinationIDs, destID)
			if !changed {
				continue
			}
			if err := s.store.UpdateRecurringDestinations(ctx, r.ID, ids); err != nil {
				errs = append(errs, fmt.Errorf("recurring %s: %w", r.ID, err))
				continue
			}
			rep.Recurring++
		}
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDestinationSwept, Data: rep})
	s.log.Debug("destination references swept",
		logx.String("tenant", string(tenant)),
		logx.String("destination", destID),
		logx.Int("groups", rep.Groups),
		logx.Int("posts", rep.Posts),
		logx.Int("recurring", rep.Recurring),
	)
	return rep, errors.Join(errs...)
}
