package posting

import (
	"context"

	"tgcast/internal/domain"
	"tgcast/internal/recurrence"
	logx "tgcast/pkg/logx"
)

func (s *Service) CreateRecurring(ctx context.Context, tenant domain.CredentialID, in RecurringInput) (domain.RecurringDefinition, error) {
	if err := recurrence.Validate(in.Cadence, in.Hour, in.Minute, in.DayOfWeek); err != nil {
		return domain.RecurringDefinition{}, err
	}
	c, err := s.prepare(ctx, tenant, in.Draft)
	if err != nil {
		return domain.RecurringDefinition{}, err
	}
	def := domain.RecurringDefinition{
		Tenant:         tenant,
		Text:           c.text,
		Attachments:    c.atts,
		DestinationIDs: c.dests,
		Cadence:        in.Cadence,
		Hour:           in.Hour,
		Minute:         in.Minute,
		DayOfWeek:      weekday(in.Cadence, in.DayOfWeek),
		Enabled:        in.Enabled,
		Format:         c.format,
		Buttons:        c.buttons,
		CreatedBy:      in.CreatedBy,
	}
	def.NextTrigger = recurrence.Next(def, s.d.Now())
	if err := s.d.Store.CreateRecurring(ctx, &def); err != nil {
		return domain.RecurringDefinition{}, err
	}
	s.log.Info("recurring created",
		logx.String("tenant", string(tenant)),
		logx.String("recurring", def.ID),
		logx.String("cadence", string(def.Cadence)),
		logx.Time("next", def.NextTrigger),
	)
	s.audit(ctx, tenant, in.CreatedBy, "recurring.create", def.ID, 1, 0, nil, 0, nil)
	return def, nil
}

// UpdateRecurring replaces content and rule, then recomputes the next trigger
// from the updated fields.
func (s *Service) UpdateRecurring(ctx context.Context, tenant domain.CredentialID, id string, in RecurringInput) (domain.RecurringDefinition, error) {
	def, err := s.ownedRecurring(ctx, tenant, id)
	if err != nil {
		return domain.RecurringDefinition{}, err
	}
	if err := recurrence.Validate(in.Cadence, in.Hour, in.Minute, in.DayOfWeek); err != nil {
		return domain.RecurringDefinition{}, err
	}
	c, err := s.prepare(ctx, tenant, in.Draft)
	if err != nil {
		return domain.RecurringDefinition{}, err
	}
	old := def.Attachments

	def.Text = c.text
	def.Attachments = c.atts
	def.DestinationIDs = c.dests
	def.Format = c.format
	def.Buttons = c.buttons
	def.Cadence = in.Cadence
	def.Hour = in.Hour
	def.Minute = in.Minute
	def.DayOfWeek = weekday(in.Cadence, in.DayOfWeek)
	def.Enabled = in.Enabled
	def.NextTrigger = recurrence.Next(def, s.d.Now())
	if err := s.d.Store.UpdateRecurring(ctx, def); err != nil {
		return domain.RecurringDefinition{}, err
	}
	if dropped := droppedAttachments(old, def.Attachments); len(dropped) > 0 {
		if _, err := s.d.Cleaner.Cleanup(ctx, "", dropped); err != nil {
			s.log.Warn("attachment cleanup incomplete", logx.String("recurring", id), logx.Err(err))
		}
	}
	s.audit(ctx, tenant, in.CreatedBy, "recurring.update", id, 1, 0, nil, 0, nil)
	return def, nil
}

// ToggleRecurring enables or disables a definition. The next trigger is
// recomputed so a re-enabled definition never fires for occurrences missed
// while it was off.
func (s *Service) ToggleRecurring(ctx context.Context, tenant domain.CredentialID, actor int64, id string, enabled bool) (domain.RecurringDefinition, error) {
	def, err := s.ownedRecurring(ctx, tenant, id)
	if err != nil {
		return domain.RecurringDefinition{}, err
	}
	def.Enabled = enabled
	def.NextTrigger = recurrence.Next(def, s.d.Now())
	if err := s.d.Store.UpdateRecurring(ctx, def); err != nil {
		return domain.RecurringDefinition{}, err
	}
	s.audit(ctx, tenant, actor, "recurring.toggle", id, 1, 0, nil, 0, map[string]any{"enabled": enabled})
	return def, nil
}

func (s *Service) DeleteRecurring(ctx context.Context, tenant domain.CredentialID, actor int64, id string) error {
	def, err := s.ownedRecurring(ctx, tenant, id)
	if err != nil {
		return err
	}
	if err := s.d.Store.DeleteRecurring(ctx, id); err != nil {
		return err
	}
	if _, err := s.d.Cleaner.Cleanup(ctx, "", def.Attachments); err != nil {
		s.log.Warn("attachment cleanup incomplete", logx.String("recurring", id), logx.Err(err))
	}
	s.audit(ctx, tenant, actor, "recurring.delete", id, 1, 0, nil, 0, nil)
	return nil
}

func (s *Service) ListRecurring(ctx context.Context, tenant domain.CredentialID) ([]domain.RecurringDefinition, error) {
	return s.d.Store.ListRecurring(ctx, tenant)
}

func (s *Service) ownedRecurring(ctx context.Context, tenant domain.CredentialID, id string) (domain.RecurringDefinition, error) {
	def, err := s.d.Store.GetRecurring(ctx, id)
	if err != nil {
		return domain.RecurringDefinition{}, err
	}
	if def.Tenant != tenant {
		return domain.RecurringDefinition{}, ErrWrongTenant
	}
	return def, nil
}

func weekday(c domain.Cadence, dow int) int {
	if c == domain.CadenceWeekly {
		return dow
	}
	return 0
}

func droppedAttachments(old, cur []domain.Attachment) []domain.Attachment {
	keep := make(map[string]struct{}, len(cur))
	for _, a := range cur {
		keep[a.Path] = struct{}{}
	}
	var out []domain.Attachment
	for _, a := range old {
		if _, ok := keep[a.Path]; !ok {
			out = append(out, a)
		}
	}
	return out
}
