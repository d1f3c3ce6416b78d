package storage

import (
	"context"
	"database/sql"
	"time"

	"tgcast/internal/domain"
)

const recurringCols = `id, tenant, text, attachments, destination_ids, cadence, hour, minute, day_of_week,
	enabled, next_trigger, format, buttons, created_at, created_by`

func (s *sqliteStore) CreateRecurring(ctx context.Context, r *domain.RecurringDefinition) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	atts, dests, buttons, err := recurringJSON(*r)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recurring(`+recurringCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			r.ID, string(r.Tenant), r.Text, atts, dests, string(r.Cadence), r.Hour, r.Minute, r.DayOfWeek,
			r.Enabled, ms(r.NextTrigger), r.Format.String(), buttons, ms(r.CreatedAt), r.CreatedBy,
		); err != nil {
			return err
		}
		return replaceRecurringAttachments(ctx, tx, r.ID, r.Attachments)
	})
}

func recurringJSON(r domain.RecurringDefinition) (atts, dests, buttons string, err error) {
	if atts, err = toJSON(nonNil(r.Attachments)); err != nil {
		return
	}
	if dests, err = toJSON(nonNil(r.DestinationIDs)); err != nil {
		return
	}
	buttons, err = toJSON(nonNil(r.Buttons))
	return
}

func replaceRecurringAttachments(ctx context.Context, tx *sql.Tx, id string, atts []domain.Attachment) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_attachments WHERE recurring_id = ?`, id); err != nil {
		return err
	}
	for _, a := range atts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO recurring_attachments(recurring_id, path) VALUES(?,?)`, id, a.Path); err != nil {
			return err
		}
	}
	return nil
}

func scanRecurring(sc scanner) (domain.RecurringDefinition, error) {
	var (
		r                       domain.RecurringDefinition
		tenant, cadence, format string
		atts, dests, buttons    string
		next, created           int64
	)
	if err := sc.Scan(&r.ID, &tenant, &r.Text, &atts, &dests, &cadence, &r.Hour, &r.Minute, &r.DayOfWeek,
		&r.Enabled, &next, &format, &buttons, &created, &r.CreatedBy); err != nil {
		return r, err
	}
	r.Tenant = domain.CredentialID(tenant)
	r.Cadence = domain.Cadence(cadence)
	r.Format = domain.ParseFormat(format)
	r.NextTrigger = fromMS(next)
	r.CreatedAt = fromMS(created)
	if err := fromJSON(atts, &r.Attachments); err != nil {
		return r, err
	}
	if err := fromJSON(dests, &r.DestinationIDs); err != nil {
		return r, err
	}
	return r, fromJSON(buttons, &r.Buttons)
}

func (s *sqliteStore) queryRecurring(ctx context.Context, q string, args ...any) ([]domain.RecurringDefinition, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RecurringDefinition
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRecurring(ctx context.Context, id string) (domain.RecurringDefinition, error) {
	r, err := scanRecurring(s.db.QueryRowContext(ctx, `SELECT `+recurringCols+` FROM recurring WHERE id = ?`, id))
	return r, notFound(err)
}

func (s *sqliteStore) ListRecurring(ctx context.Context, tenant domain.CredentialID) ([]domain.RecurringDefinition, error) {
	return s.queryRecurring(ctx,
		`SELECT `+recurringCols+` FROM recurring WHERE tenant = ? ORDER BY created_at, id`, string(tenant))
}

// ListDueRecurring returns enabled definitions whose next trigger is <= now.
func (s *sqliteStore) ListDueRecurring(ctx context.Context, tenant domain.CredentialID, now time.Time) ([]domain.RecurringDefinition, error) {
	return s.queryRecurring(ctx,
		`SELECT `+recurringCols+` FROM recurring
		 WHERE tenant = ? AND enabled = 1 AND next_trigger <= ?
		 ORDER BY next_trigger, id`, string(tenant), ms(now))
}

// UpdateRecurring replaces every mutable field of r.
func (s *sqliteStore) UpdateRecurring(ctx context.Context, r domain.RecurringDefinition) error {
	atts, dests, buttons, err := recurringJSON(r)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := affected(tx.ExecContext(ctx,
			`UPDATE recurring SET text = ?, attachments = ?, destination_ids = ?, cadence = ?, hour = ?, minute = ?,
			   day_of_week = ?, enabled = ?, next_trigger = ?, format = ?, buttons = ?
			 WHERE id = ?`,
			r.Text, atts, dests, string(r.Cadence), r.Hour, r.Minute, r.DayOfWeek,
			r.Enabled, ms(r.NextTrigger), r.Format.String(), buttons, r.ID,
		)); err != nil {
			return err
		}
		return replaceRecurringAttachments(ctx, tx, r.ID, r.Attachments)
	})
}

func (s *sqliteStore) UpdateRecurringDestinations(ctx context.Context, id string, ids []string) error {
	v, err := toJSON(nonNil(ids))
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx, `UPDATE recurring SET destination_ids = ? WHERE id = ?`, v, id))
}

func (s *sqliteStore) DeleteRecurring(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_attachments WHERE recurring_id = ?`, id); err != nil {
			return err
		}
		return affected(tx.ExecContext(ctx, `DELETE FROM recurring WHERE id = ?`, id))
	})
}

// MaterializeRecurring inserts post and advances the definition's next trigger
// from expected to next in one transaction. ErrConflict means the definition
// moved since it was read, so nothing was written.
func (s *sqliteStore) MaterializeRecurring(ctx context.Context, defID string, expected time.Time, post *domain.OneOffPost, next time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE recurring SET next_trigger = ? WHERE id = ? AND next_trigger = ? AND enabled = 1`,
			ms(next), defID, ms(expected))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrConflict
		}
		return s.insertPost(ctx, tx, post)
	})
}
