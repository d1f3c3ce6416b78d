package storage

import (
	"context"
	"database/sql"
	"time"

	"tgcast/internal/domain"
)

const postCols = `id, tenant, text, attachments, destination_ids, format, buttons, trigger_at, created_at, created_by, recurring_id`

func (s *sqliteStore) CreatePost(ctx context.Context, p *domain.OneOffPost) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return s.insertPost(ctx, tx, p) })
}

func (s *sqliteStore) insertPost(ctx context.Context, tx *sql.Tx, p *domain.OneOffPost) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	atts, err := toJSON(nonNil(p.Attachments))
	if err != nil {
		return err
	}
	dests, err := toJSON(nonNil(p.DestinationIDs))
	if err != nil {
		return err
	}
	buttons, err := toJSON(nonNil(p.Buttons))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posts(`+postCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, string(p.Tenant), p.Text, atts, dests, p.Format.String(), buttons,
		ms(p.TriggerAt), ms(p.CreatedAt), p.CreatedBy, nullStr(p.RecurringID),
	); err != nil {
		return err
	}
	for _, a := range p.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO post_attachments(post_id, path) VALUES(?,?)`, p.ID, a.Path); err != nil {
			return err
		}
	}
	return nil
}

func scanPost(sc scanner) (domain.OneOffPost, error) {
	var (
		p                    domain.OneOffPost
		tenant, format       string
		atts, dests, buttons string
		trigger, created     int64
		recurring            sql.NullString
	)
	if err := sc.Scan(&p.ID, &tenant, &p.Text, &atts, &dests, &format, &buttons,
		&trigger, &created, &p.CreatedBy, &recurring); err != nil {
		return p, err
	}
	p.Tenant = domain.CredentialID(tenant)
	p.Format = domain.ParseFormat(format)
	p.TriggerAt = fromMS(trigger)
	p.CreatedAt = fromMS(created)
	p.RecurringID = recurring.String
	if err := fromJSON(atts, &p.Attachments); err != nil {
		return p, err
	}
	if err := fromJSON(dests, &p.DestinationIDs); err != nil {
		return p, err
	}
	return p, fromJSON(buttons, &p.Buttons)
}

func (s *sqliteStore) queryPosts(ctx context.Context, q string, args ...any) ([]domain.OneOffPost, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OneOffPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetPost(ctx context.Context, id string) (domain.OneOffPost, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id = ?`, id))
	return p, notFound(err)
}

func (s *sqliteStore) ListPosts(ctx context.Context, tenant domain.CredentialID) ([]domain.OneOffPost, error) {
	return s.queryPosts(ctx,
		`SELECT `+postCols+` FROM posts WHERE tenant = ? ORDER BY trigger_at, id`, string(tenant))
}

// ListDuePosts returns posts with trigger_at <= now, oldest first.
func (s *sqliteStore) ListDuePosts(ctx context.Context, tenant domain.CredentialID, now time.Time) ([]domain.OneOffPost, error) {
	return s.queryPosts(ctx,
		`SELECT `+postCols+` FROM posts WHERE tenant = ? AND trigger_at <= ? ORDER BY trigger_at, id`,
		string(tenant), ms(now))
}

func (s *sqliteStore) UpdatePostDestinations(ctx context.Context, id string, ids []string) error {
	v, err := toJSON(nonNil(ids))
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx, `UPDATE posts SET destination_ids = ? WHERE id = ?`, v, id))
}

func (s *sqliteStore) DeletePost(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_attachments WHERE post_id = ?`, id); err != nil {
			return err
		}
		return affected(tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id))
	})
}

// CountAttachmentRefs counts pending posts (other than excludePostID) and
// recurring definitions that still reference path.
func (s *sqliteStore) CountAttachmentRefs(ctx context.Context, path string, excludePostID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM post_attachments WHERE path = ? AND post_id <> ?) +
		   (SELECT COUNT(*) FROM recurring_attachments WHERE path = ?)`,
		path, excludePostID, path,
	).Scan(&n)
	return n, err
}
