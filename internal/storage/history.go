package storage

import (
	"context"
	"database/sql"
	"time"

	"tgcast/internal/domain"
)

const historyCols = `id, tenant, post_id, text, attachment_names, destination_ids, results, sent_at, created_by, format, buttons, retracted_at`

func (s *sqliteStore) CreateHistory(ctx context.Context, h *domain.HistoryEntry) error {
	if h.ID == "" {
		h.ID = newID()
	}
	if h.SentAt.IsZero() {
		h.SentAt = s.now()
	}
	names, err := toJSON(nonNil(h.AttachmentNames))
	if err != nil {
		return err
	}
	dests, err := toJSON(nonNil(h.DestinationIDs))
	if err != nil {
		return err
	}
	results, err := toJSON(nonNil(h.Results))
	if err != nil {
		return err
	}
	buttons, err := toJSON(nonNil(h.Buttons))
	if err != nil {
		return err
	}
	var retracted any
	if h.RetractedAt != nil {
		retracted = ms(*h.RetractedAt)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history(`+historyCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.ID, string(h.Tenant), nullStr(h.PostID), h.Text, names, dests, results,
		ms(h.SentAt), h.CreatedBy, h.Format.String(), buttons, retracted,
	)
	return err
}

func scanHistory(sc scanner) (domain.HistoryEntry, error) {
	var (
		h                              domain.HistoryEntry
		tenant, format                 string
		postID                         sql.NullString
		names, dests, results, buttons string
		sent                           int64
		retracted                      sql.NullInt64
	)
	if err := sc.Scan(&h.ID, &tenant, &postID, &h.Text, &names, &dests, &results,
		&sent, &h.CreatedBy, &format, &buttons, &retracted); err != nil {
		return h, err
	}
	h.Tenant = domain.CredentialID(tenant)
	h.PostID = postID.String
	h.Format = domain.ParseFormat(format)
	h.SentAt = fromMS(sent)
	if retracted.Valid {
		t := fromMS(retracted.Int64)
		h.RetractedAt = &t
	}
	for _, f := range []struct {
		src string
		dst any
	}{{names, &h.AttachmentNames}, {dests, &h.DestinationIDs}, {results, &h.Results}, {buttons, &h.Buttons}} {
		if err := fromJSON(f.src, f.dst); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (s *sqliteStore) GetHistory(ctx context.Context, id string) (domain.HistoryEntry, error) {
	h, err := scanHistory(s.db.QueryRowContext(ctx, `SELECT `+historyCols+` FROM history WHERE id = ?`, id))
	return h, notFound(err)
}

// ListHistory returns the newest entries first. limit <= 0 means no limit.
func (s *sqliteStore) ListHistory(ctx context.Context, tenant domain.CredentialID, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyCols+` FROM history WHERE tenant = ? ORDER BY sent_at DESC, id LIMIT ?`,
		string(tenant), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkRetracted stores per-id retraction progress and sets retracted_at
// unless it is already set.
func (s *sqliteStore) MarkRetracted(ctx context.Context, id string, at time.Time, results []domain.DispatchResult) error {
	v, err := toJSON(nonNil(results))
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx,
		`UPDATE history SET results = ?, retracted_at = COALESCE(retracted_at, ?) WHERE id = ?`,
		v, ms(at), id))
}
