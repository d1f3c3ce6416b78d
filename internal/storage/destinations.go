package storage

import (
	"context"
	"strings"

	"tgcast/internal/domain"
)

const destinationCols = `id, tenant, chat, name, tags, created_at`

func (s *sqliteStore) CreateDestination(ctx context.Context, d *domain.Destination) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	tags, err := toJSON(nonNil(d.Tags))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO destinations(`+destinationCols+`) VALUES(?,?,?,?,?,?)`,
		d.ID, string(d.Tenant), d.Chat, d.Name, tags, ms(d.CreatedAt),
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrConflict
	}
	return err
}

func scanDestination(sc scanner) (domain.Destination, error) {
	var (
		d       domain.Destination
		tenant  string
		tags    string
		created int64
	)
	if err := sc.Scan(&d.ID, &tenant, &d.Chat, &d.Name, &tags, &created); err != nil {
		return d, err
	}
	d.Tenant = domain.CredentialID(tenant)
	d.CreatedAt = fromMS(created)
	return d, fromJSON(tags, &d.Tags)
}

func (s *sqliteStore) GetDestination(ctx context.Context, id string) (domain.Destination, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+destinationCols+` FROM destinations WHERE id = ?`, id)
	d, err := scanDestination(row)
	return d, notFound(err)
}

func (s *sqliteStore) ListDestinations(ctx context.Context, tenant domain.CredentialID) ([]domain.Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+destinationCols+` FROM destinations WHERE tenant = ? ORDER BY created_at, id`, string(tenant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteDestination(ctx context.Context, id string) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id))
}

const groupCols = `id, tenant, name, destination_ids, created_at`

func (s *sqliteStore) CreateGroup(ctx context.Context, g *domain.ChannelGroup) error {
	if g.ID == "" {
		g.ID = newID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	ids, err := toJSON(nonNil(g.DestinationIDs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_groups(`+groupCols+`) VALUES(?,?,?,?,?)`,
		g.ID, string(g.Tenant), g.Name, ids, ms(g.CreatedAt),
	)
	return err
}

func scanGroup(sc scanner) (domain.ChannelGroup, error) {
	var (
		g       domain.ChannelGroup
		tenant  string
		ids     string
		created int64
	)
	if err := sc.Scan(&g.ID, &tenant, &g.Name, &ids, &created); err != nil {
		return g, err
	}
	g.Tenant = domain.CredentialID(tenant)
	g.CreatedAt = fromMS(created)
	return g, fromJSON(ids, &g.DestinationIDs)
}

func (s *sqliteStore) GetGroup(ctx context.Context, id string) (domain.ChannelGroup, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupCols+` FROM channel_groups WHERE id = ?`, id))
	return g, notFound(err)
}

func (s *sqliteStore) ListGroups(ctx context.Context, tenant domain.CredentialID) ([]domain.ChannelGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupCols+` FROM channel_groups WHERE tenant = ? ORDER BY created_at, id`, string(tenant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ChannelGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateGroup(ctx context.Context, g domain.ChannelGroup) error {
	ids, err := toJSON(nonNil(g.DestinationIDs))
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx,
		`UPDATE channel_groups SET name = ?, destination_ids = ? WHERE id = ?`, g.Name, ids, g.ID))
}

func (s *sqliteStore) UpdateGroupDestinations(ctx context.Context, id string, ids []string) error {
	v, err := toJSON(nonNil(ids))
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx, `UPDATE channel_groups SET destination_ids = ? WHERE id = ?`, v, id))
}

func (s *sqliteStore) DeleteGroup(ctx context.Context, id string) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM channel_groups WHERE id = ?`, id))
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
