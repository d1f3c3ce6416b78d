package storage

import (
	"context"
	"errors"
	"time"

	"tgcast/internal/domain"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict reports a lost optimistic update (another writer got there first).
	ErrConflict = errors.New("storage: conflicting update")
)

// Config configures storage. Driver is "sqlite" (default) and Path the database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At      time.Time
	Tenant  domain.CredentialID
	ActorID int64
	Action  string
	Target  string
	OK      int
	Fail    int
	Error   string
	TookMS  int64
	Meta    string
}

// Store is the full persistence surface. Consumers declare the subset they use.
type Store interface {
	CreateDestination(ctx context.Context, d *domain.Destination) error
	GetDestination(ctx context.Context, id string) (domain.Destination, error)
	ListDestinations(ctx context.Context, tenant domain.CredentialID) ([]domain.Destination, error)
	DeleteDestination(ctx context.Context, id string) error

	CreateGroup(ctx context.Context, g *domain.ChannelGroup) error
	GetGroup(ctx context.Context, id string) (domain.ChannelGroup, error)
	ListGroups(ctx context.Context, tenant domain.CredentialID) ([]domain.ChannelGroup, error)
	UpdateGroup(ctx context.Context, g domain.ChannelGroup) error
	UpdateGroupDestinations(ctx context.Context, id string, ids []string) error
	DeleteGroup(ctx context.Context, id string) error

	CreatePost(ctx context.Context, p *domain.OneOffPost) error
	GetPost(ctx context.Context, id string) (domain.OneOffPost, error)
	ListPosts(ctx context.Context, tenant domain.CredentialID) ([]domain.OneOffPost, error)
	ListDuePosts(ctx context.Context, tenant domain.CredentialID, now time.Time) ([]domain.OneOffPost, error)
	UpdatePostDestinations(ctx context.Context, id string, ids []string) error
	DeletePost(ctx context.Context, id string) error

	CreateRecurring(ctx context.Context, r *domain.RecurringDefinition) error
	GetRecurring(ctx context.Context, id string) (domain.RecurringDefinition, error)
	ListRecurring(ctx context.Context, tenant domain.CredentialID) ([]domain.RecurringDefinition, error)
	ListDueRecurring(ctx context.Context, tenant domain.CredentialID, now time.Time) ([]domain.RecurringDefinition, error)
	UpdateRecurring(ctx context.Context, r domain.RecurringDefinition) error
	UpdateRecurringDestinations(ctx context.Context, id string, ids []string) error
	DeleteRecurring(ctx context.Context, id string) error
	MaterializeRecurring(ctx context.Context, defID string, expected time.Time, post *domain.OneOffPost, next time.Time) error

	CreateHistory(ctx context.Context, h *domain.HistoryEntry) error
	GetHistory(ctx context.Context, id string) (domain.HistoryEntry, error)
	ListHistory(ctx context.Context, tenant domain.CredentialID, limit int) ([]domain.HistoryEntry, error)
	MarkRetracted(ctx context.Context, id string, at time.Time, results []domain.DispatchResult) error

	CountAttachmentRefs(ctx context.Context, path string, excludePostID string) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
