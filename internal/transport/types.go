package transport

import (
	"context"

	"tgcast/internal/domain"
)

// MediaKind selects the provider upload method for a single file.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// KindFor maps an attachment class to the upload method used for it.
func KindFor(c domain.MediaClass) MediaKind {
	switch c {
	case domain.MediaImage:
		return MediaPhoto
	case domain.MediaVideo:
		return MediaVideo
	default:
		return MediaDocument
	}
}

// Media is one file to upload. Path must be an absolute, existing file.
type Media struct {
	Kind     MediaKind
	Path     string
	FileName string
}

// SendOptions apply to every send method. Buttons are ignored by
// SendMediaGroup because the provider does not accept markup on albums.
type SendOptions struct {
	Format         domain.Format
	Buttons        []domain.ButtonRow
	DisablePreview bool
}

// Receipt carries the provider message ids of a delivery, in send order.
// Long texts and media groups produce several ids. A send that fails after
// delivering some parts returns those parts' ids together with the error.
type Receipt struct {
	MessageIDs []int
}

// ChatInfo is the subset of chat metadata used when registering destinations.
type ChatInfo struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

// MemberInfo describes the bot's standing in a chat.
type MemberInfo struct {
	Status      string // creator, administrator, member, left, kicked, restricted
	CanPost     bool
	CanDelete   bool
	IsAdminLike bool
}

// BotInfo identifies the bot behind a credential.
type BotInfo struct {
	ID       int64
	Username string
	Name     string
}

// Client is the outbound messaging surface bound to one tenant credential.
// Implementations must be safe for concurrent use.
type Client interface {
	SendText(ctx context.Context, chat string, text string, opt *SendOptions) (Receipt, error)
	SendPhoto(ctx context.Context, chat string, m Media, caption string, opt *SendOptions) (Receipt, error)
	SendVideo(ctx context.Context, chat string, m Media, caption string, opt *SendOptions) (Receipt, error)
	SendDocument(ctx context.Context, chat string, m Media, caption string, opt *SendOptions) (Receipt, error)
	SendMediaGroup(ctx context.Context, chat string, items []Media, caption string, opt *SendOptions) (Receipt, error)
	DeleteMessage(ctx context.Context, chat string, messageID int) error
	GetChat(ctx context.Context, chat string) (ChatInfo, error)
	GetChatMember(ctx context.Context, chat string, userID int64) (MemberInfo, error)
	GetMe(ctx context.Context) (BotInfo, error)
}
