package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// OnlineStatus is the last persisted presence of a user.
type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusOffline OnlineStatus = "offline"
)

// User represents a registered user.
type User struct {
	ID           string
	Phone        string
	FirstName    string
	LastName     string
	Username     string // empty when not chosen
	Bio          string
	AvatarURL    string
	OnlineStatus OnlineStatus
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileUpdate carries optional profile fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Username  *string
	Bio       *string
}

// ChatType defines different kinds of chats.
type ChatType string

const (
	ChatTypeDirect  ChatType = "direct"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

// MemberRole is a member's role inside a chat.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Chat represents a direct, group, or channel conversation.
type Chat struct {
	ID        string
	Type      ChatType
	Name      string
	CreatorID string
	Members   []ChatMember
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMember represents chat membership.
type ChatMember struct {
	ChatID   string
	UserID   string
	Role     MemberRole
	JoinedAt time.Time
}

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// Message represents a persisted chat message.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	Type      MessageType
	FileURL   string
	IsEdited  bool
	IsDeleted bool
	SeenBy    []string // filled by ListMessages only
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user; ID is generated when empty.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByPhone retrieves a user by normalized phone number.
	GetUserByPhone(ctx context.Context, phone string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UpdateProfile applies non-nil fields of the update.
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error)

	// SearchUsers matches name, username or phone.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)

	// SetOnlineStatus persists presence and last-seen time.
	SetOnlineStatus(ctx context.Context, userID string, status OnlineStatus, at time.Time) error

	// ResetOnlineStatus marks every user offline.
	ResetOnlineStatus(ctx context.Context) error
}

// ChatStore handles chat and membership persistence.
type ChatStore interface {
	// CreateChat inserts a chat together with its members in one transaction.
	CreateChat(ctx context.Context, chat *Chat) error

	// FindDirectChat returns the direct chat shared by two users.
	FindDirectChat(ctx context.Context, userA, userB string) (*Chat, error)

	// GetChat retrieves a chat with its members.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// ListChatsForUser lists chats the user belongs to, most recently updated first.
	ListChatsForUser(ctx context.Context, userID string) ([]*Chat, error)

	// ListChatIDsForUser lists only the chat IDs the user belongs to.
	ListChatIDsForUser(ctx context.Context, userID string) ([]string, error)

	// IsChatMember checks if user is a member of the chat.
	IsChatMember(ctx context.Context, chatID, userID string) (bool, error)

	// TouchChat bumps the chat's updated_at.
	TouchChat(ctx context.Context, chatID string, at time.Time) error

	// DeleteChat removes a chat with its members, messages and statuses.
	DeleteChat(ctx context.Context, chatID string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message; ID is generated when empty.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID, including soft-deleted ones.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// UpdateMessageContent replaces content and marks the message edited.
	UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error

	// MarkMessageDeleted soft-deletes a message.
	MarkMessageDeleted(ctx context.Context, id string, at time.Time) error

	// ListMessages returns non-deleted messages in chronological order.
	// If before is non-zero, only messages created earlier are returned.
	ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]*Message, error)

	// MarkSeen upserts seen statuses for the user; repeated calls are no-ops.
	MarkSeen(ctx context.Context, userID string, messageIDs []string, at time.Time) error
}

// TokenStore keeps revoked token fingerprints until they expire.
type TokenStore interface {
	// RevokeToken stores a token fingerprint until expiresAt.
	RevokeToken(ctx context.Context, fingerprint string, expiresAt time.Time) error

	// IsTokenRevoked reports whether the fingerprint is revoked.
	IsTokenRevoked(ctx context.Context, fingerprint string) (bool, error)

	// PurgeExpiredTokens removes fingerprints whose tokens expired before now.
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore
	TokenStore

	// Close closes the underlying database connection.
	Close() error
}
