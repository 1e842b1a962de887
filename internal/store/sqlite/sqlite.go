package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Tests pass Migrate with ":memory:".
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

const userColumns = `id, phone, first_name, last_name, username, bio, avatar_url, online_status, last_seen, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var user store.User
	var username sql.NullString
	if err := row.Scan(
		&user.ID,
		&user.Phone,
		&user.FirstName,
		&user.LastName,
		&username,
		&user.Bio,
		&user.AvatarURL,
		&user.OnlineStatus,
		&user.LastSeen,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Username = username.String
	return &user, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateUser inserts a user; ID and timestamps are filled when empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.OnlineStatus == "" {
		user.OnlineStatus = store.StatusOffline
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}
	user.CreatedAt, user.UpdatedAt = now, now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Phone, user.FirstName, user.LastName, nullable(user.Username),
		user.Bio, user.AvatarURL, user.OnlineStatus, user.LastSeen.UTC(), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// GetUserByPhone retrieves a user by normalized phone number.
func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// UpdateProfile applies non-nil fields of the update.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id string, update store.ProfileUpdate) (*store.User, error) {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if update.FirstName != nil {
		sets = append(sets, "first_name = ?")
		args = append(args, *update.FirstName)
	}
	if update.LastName != nil {
		sets = append(sets, "last_name = ?")
		args = append(args, *update.LastName)
	}
	if update.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, nullable(*update.Username))
	}
	if update.Bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *update.Bio)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	return s.GetUserByID(ctx, id)
}

// SearchUsers matches first name, last name, username or phone.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*store.User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE first_name LIKE ? OR last_name LIKE ? OR username LIKE ? OR phone LIKE ?
		ORDER BY first_name ASC, id ASC
		LIMIT ?
	`, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SetOnlineStatus persists presence and last-seen time.
func (s *SQLiteStore) SetOnlineStatus(ctx context.Context, userID string, status store.OnlineStatus, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET online_status = ?, last_seen = ? WHERE id = ?`,
		string(status), at.UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("update online status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user: %w", store.ErrNotFound)
	}
	return nil
}

// ResetOnlineStatus marks every user offline.
func (s *SQLiteStore) ResetOnlineStatus(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET online_status = 'offline'`); err != nil {
		return fmt.Errorf("reset online status: %w", err)
	}
	return nil
}

// ==== ChatStore implementation ====

// CreateChat inserts a chat together with its members in one transaction.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *store.Chat) error {
	now := time.Now().UTC()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	chat.CreatedAt, chat.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, type, name, creator_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, string(chat.Type), chat.Name, nullable(chat.CreatorID), now, now,
	); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	for i := range chat.Members {
		member := &chat.Members[i]
		member.ChatID = chat.ID
		member.JoinedAt = now
		if member.Role == "" {
			member.Role = store.RoleMember
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
			chat.ID, member.UserID, string(member.Role), now,
		); err != nil {
			return fmt.Errorf("insert member %s: %w", member.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const chatColumns = `c.id, c.type, c.name, COALESCE(c.creator_id, ''), c.created_at, c.updated_at`

func scanChat(row rowScanner) (*store.Chat, error) {
	var chat store.Chat
	if err := row.Scan(&chat.ID, &chat.Type, &chat.Name, &chat.CreatorID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, chat *store.Chat) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id, role, joined_at
		FROM chat_members
		WHERE chat_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`, chat.ID)
	if err != nil {
		return fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	chat.Members = chat.Members[:0]
	for rows.Next() {
		var m store.ChatMember
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		chat.Members = append(chat.Members, m)
	}
	return rows.Err()
}

// FindDirectChat returns the direct chat shared by two users.
func (s *SQLiteStore) FindDirectChat(ctx context.Context, userA, userB string) (*store.Chat, error) {
	chat, err := scanChat(s.db.QueryRowContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		JOIN chat_members a ON a.chat_id = c.id AND a.user_id = ?
		JOIN chat_members b ON b.chat_id = c.id AND b.user_id = ?
		WHERE c.type = 'direct'
		LIMIT 1
	`, userA, userB))
	if err != nil {
		return nil, notFound("chat", err)
	}
	if err := s.loadMembers(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat retrieves a chat with its members.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	chat, err := scanChat(s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = ?`, id))
	if err != nil {
		return nil, notFound("chat", err)
	}
	if err := s.loadMembers(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChatsForUser lists chats the user belongs to, most recently updated first.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID string) ([]*store.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.updated_at DESC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	chats := make([]*store.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	// Members are loaded after the cursor is released: the pool holds a single connection.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, chat := range chats {
		if err := s.loadMembers(ctx, chat); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// ListChatIDsForUser lists only the chat IDs the user belongs to.
func (s *SQLiteStore) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chat_members WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsChatMember checks if user is a member of the chat.
func (s *SQLiteStore) IsChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// TouchChat bumps the chat's updated_at.
func (s *SQLiteStore) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, at.UTC(), chatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat with its members, messages and statuses.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	statements := []string{
		`DELETE FROM message_statuses WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)`,
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM chat_members WHERE chat_id = ?`,
		`DELETE FROM chats WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, chatID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, chat_id, sender_id, content, type, file_url, is_edited, is_deleted, created_at, updated_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	if err := row.Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Type, &msg.FileURL,
		&msg.IsEdited, &msg.IsDeleted, &msg.CreatedAt, &msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SaveMessage persists a message; ID and timestamps are filled when empty.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = store.MessageTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.UpdatedAt = msg.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, string(msg.Type), msg.FileURL, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID, including soft-deleted ones.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// UpdateMessageContent replaces content and marks the message edited.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error {
	return s.updateMessage(ctx, `UPDATE messages SET content = ?, is_edited = 1, updated_at = ? WHERE id = ?`, content, at.UTC(), id)
}

// MarkMessageDeleted soft-deletes a message.
func (s *SQLiteStore) MarkMessageDeleted(ctx context.Context, id string, at time.Time) error {
	return s.updateMessage(ctx, `UPDATE messages SET is_deleted = 1, updated_at = ? WHERE id = ?`, at.UTC(), id)
}

func (s *SQLiteStore) updateMessage(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// ListMessages returns non-deleted messages in chronological order with seenBy filled.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	args := []any{chatID, limit}
	if !before.IsZero() {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE chat_id = ? AND is_deleted = 0 AND created_at < ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		`
		args = []any{chatID, before.UTC(), limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	messages := make([]*store.Message, 0)
	byID := make(map[string]*store.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.fillSeenBy(ctx, chatID, byID); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) fillSeenBy(ctx context.Context, chatID string, byID map[string]*store.Message) error {
	if len(byID) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ms.message_id, ms.user_id
		FROM message_statuses ms
		JOIN messages m ON m.id = ms.message_id
		WHERE m.chat_id = ? AND ms.status = 'seen'
		ORDER BY ms.timestamp ASC
	`, chatID)
	if err != nil {
		return fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID string
		if err := rows.Scan(&messageID, &userID); err != nil {
			return fmt.Errorf("scan status: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.SeenBy = append(msg.SeenBy, userID)
		}
	}
	return rows.Err()
}

// MarkSeen upserts seen statuses for the user.
func (s *SQLiteStore) MarkSeen(ctx context.Context, userID string, messageIDs []string, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_statuses (message_id, user_id, status, timestamp)
			VALUES (?, ?, 'seen', ?)
			ON CONFLICT(message_id, user_id) DO UPDATE SET status = 'seen', timestamp = excluded.timestamp
		`, id, userID, at.UTC()); err != nil {
			return fmt.Errorf("upsert status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== TokenStore implementation ====

// RevokeToken stores a token fingerprint until expiresAt.
func (s *SQLiteStore) RevokeToken(ctx context.Context, fingerprint string, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (fingerprint, expires_at) VALUES (?, ?)`,
		fingerprint, expiresAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether the fingerprint is revoked.
func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, fingerprint string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE fingerprint = ?`, fingerprint).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query revoked token: %w", err)
	}
	return true, nil
}

// PurgeExpiredTokens removes fingerprints whose tokens expired before now.
func (s *SQLiteStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	return result.RowsAffected()
}
