package sqlite

import (
	"database/sql"
	"fmt"
)

// schema is applied idempotently on every start.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	phone         TEXT NOT NULL UNIQUE,
	first_name    TEXT NOT NULL,
	last_name     TEXT NOT NULL DEFAULT '',
	username      TEXT UNIQUE,
	bio           TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	online_status TEXT NOT NULL DEFAULT 'offline',
	last_seen     DATETIME NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	creator_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (creator_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	role      TEXT NOT NULL DEFAULT 'member',
	joined_at DATETIME NOT NULL,
	PRIMARY KEY (chat_id, user_id),
	FOREIGN KEY (chat_id) REFERENCES chats(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'text',
	file_url   TEXT NOT NULL DEFAULT '',
	is_edited  BOOLEAN NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (chat_id) REFERENCES chats(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS message_statuses (
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'seen',
	timestamp  DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id)
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
	fingerprint TEXT PRIMARY KEY,
	expires_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id);
CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expiry ON revoked_tokens(expires_at);
`

// Migrate applies the schema. It matches the setup signature of NewWithSetup.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
