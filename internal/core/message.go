package core

import (
	"time"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

// Message is the domain model for a chat message.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	Type      string
	FileURL   string
	IsEdited  bool
	IsDeleted bool
	SeenBy    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageFromStore converts the persisted record.
func MessageFromStore(m *store.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      string(m.Type),
		FileURL:   m.FileURL,
		IsEdited:  m.IsEdited,
		IsDeleted: m.IsDeleted,
		SeenBy:    append([]string(nil), m.SeenBy...),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
