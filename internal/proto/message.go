package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
// Type is the command name, for example "typing:start".
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// ChatData targets a chat room: chat:join, typing:start, typing:stop.
type ChatData struct {
	ChatID string `json:"chatId"`
}

// MessageRefData references one stored message: message:send, message:edit, message:delete.
type MessageRefData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// SeenData carries read receipts: message:seen.
type SeenData struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventUser is the payload of user:online and user:offline.
type EventUser struct {
	UserID string `json:"userId"`
}

// EventUsersOnline is the presence snapshot.
type EventUsersOnline struct {
	UserIDs []string `json:"userIds"`
}

// EventSessionReady tells the client which connection it is.
type EventSessionReady struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// EventTyping is the payload of typing:start and typing:stop.
type EventTyping struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// EventMessage wraps a message for message:new and message:edit.
type EventMessage struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

// EventSeen is the payload of message:seen.
type EventSeen struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// EventDelete is the payload of message:delete.
type EventDelete struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// Message is the wire form of a chat message, shared by events and REST responses.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	FileURL   string    `json:"fileUrl,omitempty"`
	IsEdited  bool      `json:"isEdited"`
	IsDeleted bool      `json:"isDeleted"`
	SeenBy    []string  `json:"seenBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
