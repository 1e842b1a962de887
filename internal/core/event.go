package core

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventUserOnline notifies everyone that a user got their first connection.
	EventUserOnline EventKind = iota
	// EventUserOffline notifies everyone that a user closed their last connection.
	EventUserOffline
	// EventUsersOnline is the presence snapshot sent once to a new connection.
	EventUsersOnline
	// EventTypingStart relays a typing indicator to the other room members.
	EventTypingStart
	// EventTypingStop clears a typing indicator.
	EventTypingStop
	// EventMessageNew delivers a newly persisted message.
	EventMessageNew
	// EventMessageSeen delivers read receipts.
	EventMessageSeen
	// EventMessageDelete notifies that a message was removed.
	EventMessageDelete
	// EventMessageEdit delivers the edited message.
	EventMessageEdit
	// EventSessionReady tells a new connection its identifier.
	EventSessionReady
	// EventError notifies a connection about a domain error.
	EventError
)

var eventNames = [...]string{
	EventUserOnline:    "user:online",
	EventUserOffline:   "user:offline",
	EventUsersOnline:   "users:online",
	EventTypingStart:   "typing:start",
	EventTypingStop:    "typing:stop",
	EventMessageNew:    "message:new",
	EventMessageSeen:   "message:seen",
	EventMessageDelete: "message:delete",
	EventMessageEdit:   "message:edit",
	EventSessionReady:  "session:ready",
	EventError:         "error",
}

// String returns the wire name of the event.
func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is sent to connections to describe what happened in the system.
// Events are shared between recipients and must not be mutated after publishing.
type Event struct {
	Kind       EventKind
	ChatID     string
	UserID     string
	UserIDs    []string // EventUsersOnline
	ConnID     string   // EventSessionReady
	MessageID  string   // EventMessageDelete
	MessageIDs []string // EventMessageSeen
	Message    *Message
	Error      *CoreError
}

func errorEvent(err *CoreError) *Event {
	return &Event{Kind: EventError, Error: err}
}
