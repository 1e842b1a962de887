package core

// CommandKind describes what the connection wants to do.
type CommandKind int

const (
	// CommandJoinChat subscribes the connection to a chat room it is a member of.
	CommandJoinChat CommandKind = iota
	// CommandTypingStart relays a typing indicator.
	CommandTypingStart
	// CommandTypingStop clears a typing indicator.
	CommandTypingStop
	// CommandSendMessage announces a message already persisted through the API.
	CommandSendMessage
	// CommandMarkSeen relays read receipts.
	CommandMarkSeen
	// CommandDeleteMessage announces a deleted message.
	CommandDeleteMessage
	// CommandEditMessage announces an edited message.
	CommandEditMessage
)

var commandNames = [...]string{
	CommandJoinChat:      "chat:join",
	CommandTypingStart:   "typing:start",
	CommandTypingStop:    "typing:stop",
	CommandSendMessage:   "message:send",
	CommandMarkSeen:      "message:seen",
	CommandDeleteMessage: "message:delete",
	CommandEditMessage:   "message:edit",
}

func (k CommandKind) String() string {
	if k < 0 || int(k) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[k]
}

// ParseCommandKind maps a wire name to a command kind.
func ParseCommandKind(name string) (CommandKind, bool) {
	for kind, n := range commandNames {
		if n == name {
			return CommandKind(kind), true
		}
	}
	return 0, false
}

// Command represents an action requested by a connection.
// Identity is never part of a command: the hub stamps the connection's user.
type Command struct {
	Kind       CommandKind
	ChatID     string
	MessageID  string
	MessageIDs []string
}
