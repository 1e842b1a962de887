package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/store"
	"github.com/vovakirdan/relaychat-server/internal/utils"
)

// Config tunes the hub. Zero values fall back to defaults.
type Config struct {
	SendBuffer   int
	QueueSize    int
	WriteRetries int
	RetryBackoff time.Duration

	Recorder Recorder
	Auditor  Auditor
}

// Hub coordinates admission, presence, rooms and fanout.
// One instance lives for the whole process and is shared by every connection.
type Hub struct {
	auth Authenticator
	dir  Directory
	log  *zerolog.Logger
	rec  Recorder

	registry *Registry
	rooms    *Router
	fanout   *Fanout
	presence *Presence

	sendBuffer int
}

// NewHub creates a new hub instance.
func NewHub(auth Authenticator, dir Directory, cfg Config, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	registry := NewRegistry()
	rooms := NewRouter()
	fanout := NewFanout(registry, rooms, rec, logger)
	presence := NewPresence(registry, fanout, dir, cfg.Auditor, rec, PresenceConfig{
		QueueSize:    cfg.QueueSize,
		WriteRetries: cfg.WriteRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)

	return &Hub{
		auth:       auth,
		dir:        dir,
		log:        logger,
		rec:        rec,
		registry:   registry,
		rooms:      rooms,
		fanout:     fanout,
		presence:   presence,
		sendBuffer: cfg.SendBuffer,
	}
}

// Run persists presence transitions until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.presence.Run(ctx)
}

// Admit authenticates token, loads the user's rooms and registers a new connection.
// On error no state is created.
func (h *Hub) Admit(ctx context.Context, token string) (*Conn, error) {
	userID, err := h.auth.VerifyToken(ctx, token)
	if err != nil {
		if !h.auth.IsAuthError(err) {
			h.rec.AdmissionRejected("auth_lookup")
			h.log.Warn().Err(err).Msg("credential check failed")
			return nil, errors.Join(ErrAuthUnavailable, err)
		}
		h.rec.AdmissionRejected("auth")
		return nil, &AuthError{Err: err}
	}
	return h.admitUser(ctx, userID)
}

func (h *Hub) admitUser(ctx context.Context, userID string) (*Conn, error) {
	chatIDs, err := h.dir.ListChatIDsForUser(ctx, userID)
	if err != nil {
		h.rec.AdmissionRejected("membership")
		h.log.Warn().Err(err).Str("user_id", userID).Msg("membership lookup failed")
		return nil, errors.Join(ErrMembershipLookup, err)
	}

	c := newConn(utils.NewID(), userID, h.sendBuffer)
	h.rooms.Attach(c.ID)
	h.rooms.JoinAll(c.ID, chatIDs)
	h.presence.connect(c)

	h.rec.ConnectionAdmitted()
	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", userID).
		Int("rooms", len(chatIDs)).
		Msg("connection admitted")
	return c, nil
}

// Dismiss removes the connection from every index. Safe to call more than once;
// only the first call returns true.
func (h *Hub) Dismiss(connID string) bool {
	c, ok := h.fanout.conn(connID)
	if !ok || !c.dismiss() {
		return false
	}

	h.rooms.LeaveAll(c.ID)
	h.presence.disconnect(c)

	h.rec.ConnectionDismissed()
	h.log.Info().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("connection dismissed")
	return true
}

// Serve dispatches the connection's commands until ctx ends or it is dismissed.
func (h *Hub) Serve(ctx context.Context, c *Conn) {
	if !c.activate() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.commands:
			if cmd == nil {
				continue
			}
			if c.State() != StateActive {
				return
			}
			h.handleCommand(ctx, c, cmd)
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *Conn, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinChat:
		h.handleJoin(ctx, c, cmd)
	case CommandTypingStart, CommandTypingStop:
		h.handleTyping(c, cmd)
	case CommandSendMessage:
		h.handleSend(ctx, c, cmd)
	case CommandMarkSeen:
		h.handleSeen(c, cmd)
	case CommandDeleteMessage:
		h.handleDelete(ctx, c, cmd)
	case CommandEditMessage:
		h.handleEdit(ctx, c, cmd)
	default:
		h.reject(c, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Conn, cmd *Command) {
	if cmd.ChatID == "" {
		h.reject(c, coreError(ErrCodeBadRequest, "chat id is required"))
		return
	}
	member, err := h.dir.IsChatMember(ctx, cmd.ChatID, c.UserID)
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Str("chat_id", cmd.ChatID).Msg("membership check failed")
		h.reject(c, coreError(ErrCodeInternal, "membership check failed"))
		return
	}
	if !member {
		h.reject(c, coreError(ErrCodeNotMember, "not a member of this chat"))
		return
	}
	h.rooms.JoinRoom(c.ID, cmd.ChatID)
}

func (h *Hub) handleTyping(c *Conn, cmd *Command) {
	if !h.requireRoom(c, cmd.ChatID) {
		return
	}
	kind := EventTypingStart
	if cmd.Kind == CommandTypingStop {
		kind = EventTypingStop
	}
	h.fanout.Publish(c.ID, cmd.ChatID, &Event{Kind: kind, ChatID: cmd.ChatID, UserID: c.UserID})
}

func (h *Hub) handleSend(ctx context.Context, c *Conn, cmd *Command) {
	if !h.requireRoom(c, cmd.ChatID) {
		return
	}
	msg, ok := h.loadOwnMessage(ctx, c, cmd)
	if !ok {
		return
	}
	if msg.IsDeleted {
		h.reject(c, coreError(ErrCodeMessageNotFound, "message not found"))
		return
	}
	h.fanout.Publish(c.ID, cmd.ChatID, &Event{
		Kind:    EventMessageNew,
		ChatID:  cmd.ChatID,
		UserID:  c.UserID,
		Message: MessageFromStore(msg),
	})
}

func (h *Hub) handleSeen(c *Conn, cmd *Command) {
	if !h.requireRoom(c, cmd.ChatID) {
		return
	}
	if len(cmd.MessageIDs) == 0 {
		h.reject(c, coreError(ErrCodeBadRequest, "message ids are required"))
		return
	}
	h.fanout.Publish(c.ID, cmd.ChatID, &Event{
		Kind:       EventMessageSeen,
		ChatID:     cmd.ChatID,
		UserID:     c.UserID,
		MessageIDs: append([]string(nil), cmd.MessageIDs...),
	})
}

func (h *Hub) handleDelete(ctx context.Context, c *Conn, cmd *Command) {
	if !h.requireRoom(c, cmd.ChatID) {
		return
	}
	msg, ok := h.loadOwnMessage(ctx, c, cmd)
	if !ok {
		return
	}
	if !msg.IsDeleted {
		h.reject(c, coreError(ErrCodeBadRequest, "message is not deleted"))
		return
	}
	h.fanout.Publish(c.ID, cmd.ChatID, &Event{
		Kind:      EventMessageDelete,
		ChatID:    cmd.ChatID,
		UserID:    c.UserID,
		MessageID: msg.ID,
	})
}

func (h *Hub) handleEdit(ctx context.Context, c *Conn, cmd *Command) {
	if !h.requireRoom(c, cmd.ChatID) {
		return
	}
	msg, ok := h.loadOwnMessage(ctx, c, cmd)
	if !ok {
		return
	}
	if msg.IsDeleted {
		h.reject(c, coreError(ErrCodeMessageNotFound, "message not found"))
		return
	}
	if msg.Type != store.MessageTypeText {
		h.reject(c, coreError(ErrCodeBadRequest, "only text messages can be edited"))
		return
	}
	h.fanout.Publish(c.ID, cmd.ChatID, &Event{
		Kind:    EventMessageEdit,
		ChatID:  cmd.ChatID,
		UserID:  c.UserID,
		Message: MessageFromStore(msg),
	})
}

func (h *Hub) requireRoom(c *Conn, chatID string) bool {
	if chatID == "" {
		h.reject(c, coreError(ErrCodeBadRequest, "chat id is required"))
		return false
	}
	if !h.rooms.InRoom(c.ID, chatID) {
		h.reject(c, coreError(ErrCodeNotInRoom, "not joined to this chat"))
		return false
	}
	return true
}

// loadOwnMessage fetches the stored record and checks it belongs to the chat and the sender.
func (h *Hub) loadOwnMessage(ctx context.Context, c *Conn, cmd *Command) (*store.Message, bool) {
	if cmd.MessageID == "" {
		h.reject(c, coreError(ErrCodeBadRequest, "message id is required"))
		return nil, false
	}
	msg, err := h.dir.GetMessage(ctx, cmd.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.reject(c, coreError(ErrCodeMessageNotFound, "message not found"))
			return nil, false
		}
		h.log.Error().Err(err).Str("conn_id", c.ID).Str("message_id", cmd.MessageID).Msg("load message failed")
		h.reject(c, coreError(ErrCodeInternal, "failed to load message"))
		return nil, false
	}
	if msg.ChatID != cmd.ChatID {
		h.reject(c, coreError(ErrCodeMessageNotFound, "message not found"))
		return nil, false
	}
	if msg.SenderID != c.UserID {
		h.reject(c, coreError(ErrCodeForbidden, "not the sender of this message"))
		return nil, false
	}
	return msg, true
}

func (h *Hub) reject(c *Conn, err *CoreError) {
	h.log.Debug().Str("conn_id", c.ID).Str("code", err.Code).Msg(err.Message)
	if !c.enqueue(errorEvent(err)) {
		h.rec.DeliveryDropped(EventError.String())
	}
}

// PublishToChat fans out an event produced outside a connection, such as a REST action.
// originConnID may be empty; when set, that connection is skipped.
func (h *Hub) PublishToChat(originConnID, chatID string, ev *Event) int {
	ev.ChatID = chatID
	return h.fanout.Publish(originConnID, chatID, ev)
}

// PublishToUser delivers an event to every device of a user.
func (h *Hub) PublishToUser(userID string, ev *Event) int {
	return h.fanout.PublishToUser(userID, ev)
}

// JoinUserToChat joins every live connection of userID to chatID.
// Returns how many connections were newly joined.
func (h *Hub) JoinUserToChat(userID, chatID string) int {
	joined := 0
	for _, connID := range h.registry.ConnectionsOf(userID) {
		if h.rooms.JoinRoom(connID, chatID) {
			joined++
		}
	}
	return joined
}

// OnlineUsers returns the IDs of users with at least one connection.
func (h *Hub) OnlineUsers() []string {
	return h.registry.AllOnlineUsers()
}

// IsOnline reports whether the user holds a live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Users             int
	Connections       int
	Rooms             int
	DroppedDeliveries uint64
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	users, conns := h.registry.Len()
	return Stats{
		Users:             users,
		Connections:       conns,
		Rooms:             h.rooms.Len(),
		DroppedDeliveries: h.fanout.Dropped(),
	}
}
