package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/proto"
	"github.com/vovakirdan/relaychat-server/internal/service/chats"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// ChatHandlers provides HTTP handlers for chats and messages.
type ChatHandlers struct {
	chats *chats.Service
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(svc *chats.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{chats: svc, log: logger}
}

// MemberResponse is one chat member.
type MemberResponse struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ChatResponse represents a chat in API responses.
type ChatResponse struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Name      string           `json:"name,omitempty"`
	CreatorID string           `json:"creatorId"`
	Members   []MemberResponse `json:"members"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func chatResponse(chat *store.Chat) ChatResponse {
	members := make([]MemberResponse, 0, len(chat.Members))
	for _, m := range chat.Members {
		members = append(members, MemberResponse{UserID: m.UserID, Role: string(m.Role), JoinedAt: m.JoinedAt})
	}
	return ChatResponse{
		ID:        chat.ID,
		Type:      string(chat.Type),
		Name:      chat.Name,
		CreatorID: chat.CreatorID,
		Members:   members,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	}
}

// CreateDirectRequest names the other participant.
type CreateDirectRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// CreateGroupRequest creates a group or a channel.
type CreateGroupRequest struct {
	Name      string   `json:"name" binding:"required,max=128"`
	MemberIDs []string `json:"memberIds"`
}

// SendMessageRequest is the body of POST /api/chats/:chatId/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	FileURL string `json:"fileUrl"`
}

// EditMessageRequest is the body of PUT /api/chats/messages/:messageId.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SeenRequest is the body of POST /api/chats/:chatId/seen.
type SeenRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}

// respondError maps service errors to status codes.
func (h *ChatHandlers) respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, chats.ErrChatWithSelf),
		errors.Is(err, chats.ErrNameRequired),
		errors.Is(err, chats.ErrEmptyContent),
		errors.Is(err, chats.ErrInvalidType),
		errors.Is(err, chats.ErrNotEditable),
		errors.Is(err, chats.ErrNoMessages):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, chats.ErrUserNotFound),
		errors.Is(err, chats.ErrChatNotFound),
		errors.Is(err, chats.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, chats.ErrNotMember), errors.Is(err, chats.ErrNotSender):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// CreateDirect returns the direct chat with another user, creating it when needed.
// POST /api/chats/direct
func (h *ChatHandlers) CreateDirect(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, created, err := h.chats.CreateDirect(c.Request.Context(), uid, req.UserID)
	if err != nil {
		h.respondError(c, err, "failed to create direct chat")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Info().Str("chat_id", chat.ID).Str("user_id", uid).Msg("direct chat created")
	}
	c.JSON(status, chatResponse(chat))
}

// CreateGroup handles group creation.
// POST /api/chats/group
func (h *ChatHandlers) CreateGroup(c *gin.Context) {
	h.createMulti(c, h.chats.CreateGroup)
}

// CreateChannel handles channel creation.
// POST /api/chats/channel
func (h *ChatHandlers) CreateChannel(c *gin.Context) {
	h.createMulti(c, h.chats.CreateChannel)
}

type createFunc func(ctx context.Context, creatorID, name string, memberIDs []string) (*store.Chat, error)

func (h *ChatHandlers) createMulti(c *gin.Context, create createFunc) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, err := create(c.Request.Context(), uid, req.Name, req.MemberIDs)
	if err != nil {
		h.respondError(c, err, "failed to create chat")
		return
	}
	h.log.Info().Str("chat_id", chat.ID).Str("type", string(chat.Type)).Int("members", len(chat.Members)).Msg("chat created")
	c.JSON(http.StatusCreated, chatResponse(chat))
}

// ListChats lists the caller's chats.
// GET /api/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	list, err := h.chats.ListChats(c.Request.Context(), uid)
	if err != nil {
		h.respondError(c, err, "failed to list chats")
		return
	}
	response := make([]ChatResponse, 0, len(list))
	for _, chat := range list {
		response = append(response, chatResponse(chat))
	}
	c.JSON(http.StatusOK, response)
}

// GetChat returns one chat.
// GET /api/chats/:chatId
func (h *ChatHandlers) GetChat(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chat, err := h.chats.GetChat(c.Request.Context(), c.Param("chatId"), uid)
	if err != nil {
		h.respondError(c, err, "failed to get chat")
		return
	}
	c.JSON(http.StatusOK, chatResponse(chat))
}

// DeleteChat removes a chat.
// DELETE /api/chats/:chatId
func (h *ChatHandlers) DeleteChat(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	if err := h.chats.DeleteChat(c.Request.Context(), c.Param("chatId"), uid); err != nil {
		h.respondError(c, err, "failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "chat deleted"})
}

// ListMessages returns a page of messages.
// GET /api/chats/:chatId/messages?limit=50&before=RFC3339
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before timestamp"})
			return
		}
		before = t
	}

	msgs, err := h.chats.ListMessages(c.Request.Context(), c.Param("chatId"), uid, limit, before)
	if err != nil {
		h.respondError(c, err, "failed to list messages")
		return
	}
	response := make([]proto.Message, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, messageFromStore(m))
	}
	c.JSON(http.StatusOK, response)
}

// SendMessage persists and publishes a message.
// POST /api/chats/:chatId/messages
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), chats.SendInput{
		ChatID:       c.Param("chatId"),
		SenderID:     uid,
		Content:      req.Content,
		Type:         store.MessageType(req.Type),
		FileURL:      req.FileURL,
		OriginConnID: originConnID(c),
	})
	if err != nil {
		h.respondError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, messageFromStore(msg))
}

// EditMessage replaces a text message's content.
// PUT /api/chats/messages/:messageId
func (h *ChatHandlers) EditMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chats.EditMessage(c.Request.Context(), c.Param("messageId"), uid, req.Content, originConnID(c))
	if err != nil {
		h.respondError(c, err, "failed to edit message")
		return
	}
	c.JSON(http.StatusOK, messageFromStore(msg))
}

// DeleteMessage soft-deletes a message.
// DELETE /api/chats/messages/:messageId
func (h *ChatHandlers) DeleteMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	msg, err := h.chats.DeleteMessage(c.Request.Context(), c.Param("messageId"), uid, originConnID(c))
	if err != nil {
		h.respondError(c, err, "failed to delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": msg.ID, "chatId": msg.ChatID})
}

// MarkSeen records read receipts.
// POST /api/chats/:chatId/seen
func (h *ChatHandlers) MarkSeen(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	var req SeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	marked, err := h.chats.MarkSeen(c.Request.Context(), c.Param("chatId"), uid, req.MessageIDs, originConnID(c))
	if err != nil {
		h.respondError(c, err, "failed to mark seen")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageIds": marked})
}
