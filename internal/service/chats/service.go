package chats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// Common errors for chat operations.
var (
	ErrChatWithSelf    = errors.New("cannot start a direct chat with yourself")
	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrNotMember       = errors.New("not a member of this chat")
	ErrNameRequired    = errors.New("chat name is required")
	ErrEmptyContent    = errors.New("message content is required")
	ErrInvalidType     = errors.New("invalid message type")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can change this message")
	ErrNotEditable     = errors.New("only text messages can be edited")
	ErrNoMessages      = errors.New("message ids are required")
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Notifier is the realtime side the service publishes into.
type Notifier interface {
	PublishToChat(originConnID, chatID string, ev *core.Event) int
	JoinUserToChat(userID, chatID string) int
}

// Service provides chat and message business logic.
type Service struct {
	store          store.Store
	hub            Notifier
	syncMembership bool
	log            *zerolog.Logger
	now            func() time.Time
}

// New creates a chat service. When syncMembership is set, every member's live
// connections join a newly created chat; otherwise only the creator's do.
func New(st store.Store, hub Notifier, syncMembership bool, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:          st,
		hub:            hub,
		syncMembership: syncMembership,
		log:            logger,
		now:            time.Now,
	}
}

// CreateDirect returns the direct chat between two users, creating it if needed.
// created reports whether a new chat was made.
func (s *Service) CreateDirect(ctx context.Context, userID, otherID string) (chat *store.Chat, created bool, err error) {
	if userID == otherID {
		return nil, false, ErrChatWithSelf
	}
	if err := s.requireUsers(ctx, otherID); err != nil {
		return nil, false, err
	}

	existing, err := s.store.FindDirectChat(ctx, userID, otherID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("find direct chat: %w", err)
	}

	chat = &store.Chat{
		Type:      store.ChatTypeDirect,
		CreatorID: userID,
		Members: []store.ChatMember{
			{UserID: userID, Role: store.RoleMember},
			{UserID: otherID, Role: store.RoleMember},
		},
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, false, fmt.Errorf("create chat: %w", err)
	}
	s.joinMembers(chat)
	return chat, true, nil
}

// CreateGroup creates a group chat; the creator becomes its admin.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*store.Chat, error) {
	return s.createMulti(ctx, store.ChatTypeGroup, creatorID, name, memberIDs)
}

// CreateChannel creates a channel; the creator becomes its admin.
func (s *Service) CreateChannel(ctx context.Context, creatorID, name string, memberIDs []string) (*store.Chat, error) {
	return s.createMulti(ctx, store.ChatTypeChannel, creatorID, name, memberIDs)
}

func (s *Service) createMulti(ctx context.Context, chatType store.ChatType, creatorID, name string, memberIDs []string) (*store.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	seen := map[string]struct{}{creatorID: {}}
	members := []store.ChatMember{{UserID: creatorID, Role: store.RoleAdmin}}
	others := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
		members = append(members, store.ChatMember{UserID: id, Role: store.RoleMember})
	}
	if err := s.requireUsers(ctx, others...); err != nil {
		return nil, err
	}

	chat := &store.Chat{Type: chatType, Name: name, CreatorID: creatorID, Members: members}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.joinMembers(chat)
	return chat, nil
}

// joinMembers opens the new room to live connections.
func (s *Service) joinMembers(chat *store.Chat) {
	if s.hub == nil {
		return
	}
	if !s.syncMembership {
		s.hub.JoinUserToChat(chat.CreatorID, chat.ID)
		return
	}
	for _, m := range chat.Members {
		s.hub.JoinUserToChat(m.UserID, chat.ID)
	}
}

func (s *Service) requireUsers(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUserNotFound, id)
			}
			return fmt.Errorf("load user: %w", err)
		}
	}
	return nil
}

// ListChats returns the user's chats, most recent first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns a chat the user belongs to.
func (s *Service) GetChat(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	for _, m := range chat.Members {
		if m.UserID == userID {
			return chat, nil
		}
	}
	return nil, ErrNotMember
}

// DeleteChat removes a chat; any member may delete it.
func (s *Service) DeleteChat(ctx context.Context, chatID, userID string) error {
	if _, err := s.GetChat(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, chatID, userID string) error {
	member, err := s.store.IsChatMember(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

// ListMessages returns a page of messages older than before (zero means newest).
func (s *Service) ListMessages(ctx context.Context, chatID, userID string, limit int, before time.Time) ([]*store.Message, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	msgs, err := s.store.ListMessages(ctx, chatID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// SendInput describes a new message. OriginConnID is the sender's socket, skipped by fanout.
type SendInput struct {
	ChatID       string
	SenderID     string
	Content      string
	Type         store.MessageType
	FileURL      string
	OriginConnID string
}

func validType(t store.MessageType) bool {
	switch t {
	case store.MessageTypeText, store.MessageTypeImage, store.MessageTypeVideo,
		store.MessageTypeAudio, store.MessageTypeFile:
		return true
	}
	return false
}

// SendMessage persists a message and publishes message:new.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*store.Message, error) {
	if in.Type == "" {
		in.Type = store.MessageTypeText
	}
	if !validType(in.Type) {
		return nil, ErrInvalidType
	}
	content := strings.TrimSpace(in.Content)
	if in.Type == store.MessageTypeText && content == "" {
		return nil, ErrEmptyContent
	}
	if err := s.requireMember(ctx, in.ChatID, in.SenderID); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		Content:   content,
		Type:      in.Type,
		FileURL:   in.FileURL,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if err := s.store.TouchChat(ctx, in.ChatID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("chat_id", in.ChatID).Msg("touch chat failed")
	}

	s.publish(in.OriginConnID, in.ChatID, &core.Event{
		Kind:    core.EventMessageNew,
		UserID:  in.SenderID,
		Message: core.MessageFromStore(msg),
	})
	return msg, nil
}

// ownMessage loads a live message and checks the caller sent it.
func (s *Service) ownMessage(ctx context.Context, messageID, userID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	return msg, nil
}

// EditMessage replaces the content of a text message and publishes message:edit.
func (s *Service) EditMessage(ctx context.Context, messageID, userID, content, originConnID string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	msg, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.Type != store.MessageTypeText {
		return nil, ErrNotEditable
	}

	if err := s.store.UpdateMessageContent(ctx, messageID, content, s.now()); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	updated, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}

	s.publish(originConnID, updated.ChatID, &core.Event{
		Kind:    core.EventMessageEdit,
		UserID:  userID,
		Message: core.MessageFromStore(updated),
	})
	return updated, nil
}

// DeleteMessage soft-deletes a message and publishes message:delete.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID, originConnID string) (*store.Message, error) {
	msg, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkMessageDeleted(ctx, messageID, s.now()); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	msg.IsDeleted = true

	s.publish(originConnID, msg.ChatID, &core.Event{
		Kind:      core.EventMessageDelete,
		UserID:    userID,
		MessageID: msg.ID,
	})
	return msg, nil
}

// MarkSeen records read receipts for messages of chatID and publishes message:seen.
// IDs of messages outside the chat are ignored. Returns the IDs that were marked.
func (s *Service) MarkSeen(ctx context.Context, chatID, userID string, messageIDs []string, originConnID string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, ErrNoMessages
	}
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}

	marked := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := s.store.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get message: %w", err)
		}
		if msg.ChatID == chatID {
			marked = append(marked, id)
		}
	}
	if len(marked) == 0 {
		return marked, nil
	}

	if err := s.store.MarkSeen(ctx, userID, marked, s.now()); err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}

	s.publish(originConnID, chatID, &core.Event{
		Kind:       core.EventMessageSeen,
		UserID:     userID,
		MessageIDs: marked,
	})
	return marked, nil
}

func (s *Service) publish(originConnID, chatID string, ev *core.Event) {
	if s.hub == nil {
		return
	}
	n := s.hub.PublishToChat(originConnID, chatID, ev)
	s.log.Debug().
		Str("chat_id", chatID).
		Str("event", ev.Kind.String()).
		Int("recipients", n).
		Msg("published")
}
