package http

import (
	"encoding/json"

	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/proto"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// inboundToCommand decodes an inbound envelope. A protocol error is answered to the
// client and the connection stays open; a non-nil error means the frame is garbage.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	kind, ok := core.ParseCommandKind(inbound.Type)
	if !ok {
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}

	switch kind {
	case core.CommandJoinChat, core.CommandTypingStart, core.CommandTypingStop:
		var data proto.ChatData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.ChatID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "chatId is required"}, nil
		}
		return &core.Command{Kind: kind, ChatID: data.ChatID}, nil, nil

	case core.CommandSendMessage, core.CommandEditMessage, core.CommandDeleteMessage:
		var data proto.MessageRefData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.ChatID == "" || data.MessageID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "chatId and messageId are required"}, nil
		}
		return &core.Command{Kind: kind, ChatID: data.ChatID, MessageID: data.MessageID}, nil, nil

	case core.CommandMarkSeen:
		var data proto.SeenData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.ChatID == "" || len(data.MessageIDs) == 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "chatId and messageIds are required"}, nil
		}
		return &core.Command{Kind: kind, ChatID: data.ChatID, MessageIDs: data.MessageIDs}, nil, nil
	}

	return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String()}

	switch event.Kind {
	case core.EventUserOnline, core.EventUserOffline:
		out.Data = proto.EventUser{UserID: event.UserID}
	case core.EventUsersOnline:
		ids := event.UserIDs
		if ids == nil {
			ids = []string{}
		}
		out.Data = proto.EventUsersOnline{UserIDs: ids}
	case core.EventSessionReady:
		out.Data = proto.EventSessionReady{ConnectionID: event.ConnID, UserID: event.UserID}
	case core.EventTypingStart, core.EventTypingStop:
		out.Data = proto.EventTyping{ChatID: event.ChatID, UserID: event.UserID}
	case core.EventMessageNew, core.EventMessageEdit:
		data := proto.EventMessage{ChatID: event.ChatID}
		if event.Message != nil {
			data.Message = messageFromCore(event.Message)
		}
		out.Data = data
	case core.EventMessageSeen:
		out.Data = proto.EventSeen{ChatID: event.ChatID, MessageIDs: event.MessageIDs, UserID: event.UserID}
	case core.EventMessageDelete:
		out.Data = proto.EventDelete{ChatID: event.ChatID, MessageID: event.MessageID}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	}
	return out
}

func messageFromCore(m *core.Message) proto.Message {
	seen := m.SeenBy
	if seen == nil {
		seen = []string{}
	}
	return proto.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		FileURL:   m.FileURL,
		IsEdited:  m.IsEdited,
		IsDeleted: m.IsDeleted,
		SeenBy:    seen,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageFromStore(m *store.Message) proto.Message {
	return messageFromCore(core.MessageFromStore(m))
}
