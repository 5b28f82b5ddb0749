package http

import (
	"github.com/chatrelay/chatrelay-server/internal/core"
	"github.com/chatrelay/chatrelay-server/internal/proto"
)

func frameFromEvent(event *core.Event) any {
	switch event.Kind {
	case core.EventSystem:
		return proto.SystemFrame{Type: proto.TypeSystem, Text: event.Text}
	case core.EventChat:
		return proto.ChatFrame{Type: proto.TypeChat, Username: event.Username, Text: event.Text}
	case core.EventHistory:
		messages := make([]proto.ChatFrame, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, proto.ChatFrame{
				Type:     proto.TypeChat,
				Username: msg.Username,
				Text:     msg.Text,
			})
		}
		return proto.HistoryFrame{Type: proto.TypeHistory, Messages: messages}
	case core.EventUsers:
		return proto.UsersFrame{Type: proto.TypeUsers, Users: event.Users}
	case core.EventTyping:
		return proto.TypingFrame{Type: proto.TypeTyping, Username: event.Username, IsTyping: event.IsTyping}
	default:
		return proto.SystemFrame{Type: proto.TypeSystem}
	}
}
