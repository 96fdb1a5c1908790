package ws

import "chat-session/internal/models"

// Client frame types.
const (
	FrameOpen         = "open"
	FrameClose        = "close"
	FrameRefreshChats = "refresh_chats"
)

// Server frame types.
const (
	FrameChats    = "chats"
	FrameMessages = "messages"
	FrameError    = "error"
)

// ClientFrame is a command sent by the client.
type ClientFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
}

// ServerFrame is pushed to the client. A messages frame carries the full
// ordered list of the open chat; an empty chat omits the field.
type ServerFrame struct {
	Type     string               `json:"type"`
	ChatID   string               `json:"chat_id,omitempty"`
	Chats    []models.ChatSummary `json:"chats,omitempty"`
	Messages []models.MessageView `json:"messages,omitempty"`
	Error    string               `json:"error,omitempty"`
}
