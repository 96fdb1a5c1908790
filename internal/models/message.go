package models

import "time"

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeEmoji MessageType = "emoji"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeEmoji:
		return true
	}
	return false
}

// HasAttachment reports whether messages of this type carry file fields.
func (t MessageType) HasAttachment() bool {
	return t == MessageTypeImage || t == MessageTypeFile
}

// Message represents a chat message. Messages are immutable once stored.
type Message struct {
	ID          string      `db:"id" json:"id"`
	ChatID      string      `db:"chat_id" json:"chat_id"`
	SenderID    string      `db:"sender_id" json:"sender_id"`
	Content     string      `db:"content" json:"content"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	FileURL     *string     `db:"file_url" json:"file_url,omitempty"`
	FileName    *string     `db:"file_name" json:"file_name,omitempty"`
	FileSize    *int64      `db:"file_size" json:"file_size,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Before reports whether m sorts before o under the (created_at, id) order.
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// Sender is the display identity joined onto a message.
type Sender struct {
	Name      string  `db:"sender_name" json:"name"`
	AvatarURL *string `db:"sender_avatar_url" json:"avatar_url,omitempty"`
}

// MessageView is a message enriched with its sender. Sender is nil when the
// enrichment join was unavailable.
type MessageView struct {
	Message
	Sender *Sender `json:"sender,omitempty"`
}

// SenderName returns the sender's display name or the unknown placeholder.
func (v MessageView) SenderName() string {
	if v.Sender == nil || v.Sender.Name == "" {
		return UnknownUserName
	}
	return v.Sender.Name
}

// MessageEvent signals that a message was inserted into a chat. It carries no
// ordering authority; consumers re-read the chat.
type MessageEvent struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}
