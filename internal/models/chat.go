package models

import "time"

// Chat is a conversation. Name is meaningful only for group chats.
type Chat struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ChatParticipant binds a user to a chat. Participant rows, not the chat row,
// decide who can see a chat.
type ChatParticipant struct {
	ChatID string `db:"chat_id" json:"chat_id"`
	UserID string `db:"user_id" json:"user_id"`
}

// ChatSummary provides API-friendly view of a chat for a user.
type ChatSummary struct {
	Chat
	DisplayName string   `json:"display_name"`
	Counterpart *Profile `json:"counterpart,omitempty"`
	Online      bool     `json:"online"`
}

// PairKey returns the canonical unordered key for a direct chat between a and b.
func PairKey(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
