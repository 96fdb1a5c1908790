package models

import "time"

// UnknownUserName is shown when a sender or counterpart cannot be resolved.
const UnknownUserName = "Unknown User"

// Profile is a user's public identity and presence.
type Profile struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	AvatarURL *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	IsOnline  bool      `db:"is_online" json:"is_online"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
}
