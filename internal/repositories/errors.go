package repositories

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrProfileNotFound = errors.New("profile not found")
	// ErrDirectChatConflict is returned when another direct chat already owns
	// the unordered user pair.
	ErrDirectChatConflict = errors.New("direct chat already exists for pair")
)
