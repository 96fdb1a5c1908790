package session

import (
	"context"
	"sync"

	"chat-session/internal/models"
	"chat-session/internal/stream"
)

// Session is one authenticated client connection.
type Session struct {
	manager *Manager
	userID  string
	conns   *connections
	view    *stream.View

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	chats []models.ChatSummary

	endOnce sync.Once
	ended   bool
}

func (s *Session) UserID() string {
	return s.userID
}

// Chats returns the last successfully loaded chat list.
func (s *Session) Chats() []models.ChatSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatSummary, len(s.chats))
	copy(out, s.chats)
	return out
}

// RefreshChats reloads the chat list. On failure the previous list is kept
// and returned together with the error.
func (s *Session) RefreshChats(ctx context.Context) ([]models.ChatSummary, error) {
	summaries, err := s.manager.directory.ListChatSummaries(ctx, s.userID)
	if err != nil {
		return s.Chats(), err
	}
	s.mu.Lock()
	s.chats = summaries
	s.mu.Unlock()
	return s.Chats(), nil
}

// OpenChat shows chatID in the session's view after checking membership.
// onChange receives the initial message list and a fresh list after every
// insert into that chat. A previously open chat is released first.
func (s *Session) OpenChat(ctx context.Context, chatID string, onChange stream.OnChange) error {
	if s.isEnded() {
		return ErrSessionEnded
	}
	if err := s.manager.directory.EnsureParticipant(ctx, chatID, s.userID); err != nil {
		return err
	}
	return s.view.Open(s.ctx, chatID, onChange)
}

// CloseChat releases the open chat, if any.
func (s *Session) CloseChat() {
	s.view.Close()
}

// OpenChatID returns the chat currently open, or "".
func (s *Session) OpenChatID() string {
	return s.view.ChatID()
}

// Touch refreshes the user's last_seen while the session is live.
func (s *Session) Touch(ctx context.Context) error {
	s.conns.mu.Lock()
	defer s.conns.mu.Unlock()
	if s.isEnded() || s.manager.presence == nil {
		return nil
	}
	return s.manager.presence.Touch(ctx, s.userID)
}

// End releases the view and the session's share of the user's presence. It
// is safe to call more than once.
func (s *Session) End(ctx context.Context) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()

		s.view.Close()
		s.cancel()
		s.manager.end(ctx, s)
		s.manager.log.Info().Str("user_id", s.userID).Msg("session ended")
	})
}

func (s *Session) isEnded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}
