package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-session/internal/directory"
	"chat-session/internal/presence"
	"chat-session/internal/stream"
)

const presenceWriteTimeout = 5 * time.Second

var ErrSessionEnded = errors.New("session ended")

// connections counts the live sessions of one user. Presence writes for the
// user are serialized by mu so an offline write never overtakes an online one.
type connections struct {
	mu    sync.Mutex
	count int
	// retired is set once the entry has been removed from Manager.users.
	retired bool
}

// Manager starts and ends authenticated sessions and keeps a user online for
// as long as at least one of their sessions is live.
type Manager struct {
	directory *directory.Service
	presence  *presence.Manager
	stream    *stream.Stream
	log       zerolog.Logger

	mu    sync.Mutex
	users map[string]*connections
}

func NewManager(dir *directory.Service, pres *presence.Manager, st *stream.Stream, log zerolog.Logger) *Manager {
	return &Manager{
		directory: dir,
		presence:  pres,
		stream:    st,
		log:       log.With().Str("component", "session").Logger(),
		users:     make(map[string]*connections),
	}
}

// Start opens a session for userID. The user is marked online when this is
// their first live session, and the chat list is loaded. Failures of either
// step are logged; the session still starts with what could be loaded.
func (m *Manager) Start(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, directory.ErrMissingUserID
	}

	conns := m.acquire(userID)
	conns.count++
	if conns.count == 1 {
		m.writePresence(ctx, userID, true)
	}
	conns.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		manager: m,
		userID:  userID,
		conns:   conns,
		view:    stream.NewView(m.stream),
		ctx:     sessCtx,
		cancel:  cancel,
	}
	if _, err := s.RefreshChats(ctx); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("initial chat list unavailable")
	}
	m.log.Info().Str("user_id", userID).Msg("session started")
	return s, nil
}

// Live reports how many sessions userID currently has.
func (m *Manager) Live(userID string) int {
	m.mu.Lock()
	conns, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	conns.mu.Lock()
	defer conns.mu.Unlock()
	return conns.count
}

// Tracked reports how many users have live sessions.
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// acquire returns the user's locked connection entry. An entry retired by a
// concurrent end is skipped in favour of a fresh one.
func (m *Manager) acquire(userID string) *connections {
	for {
		conns := m.connections(userID)
		conns.mu.Lock()
		if !conns.retired {
			return conns
		}
		conns.mu.Unlock()
	}
}

func (m *Manager) connections(userID string) *connections {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.users[userID]
	if !ok {
		conns = &connections{}
		m.users[userID] = conns
	}
	return conns
}

// end drops one live session of the user and marks them offline when it was
// the last. Teardown may happen after the caller's context is gone, so the
// write runs on a detached context with its own deadline.
func (m *Manager) end(ctx context.Context, s *Session) {
	s.conns.mu.Lock()
	defer s.conns.mu.Unlock()
	if s.conns.count > 0 {
		s.conns.count--
	}
	if s.conns.count > 0 {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceWriteTimeout)
	defer cancel()
	m.writePresence(writeCtx, s.userID, false)

	m.mu.Lock()
	if m.users[s.userID] == s.conns {
		delete(m.users, s.userID)
	}
	s.conns.retired = true
	m.mu.Unlock()
}

func (m *Manager) writePresence(ctx context.Context, userID string, online bool) {
	if m.presence == nil {
		return
	}
	if err := m.presence.SetOnline(ctx, userID, online); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Bool("online", online).Msg("presence write failed")
	}
}
