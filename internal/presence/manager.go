package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-session/internal/models"
	"chat-session/internal/repositories"
)

// Manager writes the acting user's online flag and last_seen timestamp.
type Manager struct {
	profiles   repositories.ProfileRepository
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewManager constructs a Manager. Profiles whose last_seen is older than
// staleAfter are reported offline by Effective; zero disables expiry.
func NewManager(profiles repositories.ProfileRepository, staleAfter time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		profiles:   profiles,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        log.With().Str("component", "presence").Logger(),
	}
}

// SetOnline stores the online flag for userID and refreshes last_seen.
func (m *Manager) SetOnline(ctx context.Context, userID string, online bool) error {
	at := m.now().UTC()
	if err := m.profiles.SetPresence(ctx, userID, online, at); err != nil {
		m.log.Error().Err(err).Str("user_id", userID).Bool("online", online).Msg("update presence")
		return fmt.Errorf("update presence for %s: %w", userID, err)
	}
	m.log.Debug().Str("user_id", userID).Bool("online", online).Msg("presence updated")
	return nil
}

// Touch refreshes last_seen for a user that is still connected.
func (m *Manager) Touch(ctx context.Context, userID string) error {
	return m.SetOnline(ctx, userID, true)
}

// Effective reports whether profile should be shown as online: the stored
// flag, unless last_seen is older than the staleness threshold.
func (m *Manager) Effective(profile models.Profile) bool {
	if !profile.IsOnline {
		return false
	}
	if m.staleAfter <= 0 {
		return true
	}
	return m.now().Sub(profile.LastSeen) <= m.staleAfter
}

// ExpireStale marks profiles offline whose last_seen predates the threshold.
func (m *Manager) ExpireStale(ctx context.Context) (int64, error) {
	if m.staleAfter <= 0 {
		return 0, nil
	}
	expired, err := m.profiles.ExpirePresence(ctx, m.now().Add(-m.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("expire presence: %w", err)
	}
	return expired, nil
}
