package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-session/internal/observability"
)

// Sweeper periodically expires presence for users whose session ended
// without running its teardown.
type Sweeper struct {
	manager   *Manager
	interval  time.Duration
	log       zerolog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSweeper creates a new presence sweeper.
func NewSweeper(manager *Manager, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
		log:      log.With().Str("component", "presence-sweeper").Logger(),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in background.
// Safe to call multiple times - only the first call starts the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.log.Info().Dur("interval", s.interval).Msg("presence sweeper started")
	})
}

// Stop shuts the sweeper down and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log.Info().Msg("presence sweeper stopped")
	})
}

// SweepOnce runs a single expiry pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	expired, err := s.manager.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		observability.AddPresenceExpired(expired)
		s.log.Info().Int64("expired", expired).Msg("stale presence expired")
	}
	return expired, nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("presence sweep failed")
			}
		}
	}
}
