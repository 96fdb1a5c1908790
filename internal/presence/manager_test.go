package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-session/internal/mocks"
	"chat-session/internal/models"
	"chat-session/internal/repositories/memstore"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSetOnlineThenOffline(t *testing.T) {
	store := memstore.New(nil)
	store.PutProfile(models.Profile{ID: "user-a", Name: "Alice"})
	manager := NewManager(store, 5*time.Minute, zerolog.Nop())
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	manager.now = fixedClock(start)
	require.NoError(t, manager.SetOnline(ctx, "user-a", true))

	p, err := store.GetProfile(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.True(t, p.LastSeen.Equal(start))

	manager.now = fixedClock(start.Add(time.Minute))
	require.NoError(t, manager.SetOnline(ctx, "user-a", false))

	p, err = store.GetProfile(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.False(t, p.LastSeen.Before(start))
}

func TestSetOnlineWrapsRepositoryError(t *testing.T) {
	repo := new(mocks.ProfileRepositoryMock)
	repo.On("SetPresence", mock.Anything, "user-a", true, mock.AnythingOfType("time.Time")).Return(assert.AnError)
	manager := NewManager(repo, time.Minute, zerolog.Nop())

	err := manager.Touch(context.Background(), "user-a")
	assert.ErrorIs(t, err, assert.AnError)
	repo.AssertExpectations(t)
}

func TestEffective(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	manager := NewManager(nil, 5*time.Minute, zerolog.Nop())
	manager.now = fixedClock(now)

	assert.True(t, manager.Effective(models.Profile{IsOnline: true, LastSeen: now.Add(-time.Minute)}))
	assert.False(t, manager.Effective(models.Profile{IsOnline: true, LastSeen: now.Add(-10 * time.Minute)}))
	assert.False(t, manager.Effective(models.Profile{IsOnline: false, LastSeen: now}))

	noExpiry := NewManager(nil, 0, zerolog.Nop())
	assert.True(t, noExpiry.Effective(models.Profile{IsOnline: true, LastSeen: now.Add(-24 * time.Hour)}))
}

func TestSweepOnceExpiresStaleProfiles(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New(nil)
	store.PutProfile(models.Profile{ID: "fresh", IsOnline: true, LastSeen: now.Add(-time.Minute)})
	store.PutProfile(models.Profile{ID: "stale", IsOnline: true, LastSeen: now.Add(-time.Hour)})
	store.PutProfile(models.Profile{ID: "offline", IsOnline: false, LastSeen: now.Add(-time.Hour)})

	manager := NewManager(store, 5*time.Minute, zerolog.Nop())
	manager.now = fixedClock(now)
	sweeper := NewSweeper(manager, time.Minute, zerolog.Nop())

	expired, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	stale, _ := store.GetProfile(context.Background(), "stale")
	fresh, _ := store.GetProfile(context.Background(), "fresh")
	assert.False(t, stale.IsOnline)
	assert.True(t, fresh.IsOnline)
}

func TestExpireStaleDisabled(t *testing.T) {
	manager := NewManager(new(mocks.ProfileRepositoryMock), 0, zerolog.Nop())
	expired, err := manager.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestSweeperStartStop(t *testing.T) {
	repo := new(mocks.ProfileRepositoryMock)
	swept := make(chan struct{}, 1)
	repo.On("ExpirePresence", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})
	sweeper := NewSweeper(NewManager(repo, time.Minute, zerolog.Nop()), 5*time.Millisecond, zerolog.Nop())

	sweeper.Start(context.Background())
	sweeper.Start(context.Background())
	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}
	sweeper.Stop()
	sweeper.Stop()
}
