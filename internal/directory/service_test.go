package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-session/internal/mocks"
	"chat-session/internal/models"
	"chat-session/internal/profiles"
	"chat-session/internal/repositories"
	"chat-session/internal/repositories/memstore"
)

type staleAfter time.Duration

func (d staleAfter) Effective(p models.Profile) bool {
	return p.IsOnline && time.Since(p.LastSeen) <= time.Duration(d)
}

func seedUsers(store *memstore.Store, ids ...string) {
	for _, id := range ids {
		store.PutProfile(models.Profile{ID: id, Name: id})
	}
}

func newMemService(store *memstore.Store) *Service {
	log := zerolog.Nop()
	return NewService(store, profiles.NewResolver(store, store, log), staleAfter(time.Minute), log)
}

func TestGetOrCreateDirectChatIsSymmetric(t *testing.T) {
	store := memstore.New(nil)
	seedUsers(store, "user-a", "user-b")
	svc := newMemService(store)
	ctx := context.Background()

	ab, err := svc.GetOrCreateDirectChat(ctx, "user-a", "user-b")
	require.NoError(t, err)
	ba, err := svc.GetOrCreateDirectChat(ctx, "user-b", "user-a")
	require.NoError(t, err)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, 1, store.ChatCount())

	for _, user := range []string{"user-a", "user-b"} {
		chats, err := svc.ListChats(ctx, user)
		require.NoError(t, err)
		require.Len(t, chats, 1)
		assert.Equal(t, ab.ID, chats[0].ID)
	}
}

func TestGetOrCreateDirectChatConcurrentCallersConverge(t *testing.T) {
	store := memstore.New(nil)
	seedUsers(store, "user-a", "user-b")
	svc := newMemService(store)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			self, other := "user-a", "user-b"
			if i%2 == 1 {
				self, other = other, self
			}
			chat, err := svc.GetOrCreateDirectChat(ctx, self, other)
			assert.NoError(t, err)
			ids[i] = chat.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.ChatCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestGetOrCreateDirectChatRejectsSelf(t *testing.T) {
	store := memstore.New(nil)
	svc := newMemService(store)

	_, err := svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-a")
	assert.ErrorIs(t, err, ErrSelfChat)

	_, err = svc.GetOrCreateDirectChat(context.Background(), "", "user-a")
	assert.ErrorIs(t, err, ErrMissingUserID)
	assert.Zero(t, store.ChatCount())
}

func TestGetOrCreateDirectChatIgnoresOrphans(t *testing.T) {
	store := memstore.New(nil)
	store.PutChat(models.Chat{ID: "orphan", CreatedAt: time.Now().Add(-time.Hour)})
	seedUsers(store, "user-a", "user-b")
	svc := newMemService(store)

	chat, err := svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-b")
	require.NoError(t, err)
	assert.NotEqual(t, "orphan", chat.ID)
}

func TestGetOrCreateDirectChatCreateFailure(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	profileRepo := new(mocks.ProfileRepositoryMock)
	svc := NewService(chatRepo, profiles.NewResolver(chatRepo, profileRepo, zerolog.Nop()), nil, zerolog.Nop())
	chatRepo.On("FindDirectChat", mock.Anything, "user-a", "user-b").Return(nil, repositories.ErrChatNotFound).Once()
	chatRepo.On("CreateDirectChat", mock.Anything, "user-a", "user-b").Return(nil, assert.AnError).Once()
	profileRepo.On("GetProfile", mock.Anything, "user-b").Return(models.Profile{ID: "user-b"}, nil).Once()

	_, err := svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-b")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create chat")
	assert.ErrorIs(t, err, assert.AnError)
	chatRepo.AssertExpectations(t)
}

func TestGetOrCreateDirectChatConflictRefinds(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	profileRepo := new(mocks.ProfileRepositoryMock)
	svc := NewService(chatRepo, profiles.NewResolver(chatRepo, profileRepo, zerolog.Nop()), nil, zerolog.Nop())
	chatRepo.On("FindDirectChat", mock.Anything, "user-a", "user-b").Return(nil, repositories.ErrChatNotFound).Once()
	chatRepo.On("CreateDirectChat", mock.Anything, "user-a", "user-b").Return(nil, repositories.ErrDirectChatConflict).Once()
	profileRepo.On("GetProfile", mock.Anything, "user-b").Return(models.Profile{ID: "user-b"}, nil).Once()
	chatRepo.On("FindDirectChat", mock.Anything, "user-a", "user-b").Return(models.Chat{ID: "winner"}, nil).Once()

	chat, err := svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-b")

	require.NoError(t, err)
	assert.Equal(t, "winner", chat.ID)
	chatRepo.AssertExpectations(t)
}

func TestGetOrCreateDirectChatRejectsUnknownUser(t *testing.T) {
	store := memstore.New(nil)
	seedUsers(store, "user-a")
	svc := newMemService(store)

	_, err := svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-typo")

	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Zero(t, store.ChatCount())

	seedUsers(store, "user-typo")
	_, err = svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-typo")
	assert.NoError(t, err, "the pair was never claimed")
}

func TestGetOrCreateDirectChatProfileLookupFailure(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	profileRepo := new(mocks.ProfileRepositoryMock)
	svc := NewService(chatRepo, profiles.NewResolver(chatRepo, profileRepo, zerolog.Nop()), nil, zerolog.Nop())
	chatRepo.On("FindDirectChat", mock.Anything, "user-a", "user-b").Return(nil, repositories.ErrChatNotFound).Once()
	profileRepo.On("GetProfile", mock.Anything, "user-b").Return(nil, assert.AnError).Once()

	_, err := svc.GetOrCreateDirectChat(context.Background(), "user-a", "user-b")

	assert.ErrorIs(t, err, assert.AnError)
	chatRepo.AssertNotCalled(t, "CreateDirectChat", mock.Anything, mock.Anything, mock.Anything)
}

func TestListChatSummaries(t *testing.T) {
	store := memstore.New(nil)
	ctx := context.Background()
	now := time.Now()
	store.PutProfile(models.Profile{ID: "user-b", Name: "Bob", IsOnline: true, LastSeen: now})
	store.PutProfile(models.Profile{ID: "user-c", Name: "Cleo", IsOnline: true, LastSeen: now.Add(-time.Hour)})
	store.PutChat(models.Chat{ID: "team", Name: "Team", IsGroup: true, UpdatedAt: now})
	store.PutParticipant("team", "user-a")
	for _, other := range []string{"user-b", "user-c", "ghost"} {
		store.PutChat(models.Chat{ID: "dm-" + other, UpdatedAt: now.Add(-time.Minute)})
		store.PutParticipant("dm-"+other, "user-a")
		store.PutParticipant("dm-"+other, other)
	}
	store.PutChat(models.Chat{ID: "dm-alone", UpdatedAt: now.Add(-2 * time.Minute)})
	store.PutParticipant("dm-alone", "user-a")

	summaries, err := newMemService(store).ListChatSummaries(ctx, "user-a")
	require.NoError(t, err)

	byID := map[string]models.ChatSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	require.Len(t, byID, 5)
	assert.Equal(t, "Team", byID["team"].DisplayName)
	assert.Equal(t, "Bob", byID["dm-user-b"].DisplayName)
	assert.True(t, byID["dm-user-b"].Online)
	assert.Equal(t, "Cleo", byID["dm-user-c"].DisplayName)
	assert.False(t, byID["dm-user-c"].Online, "stale presence reads as offline")
	assert.Equal(t, models.UnknownUserName, byID["dm-ghost"].DisplayName)
	assert.Nil(t, byID["dm-ghost"].Counterpart)
	assert.Equal(t, models.UnknownUserName, byID["dm-alone"].DisplayName)
}

func TestEnsureParticipant(t *testing.T) {
	store := memstore.New(nil)
	store.PutChat(models.Chat{ID: "c1"})
	store.PutParticipant("c1", "user-a")
	svc := newMemService(store)

	assert.NoError(t, svc.EnsureParticipant(context.Background(), "c1", "user-a"))
	assert.ErrorIs(t, svc.EnsureParticipant(context.Background(), "c1", "user-b"), ErrNotParticipant)
}
