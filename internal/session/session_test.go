package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-session/internal/directory"
	"chat-session/internal/events"
	"chat-session/internal/mocks"
	"chat-session/internal/models"
	"chat-session/internal/presence"
	"chat-session/internal/profiles"
	"chat-session/internal/repositories/memstore"
	"chat-session/internal/stream"
)

type fixture struct {
	store   *memstore.Store
	hub     *events.Hub
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	hub := events.NewHub(log)
	store := memstore.New(hub)
	store.PutProfile(models.Profile{ID: "user-a", Name: "Alice"})
	store.PutProfile(models.Profile{ID: "user-b", Name: "Bob"})

	pres := presence.NewManager(store, 5*time.Minute, log)
	dir := directory.NewService(store, profiles.NewResolver(store, store, log), pres, log)
	return &fixture{
		store:   store,
		hub:     hub,
		manager: NewManager(dir, pres, stream.New(store, hub, log), log),
	}
}

func (f *fixture) online(t *testing.T, userID string) bool {
	t.Helper()
	p, err := f.store.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return p.IsOnline
}

func TestStartLoadsChatsAndMarksOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.store.CreateDirectChat(ctx, "user-a", "user-b")
	require.NoError(t, err)

	sess, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	defer sess.End(ctx)

	assert.True(t, f.online(t, "user-a"))
	chats := sess.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
	assert.Equal(t, "Bob", chats[0].DisplayName)
}

func TestStartRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Start(context.Background(), "")
	assert.ErrorIs(t, err, directory.ErrMissingUserID)
}

func TestPresenceIsReferenceCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	second, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 2, f.manager.Live("user-a"))

	first.End(ctx)
	assert.True(t, f.online(t, "user-a"), "still online with one live session")

	second.End(ctx)
	assert.False(t, f.online(t, "user-a"))
	assert.Zero(t, f.manager.Live("user-a"))
}

func TestEndForgetsUsersWithoutSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []string{"user-a", "user-b"} {
		sess, err := f.manager.Start(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, f.manager.Tracked())
		sess.End(ctx)
	}
	assert.Zero(t, f.manager.Tracked())
	assert.Zero(t, f.manager.Live("user-a"))
	assert.Zero(t, f.manager.Tracked(), "Live does not register users")
}

func TestConcurrentStartEndKeepsCountsConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				sess, err := f.manager.Start(ctx, "user-a")
				if !assert.NoError(t, err) {
					return
				}
				sess.End(ctx)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, f.manager.Tracked())
	assert.False(t, f.online(t, "user-a"))

	sess, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, f.manager.Live("user-a"))
	assert.True(t, f.online(t, "user-a"))
	sess.End(ctx)
	assert.False(t, f.online(t, "user-a"))
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	second, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)

	first.End(ctx)
	first.End(ctx)
	assert.Equal(t, 1, f.manager.Live("user-a"))
	assert.True(t, f.online(t, "user-a"))

	second.End(ctx)
}

func TestEndWritesOfflineAfterContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sess, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	cancel()
	sess.End(ctx)

	assert.False(t, f.online(t, "user-a"))
}

func TestOpenChatDeliversMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.store.CreateDirectChat(ctx, "user-a", "user-b")
	require.NoError(t, err)

	sess, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	defer sess.End(ctx)

	updates := make(chan []models.MessageView, 8)
	require.NoError(t, sess.OpenChat(ctx, chat.ID, func(msgs []models.MessageView) { updates <- msgs }))
	assert.Equal(t, chat.ID, sess.OpenChatID())

	select {
	case msgs := <-updates:
		assert.Empty(t, msgs)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial message list")
	}

	_, err = f.store.CreateMessage(ctx, models.Message{ChatID: chat.ID, SenderID: "user-b", Content: "hi", MessageType: models.MessageTypeText})
	require.NoError(t, err)

	select {
	case msgs := <-updates:
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Content)
		assert.Equal(t, "user-b", msgs[0].SenderID)
		assert.Equal(t, models.MessageTypeText, msgs[0].MessageType)
	case <-time.After(2 * time.Second):
		t.Fatal("insert not delivered")
	}

	sess.CloseChat()
	assert.Empty(t, sess.OpenChatID())
	assert.Zero(t, f.hub.Subscribers(chat.ID))
}

func TestOpenChatRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutChat(models.Chat{ID: "private"})
	f.store.PutParticipant("private", "user-b")

	sess, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	defer sess.End(ctx)

	err = sess.OpenChat(ctx, "private", func([]models.MessageView) {})
	assert.ErrorIs(t, err, directory.ErrNotParticipant)
	assert.Zero(t, f.hub.Subscribers("private"))
}

func TestEndReleasesOpenChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.store.CreateDirectChat(ctx, "user-a", "user-b")
	require.NoError(t, err)

	sess, err := f.manager.Start(ctx, "user-a")
	require.NoError(t, err)
	require.NoError(t, sess.OpenChat(ctx, chat.ID, func([]models.MessageView) {}))

	sess.End(ctx)

	assert.Zero(t, f.hub.Subscribers(chat.ID))
	assert.ErrorIs(t, sess.OpenChat(ctx, chat.ID, func([]models.MessageView) {}), ErrSessionEnded)
	assert.NoError(t, sess.Touch(ctx))
}

func TestRefreshChatsKeepsPreviousListOnError(t *testing.T) {
	log := zerolog.Nop()
	chats := new(mocks.ChatRepositoryMock)
	profileRepo := new(mocks.ProfileRepositoryMock)
	chats.On("ListChatsForUser", mock.Anything, "user-a").Return([]models.Chat{{ID: "g1", Name: "Team", IsGroup: true}}, nil).Once()
	chats.On("ListChatsForUser", mock.Anything, "user-a").Return(nil, assert.AnError).Once()

	dir := directory.NewService(chats, profiles.NewResolver(chats, profileRepo, log), nil, log)
	manager := NewManager(dir, nil, stream.New(nil, events.NewHub(log), log), log)

	sess, err := manager.Start(context.Background(), "user-a")
	require.NoError(t, err)
	defer sess.End(context.Background())
	require.Len(t, sess.Chats(), 1)

	list, err := sess.RefreshChats(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	require.Len(t, list, 1)
	assert.Equal(t, "Team", list[0].DisplayName)
	assert.Len(t, sess.Chats(), 1)
}
