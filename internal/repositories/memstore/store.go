package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-session/internal/events"
	"chat-session/internal/models"
	"chat-session/internal/repositories"
)

type pairKey struct {
	low, high string
}

// Store is a mutex-guarded in-memory directory store. It implements the chat,
// profile and message repositories and publishes an event for every message
// insert, the way the postgres trigger does.
type Store struct {
	mu           sync.RWMutex
	profiles     map[string]models.Profile
	chats        map[string]models.Chat
	participants map[string][]string // chat id -> user ids in join order
	pairs        map[pairKey]string
	messages     map[string][]models.Message
	events       events.Publisher
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store publishing inserts to pub. pub may be nil.
func New(pub events.Publisher, opts ...Option) *Store {
	s := &Store{
		profiles:     make(map[string]models.Profile),
		chats:        make(map[string]models.Chat),
		participants: make(map[string][]string),
		pairs:        make(map[pairKey]string),
		messages:     make(map[string][]models.Message),
		events:       pub,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ repositories.ChatRepository    = (*Store)(nil)
	_ repositories.ProfileRepository = (*Store)(nil)
	_ repositories.MessageRepository = (*Store)(nil)
)

// PutProfile stores or replaces a profile.
func (s *Store) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// PutChat stores a chat row without touching membership.
func (s *Store) PutChat(c models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
}

// PutParticipant adds a membership row.
func (s *Store) PutParticipant(chatID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !lo.Contains(s.participants[chatID], userID) {
		s.participants[chatID] = append(s.participants[chatID], userID)
	}
}

// ChatCount returns the number of chat rows, orphans included.
func (s *Store) ChatCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

func (s *Store) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := []models.Chat{}
	for chatID, members := range s.participants {
		if chat, ok := s.chats[chatID]; ok && lo.Contains(members, userID) {
			chats = append(chats, chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func (s *Store) IsParticipant(ctx context.Context, chatID string, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Contains(s.participants[chatID], userID), nil
}

func (s *Store) OtherParticipants(ctx context.Context, chatID string, selfID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Without(s.participants[chatID], selfID), nil
}

// FindDirectChat walks the caller's direct chats and returns the oldest one
// the other user also participates in.
func (s *Store) FindDirectChat(ctx context.Context, userID string, otherUserID string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found models.Chat
		ok    bool
	)
	for chatID, members := range s.participants {
		chat, exists := s.chats[chatID]
		if !exists || chat.IsGroup || !lo.Contains(members, userID) || !lo.Contains(members, otherUserID) {
			continue
		}
		if !ok || chat.CreatedAt.Before(found.CreatedAt) || (chat.CreatedAt.Equal(found.CreatedAt) && chat.ID < found.ID) {
			found, ok = chat, true
		}
	}
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return found, nil
}

func (s *Store) CreateDirectChat(ctx context.Context, creatorID string, otherUserID string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	low, high := models.PairKey(creatorID, otherUserID)
	key := pairKey{low: low, high: high}
	if _, taken := s.pairs[key]; taken {
		return models.Chat{}, repositories.ErrDirectChatConflict
	}

	now := s.now()
	chat := models.Chat{
		ID:        uuid.NewString(),
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[chat.ID] = chat
	s.pairs[key] = chat.ID
	s.participants[chat.ID] = []string{creatorID, otherUserID}
	return chat, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.Profile{}, repositories.ErrProfileNotFound
	}
	return p, nil
}

func (s *Store) ListProfilesExcept(ctx context.Context, userID string) ([]models.Profile, error) {
	return s.filterProfiles(func(p models.Profile) bool { return p.ID != userID }), nil
}

func (s *Store) SearchProfiles(ctx context.Context, userID string, term string) ([]models.Profile, error) {
	term = strings.ToLower(term)
	return s.filterProfiles(func(p models.Profile) bool {
		return p.ID != userID &&
			(strings.Contains(strings.ToLower(p.Name), term) || strings.Contains(strings.ToLower(p.Email), term))
	}), nil
}

func (s *Store) filterProfiles(keep func(models.Profile) bool) []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := lo.Filter(lo.Values(s.profiles), func(p models.Profile, _ int) bool { return keep(p) })
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Name == profiles[j].Name {
			return profiles[i].ID < profiles[j].ID
		}
		return profiles[i].Name < profiles[j].Name
	})
	return profiles
}

func (s *Store) EnsureProfile(ctx context.Context, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; !ok {
		profile.IsOnline = false
		profile.LastSeen = s.now()
		s.profiles[profile.ID] = profile
	}
	return nil
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return repositories.ErrProfileNotFound
	}
	p.IsOnline = online
	p.LastSeen = at
	s.profiles[userID] = p
	return nil
}

func (s *Store) ExpirePresence(ctx context.Context, staleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired int64
	for id, p := range s.profiles {
		if p.IsOnline && p.LastSeen.Before(staleBefore) {
			p.IsOnline = false
			s.profiles[id] = p
			expired++
		}
	}
	return expired, nil
}

// CreateMessage stores the message and publishes an insert event after the
// lock is released.
func (s *Store) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	chat, ok := s.chats[msg.ChatID]
	if !ok {
		s.mu.Unlock()
		return models.Message{}, repositories.ErrChatNotFound
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	chat.UpdatedAt = msg.CreatedAt
	s.chats[chat.ID] = chat
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(models.MessageEvent{ChatID: msg.ChatID, MessageID: msg.ID})
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedMessages(chatID), nil
}

func (s *Store) ListMessagesWithSenders(ctx context.Context, chatID string) ([]models.MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.orderedMessages(chatID), func(m models.Message, _ int) models.MessageView {
		view := models.MessageView{Message: m}
		if p, ok := s.profiles[m.SenderID]; ok {
			view.Sender = &models.Sender{Name: p.Name, AvatarURL: p.AvatarURL}
		}
		return view
	}), nil
}

func (s *Store) orderedMessages(chatID string) []models.Message {
	msgs := append([]models.Message{}, s.messages[chatID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs
}
