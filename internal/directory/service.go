package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"chat-session/internal/models"
	"chat-session/internal/observability"
	"chat-session/internal/profiles"
	"chat-session/internal/repositories"
)

var (
	ErrSelfChat       = errors.New("cannot create chat with self")
	ErrMissingUserID  = errors.New("user id is required")
	ErrNotParticipant = errors.New("not a chat participant")
	ErrUnknownUser    = errors.New("user not found")
)

// Liveness decides whether a stored profile should be shown as online.
type Liveness interface {
	Effective(profile models.Profile) bool
}

// Service lists a user's chats and finds or creates direct chats.
type Service struct {
	chats    repositories.ChatRepository
	resolver *profiles.Resolver
	liveness Liveness
	log      zerolog.Logger
}

// NewService constructs a Service. liveness may be nil, in which case the
// stored online flag is used as is.
func NewService(chats repositories.ChatRepository, resolver *profiles.Resolver, liveness Liveness, log zerolog.Logger) *Service {
	return &Service{
		chats:    chats,
		resolver: resolver,
		liveness: liveness,
		log:      log.With().Str("component", "chat-directory").Logger(),
	}
}

// ListChats returns the chats the user participates in.
func (s *Service) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUserID
	}
	chats, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("list chats")
		return nil, fmt.Errorf("list chats for %s: %w", userID, err)
	}
	return chats, nil
}

// ListChatSummaries returns the user's chats with display names: the chat
// name for groups, the counterpart's name for direct chats.
func (s *Service) ListChatSummaries(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	chats, err := s.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Summarize(ctx, chats, userID), nil
}

// Summarize builds display rows for chats already loaded for userID.
func (s *Service) Summarize(ctx context.Context, chats []models.Chat, userID string) []models.ChatSummary {
	counterparts := s.resolver.ResolveAll(ctx, chats, userID)
	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := models.ChatSummary{Chat: chat, DisplayName: chat.Name}
		if !chat.IsGroup {
			counterpart := counterparts[chat.ID]
			summary.DisplayName = counterpart.DisplayName()
			if counterpart.Known {
				profile := counterpart.Profile
				summary.Counterpart = &profile
				summary.Online = s.online(profile)
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (s *Service) online(profile models.Profile) bool {
	if s.liveness == nil {
		return profile.IsOnline
	}
	return s.liveness.Effective(profile)
}

// GetOrCreateDirectChat returns the canonical direct chat between userID and
// otherUserID, creating it when none exists. Concurrent calls for the same
// pair, from either side, return the same chat. A chat is only created for an
// otherUserID with a profile; ErrUnknownUser otherwise.
func (s *Service) GetOrCreateDirectChat(ctx context.Context, userID string, otherUserID string) (models.Chat, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(otherUserID) == "" {
		return models.Chat{}, ErrMissingUserID
	}
	if userID == otherUserID {
		return models.Chat{}, ErrSelfChat
	}

	chat, err := s.chats.FindDirectChat(ctx, userID, otherUserID)
	if err == nil {
		observability.IncDirectChat("existing")
		return chat, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, fmt.Errorf("find direct chat: %w", err)
	}

	// a pair is claimed for good, so never claim one for a user id that does
	// not exist
	known, err := s.resolver.Exists(ctx, otherUserID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
	if !known {
		return models.Chat{}, ErrUnknownUser
	}

	chat, err = s.chats.CreateDirectChat(ctx, userID, otherUserID)
	switch {
	case err == nil:
		observability.IncDirectChat("created")
		s.log.Info().Str("chat_id", chat.ID).Str("user_id", userID).Str("other_user_id", otherUserID).Msg("direct chat created")
		return chat, nil
	case errors.Is(err, repositories.ErrDirectChatConflict):
		// the pair was claimed by a concurrent creation; return its chat
		chat, err = s.chats.FindDirectChat(ctx, userID, otherUserID)
		if err != nil {
			return models.Chat{}, fmt.Errorf("load concurrently created chat: %w", err)
		}
		observability.IncDirectChat("converged")
		return chat, nil
	default:
		return models.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
}

// EnsureParticipant returns ErrNotParticipant when the user has no
// participant row in the chat.
func (s *Service) EnsureParticipant(ctx context.Context, chatID string, userID string) error {
	member, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return ErrNotParticipant
	}
	return nil
}
