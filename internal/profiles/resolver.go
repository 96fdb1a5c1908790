package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"chat-session/internal/models"
	"chat-session/internal/repositories"
)

// Counterpart is the other participant of a direct chat. When Known is false
// the profile holds the placeholder identity.
type Counterpart struct {
	Profile models.Profile
	Known   bool
}

// DisplayName returns the counterpart name or the placeholder.
func (c Counterpart) DisplayName() string {
	if !c.Known || c.Profile.Name == "" {
		return models.UnknownUserName
	}
	return c.Profile.Name
}

func unknownCounterpart() Counterpart {
	return Counterpart{Profile: models.Profile{Name: models.UnknownUserName}}
}

// Resolver looks up profiles for chat participants.
type Resolver struct {
	chats    repositories.ChatRepository
	profiles repositories.ProfileRepository
	log      zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(chats repositories.ChatRepository, profiles repositories.ProfileRepository, log zerolog.Logger) *Resolver {
	return &Resolver{
		chats:    chats,
		profiles: profiles,
		log:      log.With().Str("component", "profile-resolver").Logger(),
	}
}

// ResolveDirectCounterpart returns the profile of the participant other than
// selfID. A chat without such a participant, or whose participant has no
// profile, resolves to the unknown placeholder rather than an error.
func (r *Resolver) ResolveDirectCounterpart(ctx context.Context, chat models.Chat, selfID string) (Counterpart, error) {
	others, err := r.chats.OtherParticipants(ctx, chat.ID, selfID)
	if err != nil {
		return Counterpart{}, fmt.Errorf("load participants of chat %s: %w", chat.ID, err)
	}
	if len(others) == 0 {
		r.log.Warn().Str("chat_id", chat.ID).Msg("direct chat has no counterpart")
		return unknownCounterpart(), nil
	}
	if len(others) > 1 {
		r.log.Warn().Str("chat_id", chat.ID).Int("others", len(others)).Msg("direct chat has more than one counterpart")
	}

	profile, err := r.profiles.GetProfile(ctx, others[0])
	if errors.Is(err, repositories.ErrProfileNotFound) {
		return unknownCounterpart(), nil
	}
	if err != nil {
		return Counterpart{}, fmt.Errorf("load profile %s: %w", others[0], err)
	}
	return Counterpart{Profile: profile, Known: true}, nil
}

// ResolveAll resolves the counterpart of every direct chat in chats, keyed by
// chat id. Group chats are skipped. Failures degrade to the placeholder.
func (r *Resolver) ResolveAll(ctx context.Context, chats []models.Chat, selfID string) map[string]Counterpart {
	resolved := make(map[string]Counterpart, len(chats))
	for _, chat := range chats {
		if chat.IsGroup {
			continue
		}
		counterpart, err := r.ResolveDirectCounterpart(ctx, chat, selfID)
		if err != nil {
			r.log.Error().Err(err).Str("chat_id", chat.ID).Msg("resolve counterpart")
			counterpart = unknownCounterpart()
		}
		resolved[chat.ID] = counterpart
	}
	return resolved
}

// Exists reports whether userID has a profile.
func (r *Resolver) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := r.profiles.GetProfile(ctx, userID)
	if errors.Is(err, repositories.ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return true, nil
}

// ListContacts returns every profile except the caller's.
func (r *Resolver) ListContacts(ctx context.Context, selfID string) ([]models.Profile, error) {
	profiles, err := r.profiles.ListProfilesExcept(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// Search filters contacts by a case-insensitive substring of name or email.
// An empty term lists every contact.
func (r *Resolver) Search(ctx context.Context, selfID string, term string) ([]models.Profile, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.ListContacts(ctx, selfID)
	}
	profiles, err := r.profiles.SearchProfiles(ctx, selfID, term)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	return profiles, nil
}
