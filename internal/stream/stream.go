package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chat-session/internal/events"
	"chat-session/internal/models"
	"chat-session/internal/repositories"
)

var ErrMissingChatID = errors.New("chat id is required")

// OnChange receives the full ordered message list of a chat after each
// insert event.
type OnChange func(messages []models.MessageView)

// Stream reads a chat's messages and delivers live updates.
type Stream struct {
	messages repositories.MessageRepository
	events   events.Subscriber
	log      zerolog.Logger
}

// New constructs a Stream.
func New(messages repositories.MessageRepository, subscriber events.Subscriber, log zerolog.Logger) *Stream {
	return &Stream{
		messages: messages,
		events:   subscriber,
		log:      log.With().Str("component", "message-stream").Logger(),
	}
}

// FetchMessages returns the chat's messages ordered by (created_at, id),
// enriched with sender identity. When the enriched read fails the plain read
// is used and senders are left unresolved.
func (s *Stream) FetchMessages(ctx context.Context, chatID string) ([]models.MessageView, error) {
	if chatID == "" {
		return nil, ErrMissingChatID
	}

	views, err := s.messages.ListMessagesWithSenders(ctx, chatID)
	if err == nil {
		sortViews(views)
		return views, nil
	}
	s.log.Warn().Err(err).Str("chat_id", chatID).Msg("enriched message read failed, falling back")

	msgs, fallbackErr := s.messages.ListMessages(ctx, chatID)
	if fallbackErr != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", chatID, errors.Join(err, fallbackErr))
	}
	views = lo.Map(msgs, func(m models.Message, _ int) models.MessageView {
		return models.MessageView{Message: m}
	})
	sortViews(views)
	return views, nil
}

// Subscribe registers onChange for insert events of chatID. Every event
// triggers a full re-read; events that arrive while a re-read is pending are
// folded into it. Release the subscription with Close.
func (s *Stream) Subscribe(ctx context.Context, chatID string, onChange OnChange) (*Subscription, error) {
	if chatID == "" {
		return nil, ErrMissingChatID
	}
	if onChange == nil {
		return nil, errors.New("onChange is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		chatID: chatID,
		signal: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.unsubscribe = s.events.Subscribe(chatID, func(evt models.MessageEvent) {
		if evt.ChatID != chatID {
			return
		}
		sub.Refresh()
	})

	go sub.run(subCtx, s, onChange)
	s.log.Debug().Str("chat_id", chatID).Msg("subscribed")
	return sub, nil
}

// sortViews keeps the (created_at, id) order even if a store returns rows in
// another order.
func sortViews(views []models.MessageView) {
	sort.SliceStable(views, func(i, j int) bool { return views[i].Before(views[j].Message) })
}
