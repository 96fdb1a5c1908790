package events

import (
	"sync"

	"github.com/rs/zerolog"

	"chat-session/internal/models"
	"chat-session/internal/observability"
)

// Handler receives message events. Handlers run on the publisher's goroutine
// and must not block.
type Handler func(models.MessageEvent)

// Subscriber registers interest in insert events for one chat.
type Subscriber interface {
	Subscribe(chatID string, handler Handler) (unsubscribe func())
}

// Publisher fans an event out to the subscribers of its chat.
type Publisher interface {
	Publish(evt models.MessageEvent)
}

// Hub maintains per-chat subscriber rooms.
type Hub struct {
	rooms  map[string]map[uint64]Handler
	nextID uint64
	mu     sync.RWMutex
	log    zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[uint64]Handler),
		log:   log.With().Str("component", "event-hub").Logger(),
	}
}

// Subscribe adds handler to the chat's room. The returned function removes
// it; calling it more than once is harmless.
func (h *Hub) Subscribe(chatID string, handler Handler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[uint64]Handler)
	}
	h.rooms[chatID][id] = handler
	h.mu.Unlock()
	observability.IncSubscriptions()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(chatID, id)
			observability.DecSubscriptions()
		})
	}
}

func (h *Hub) remove(chatID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handlers, ok := h.rooms[chatID]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// Publish delivers evt to the handlers registered for evt.ChatID only.
func (h *Hub) Publish(evt models.MessageEvent) {
	handlers := h.snapshot(evt.ChatID)
	h.log.Debug().Str("chat_id", evt.ChatID).Str("message_id", evt.MessageID).Int("subscribers", len(handlers)).Msg("message event")
	for _, handler := range handlers {
		handler(evt)
	}
}

// Resync sends a synthetic event to every room. It is used after the upstream
// feed reconnects, when events may have been missed.
func (h *Hub) Resync() {
	h.mu.RLock()
	chatIDs := make([]string, 0, len(h.rooms))
	for chatID := range h.rooms {
		chatIDs = append(chatIDs, chatID)
	}
	h.mu.RUnlock()

	h.log.Info().Int("rooms", len(chatIDs)).Msg("resyncing subscribers")
	for _, chatID := range chatIDs {
		h.Publish(models.MessageEvent{ChatID: chatID})
	}
}

// Subscribers returns the number of handlers registered for a chat.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

func (h *Hub) snapshot(chatID string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[chatID]
	handlers := make([]Handler, 0, len(room))
	for _, handler := range room {
		handlers = append(handlers, handler)
	}
	return handlers
}
