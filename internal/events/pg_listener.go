package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"chat-session/internal/models"
)

const listenerPingInterval = 90 * time.Second

// PGListener turns postgres NOTIFY payloads emitted by the messages insert
// trigger into hub events.
type PGListener struct {
	dsn     string
	channel string
	hub     *Hub
	log     zerolog.Logger
}

// NewPGListener constructs a PGListener.
func NewPGListener(dsn, channel string, hub *Hub, log zerolog.Logger) *PGListener {
	return &PGListener{
		dsn:     dsn,
		channel: channel,
		hub:     hub,
		log:     log.With().Str("component", "pg-listener").Str("channel", channel).Logger(),
	}
}

// Run listens until ctx is cancelled.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Warn().Err(err).Int("event", int(ev)).Msg("listener state change")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info().Msg("listening for message inserts")

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// connection was re-established; anything sent meanwhile is lost
				l.hub.Resync()
				continue
			}
			evt, err := decodeNotification(n.Extra)
			if err != nil {
				l.log.Warn().Err(err).Str("payload", n.Extra).Msg("dropping malformed notification")
				continue
			}
			l.hub.Publish(evt)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}

func decodeNotification(payload string) (models.MessageEvent, error) {
	var evt models.MessageEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return models.MessageEvent{}, err
	}
	if evt.ChatID == "" {
		return models.MessageEvent{}, fmt.Errorf("notification without chat_id")
	}
	return evt, nil
}
