package stream

import (
	"context"
	"sync"

	"chat-session/internal/observability"
)

// Subscription is a live registration for one chat.
type Subscription struct {
	chatID      string
	unsubscribe func()
	signal      chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
}

// ChatID returns the chat the subscription is scoped to.
func (sub *Subscription) ChatID() string {
	return sub.chatID
}

// Refresh schedules a re-read. It never blocks; a pending re-read absorbs it.
func (sub *Subscription) Refresh() {
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// Close unregisters the subscription and waits for an in-flight callback to
// return. No callback runs after Close returns. Cancelling the context given
// to Subscribe also stops the subscription. Close must not be called from
// inside the subscription's own callback.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.unsubscribe()
		sub.cancel()
		<-sub.done
	})
}

// Done is closed once the subscription has stopped.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

func (sub *Subscription) run(ctx context.Context, s *Stream, onChange OnChange) {
	defer close(sub.done)
	defer sub.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.signal:
			msgs, err := s.FetchMessages(ctx, sub.chatID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				observability.IncRefetch("error")
				s.log.Error().Err(err).Str("chat_id", sub.chatID).Msg("re-read after insert event failed")
				continue
			}
			observability.IncRefetch("ok")
			onChange(msgs)
		}
	}
}
