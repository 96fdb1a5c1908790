package stream

import (
	"context"
	"sync"
)

// View tracks the conversation currently on screen. It holds at most one
// subscription; opening another chat releases the previous one first.
type View struct {
	stream  *Stream
	mu      sync.Mutex
	current *Subscription
}

// NewView constructs an empty View.
func NewView(stream *Stream) *View {
	return &View{stream: stream}
}

// Open switches the view to chatID and delivers the initial ordered message
// list through onChange, followed by a fresh list after every insert.
func (v *View) Open(ctx context.Context, chatID string, onChange OnChange) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current != nil {
		v.current.Close()
		v.current = nil
	}

	sub, err := v.stream.Subscribe(ctx, chatID, onChange)
	if err != nil {
		return err
	}
	v.current = sub
	// subscribing before the first read means no insert can fall in between
	sub.Refresh()
	return nil
}

// ChatID returns the open chat, or "" when nothing is open.
func (v *View) ChatID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return ""
	}
	return v.current.ChatID()
}

// Close releases the active subscription, if any.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current != nil {
		v.current.Close()
		v.current = nil
	}
}
