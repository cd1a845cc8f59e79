package dm

import (
	"context"
	"sync"

	"github.com/italolelis/download_coordinator/internal/logctx"
)

const subscriptionBuffer = 16

// Subscription receives completion events until it is closed.
type Subscription struct {
	events chan CompletionEvent
	once   sync.Once
	cancel func()
}

// Events returns the channel completion events are delivered on. It is closed by Close.
func (s *Subscription) Events() <-chan CompletionEvent {
	return s.events
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Broadcaster fans completion events out to every open subscription.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroadcaster returns a broadcaster without subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe opens a subscription. The caller must Close it.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{events: make(chan CompletionEvent, subscriptionBuffer)}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.subs, sub)
		close(sub.events)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers the event to every subscriber without blocking. A subscriber whose buffer is
// full misses the event.
func (b *Broadcaster) Publish(ctx context.Context, event CompletionEvent) {
	logger := logctx.LoggerFromContext(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			logger.Warn("dropping completion event for slow subscriber", "download_id", event.ID)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
