package memory

import (
	"context"
	"sync"

	"challenge-service/internal/domain"
)

// EventBus is an in-process implementation of app.EventBus. It only reaches subscribers in the
// same process; use the Redis or Postgres bus when running more than one instance.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[chan domain.ChallengeEvent]domain.EventFilter
	buffer      int
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[chan domain.ChallengeEvent]domain.EventFilter),
		buffer:      8,
	}
}

func (b *EventBus) Publish(_ context.Context, ev domain.ChallengeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, filter := range b.subscribers {
		if !filter.Matches(ev) {
			continue
		}
		Deliver(ch, ev)
	}
	return nil
}

func (b *EventBus) Subscribe(_ context.Context, filter domain.EventFilter) (<-chan domain.ChallengeEvent, func(), error) {
	ch := make(chan domain.ChallengeEvent, b.buffer)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel, nil
}

// Subscribers reports the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Deliver sends ev without blocking. A full channel drops its oldest event: every event carries
// the whole row, so a slow reader only ever needs the newest one.
func Deliver(ch chan domain.ChallengeEvent, ev domain.ChallengeEvent) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
