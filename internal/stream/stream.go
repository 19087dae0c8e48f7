package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an account lifecycle event pushed to live subscribers.
type Event struct {
	Kind        string    `json:"kind"`
	Severity    string    `json:"severity,omitempty"`
	Title       string    `json:"title"`
	Message     string    `json:"message,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Filter decides whether a subscriber receives an event.
type Filter func(Event) bool

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Broker fans out events to all active subscribers (SSE clients).
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events accepted by filter (all events when nil).
// The channel is closed when the provided context ends.
func (b *Broker) Subscribe(ctx context.Context, filter Filter) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans out the event to all matching subscribers.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
			b.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
