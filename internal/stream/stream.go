package stream

import (
	"context"
	"sync"

	"co2ledger.org/internal/ledger"
)

// Stream fan-outs ledger events to all active subscribers (SSE clients).
// It implements ledger.Sink; publishing never blocks a ledger operation.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ledger.Event
	next int
}

var _ ledger.Sink = (*Stream)(nil)

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ledger.Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ledger.Event {
	ch := make(chan ledger.Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ledger.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
