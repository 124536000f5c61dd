package stream

import (
	"context"
	"sync"
	"time"
)

// Action tags the kind of change carried by a DealEvent.
const (
	ActionDealCreated = "deal.created"
	ActionDealUpdated = "deal.updated"
	ActionDealDeleted = "deal.deleted"
)

// DealEvent describes a deal change pushed to live dashboard clients.
type DealEvent struct {
	Action    string    `json:"action"`
	DealID    string    `json:"deal_id"`
	Title     string    `json:"title,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs deal events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan DealEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan DealEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan DealEvent {
	ch := make(chan DealEvent, 16)

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
func (s *Stream) Publish(evt DealEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
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

// Subscribers reports the number of attached clients.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
