// Package stream fan-outs marker lifecycle events to live subscribers
// (the SSE endpoint). Slow subscribers drop events instead of blocking
// publishers.
package stream

import (
	"context"
	"sync"
	"time"

	"narcomap.org/internal/markers"
)

// Event kinds published on the marker stream.
const (
	EventApproved = "marker.approved"
	EventResolved = "marker.resolved"
)

// MarkerEvent is one lifecycle notification for the live map.
type MarkerEvent struct {
	Kind      string         `json:"kind"`
	Marker    markers.Marker `json:"marker"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stream fan-outs marker events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan MarkerEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan MarkerEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan MarkerEvent {
	ch := make(chan MarkerEvent, 16)

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
func (s *Stream) Publish(evt MarkerEvent) {
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

// Subscribers reports the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
