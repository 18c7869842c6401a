// Package events fans the node's viewer messages out to websocket
// subscribers.
package events

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ViewerPrefix marks the messages meant for viewers.
const ViewerPrefix = "viewer:"

// subscriberBuffer is the number of messages held for a subscriber that is
// still writing the previous one to its websocket.
const subscriberBuffer = 100

type subscriber struct {
	ch     chan string
	missed atomic.Uint64
}

// Stream holds the subscribers of the viewer messages. A subscriber whose
// buffer is full misses the message and the miss is counted.
type Stream struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

// New constructs an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[string]*subscriber),
	}
}

// Subscribe returns the channel for the id, creating it on first use. After
// Shutdown the returned channel is already closed.
func (s *Stream) Subscribe(id string) <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, exists := s.subs[id]; exists {
		return sub.ch
	}

	sub := subscriber{ch: make(chan string, subscriberBuffer)}
	if s.closed {
		close(sub.ch)
		return sub.ch
	}

	s.subs[id] = &sub
	return sub.ch
}

// Unsubscribe closes and removes the channel for the id.
func (s *Stream) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[id]
	if !exists {
		return fmt.Errorf("subscriber %q does not exist", id)
	}

	delete(s.subs, id)
	close(sub.ch)
	return nil
}

// Publish delivers a viewer message to every subscriber without waiting on
// any of them. It reports false for messages without the viewer prefix, which
// are left for the caller to log.
func (s *Stream) Publish(msg string) bool {
	if !strings.HasPrefix(msg, ViewerPrefix) {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.missed.Add(1)
		}
	}

	return true
}

// Missed returns how many messages the subscriber didn't have room for.
func (s *Stream) Missed(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, exists := s.subs[id]; exists {
		return sub.missed.Load()
	}
	return 0
}

// Count returns the number of subscribers.
func (s *Stream) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.subs)
}

// Shutdown closes every subscriber channel. Later subscribers get a closed
// channel so websocket handlers return right away.
func (s *Stream) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}
