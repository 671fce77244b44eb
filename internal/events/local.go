package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrBusClosed is returned by a LocalBus after Close.
var ErrBusClosed = errors.New("events: bus closed")

// LocalBus is an in-process Publisher and Subscriber. Topics follow the NATS
// subject syntax: "*" matches one token and a trailing ">" the rest.
type LocalBus struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*localSub
	closed bool
}

type localSub struct {
	pattern string
	ch      chan []byte
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]*localSub)}
}

// Publish encodes event as JSON and delivers it to every matching
// subscription. Full subscriptions drop the event.
func (b *LocalBus) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs {
		if !MatchSubject(s.pattern, topic) {
			continue
		}
		select {
		case s.ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription for topic.
func (b *LocalBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}
	id := b.next
	b.next++
	s := &localSub{pattern: topic, ch: make(chan []byte, subscriberBuffer)}
	b.subs[id] = s

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				drainAndClose(s.ch)
			}
		})
	}
	return s.ch, cancel, nil
}

// Close closes every subscription channel.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		drainAndClose(s.ch)
	}
	return nil
}

// MatchSubject reports whether subject matches the NATS-style pattern.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
