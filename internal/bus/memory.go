package bus

import (
	"context"
	"errors"
	"sync"
)

// subscriberBuffer is the per-subscriber queue depth. Interims for a slow
// subscriber overflow this and are dropped.
const subscriberBuffer = 64

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Memory is an in-process [Bus]. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

var _ Bus = (*Memory)(nil)

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[*memorySub]struct{})}
}

// Publish delivers ev to every subscriber of the topic without blocking.
func (m *Memory) Publish(_ context.Context, sessionID string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.topics[sessionID] {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not keeping up; drop for them only.
		}
	}
	return nil
}

// Subscribe attaches to a session topic.
func (m *Memory) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		bus:       m,
		sessionID: sessionID,
		ch:        make(chan Event, subscriberBuffer),
	}
	if m.topics[sessionID] == nil {
		m.topics[sessionID] = make(map[*memorySub]struct{})
	}
	m.topics[sessionID][sub] = struct{}{}
	return sub, nil
}

// Close shuts the bus down and closes every subscription channel.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.topics {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	m.topics = nil
	return nil
}

func (m *Memory) remove(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if subs, ok := m.topics[sub.sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.topics, sub.sessionID)
		}
	}
	sub.closeLocked()
}

type memorySub struct {
	bus       *Memory
	sessionID string
	ch        chan Event
	closeOnce sync.Once
}

func (s *memorySub) Events() <-chan Event { return s.ch }

func (s *memorySub) Close() error {
	s.bus.remove(s)
	return nil
}

// closeLocked closes the channel exactly once. Callers hold the bus mutex or
// have already detached the subscriber.
func (s *memorySub) closeLocked() {
	s.closeOnce.Do(func() { close(s.ch) })
}
