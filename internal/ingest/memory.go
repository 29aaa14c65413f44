package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// consumeBuffer bounds the in-flight records between appender and consumer.
const consumeBuffer = 256

// Memory is an in-process [Stream]. Appends block when the consumer falls
// consumeBuffer records behind, which is the backpressure the audio loop
// wants.
type Memory struct {
	mu       sync.Mutex
	ch       chan Record
	pending  map[string]struct{}
	consumed bool
	closed   bool
}

var _ Stream = (*Memory)(nil)

// NewMemory creates an in-process ingestion stream.
func NewMemory() *Memory {
	return &Memory{
		ch:      make(chan Record, consumeBuffer),
		pending: make(map[string]struct{}),
	}
}

// Append assigns an id and queues the record.
func (m *Memory) Append(ctx context.Context, rec Record) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	rec.ID = uuid.NewString()
	m.pending[rec.ID] = struct{}{}
	m.mu.Unlock()

	select {
	case m.ch <- rec:
		return rec.ID, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, rec.ID)
		m.mu.Unlock()
		return "", ctx.Err()
	}
}

// Consume returns the record channel.
func (m *Memory) Consume(_ context.Context) (<-chan Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.consumed = true
	return m.ch, nil
}

// Ack clears the record from the pending set.
func (m *Memory) Ack(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, recordID)
	return nil
}

// PendingCount returns the number of unacknowledged records. Test hook.
func (m *Memory) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close stops the stream and closes the consumer channel.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.ch)
	return nil
}
