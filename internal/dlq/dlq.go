// Package dlq implements the dead-letter buffer: an append-only log of
// messages that failed delivery, readable and dequeuable by operators.
package dlq

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bobsans/vibemq/internal/protocol"
)

// Reason classifies why a message was dead-lettered.
type Reason string

const (
	MaxRetriesExceeded   Reason = "MaxRetriesExceeded"
	MessageExpired       Reason = "MessageExpired"
	DeserializationError Reason = "DeserializationError"
	HandlerException     Reason = "HandlerException"
)

// Entry is a single dead-lettered message.
type Entry struct {
	ID              string
	OriginalMessage *protocol.BrokerMessage
	Reason          Reason
	FailedAt        time.Time
}

// Buffer is an append-only FIFO of dead-lettered messages, scoped to one
// queue. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty dead-letter buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append records a message as dead-lettered.
func (b *Buffer) Append(m *protocol.BrokerMessage, reason Reason) Entry {
	e := Entry{
		ID:              uuid.NewString(),
		OriginalMessage: m,
		Reason:          reason,
		FailedAt:        time.Now().UTC(),
	}
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
	return e
}

// Len reports the number of entries currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns a copy of all entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Dequeue removes and returns the oldest entry, or false if empty.
func (b *Buffer) Dequeue() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	e := b.entries[0]
	b.entries = b.entries[1:]
	return e, true
}

// Drain removes and returns every entry currently buffered.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}
