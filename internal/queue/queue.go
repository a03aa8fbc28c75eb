// Package queue implements the per-queue FIFO/priority buffer: the engine
// that enforces a queue's overflow policy and hands out round-robin
// delivery indices. It holds no knowledge of sessions or the ack tracker;
// the queue manager in internal/broker wires those in.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bobsans/vibemq/internal/protocol"
)

// Mode selects which subscriber(s) receive a dequeued message.
type Mode string

const (
	RoundRobin      Mode = "RoundRobin"
	FanOutWithAck   Mode = "FanOutWithAck"
	FanOutWithoutAck Mode = "FanOutWithoutAck"
	PriorityBased   Mode = "PriorityBased"
)

// Overflow selects the action taken when a queue is full at enqueue time.
type Overflow string

const (
	// DropOldest evicts the head of the buffer to make room for the new
	// message.
	DropOldest Overflow = "DropOldest"
	// DropNewest rejects the incoming message, leaving the buffer as is.
	DropNewest Overflow = "DropNewest"
	// BlockPublisher behaves identically to DropNewest at the engine
	// level; it is reserved for a future asynchronous enqueue that would
	// actually suspend the publisher until capacity frees up. Callers
	// should not rely on it blocking today.
	BlockPublisher Overflow = "BlockPublisher"
	// RedirectToDlq rejects the message; the queue manager is responsible
	// for writing it to the dead-letter buffer when the queue has one
	// enabled.
	RedirectToDlq Overflow = "RedirectToDlq"
)

// EnqueueResult reports what enqueue did with a message.
type EnqueueResult int

const (
	Accepted EnqueueResult = iota
	Rejected
)

const (
	DefaultMaxQueueSize     = 10000
	DefaultMaxRetryAttempts = 3
)

// Options configures a queue's delivery and overflow behavior. Zero values
// are replaced with the documented defaults by Normalize.
type Options struct {
	Mode                  Mode
	MaxQueueSize          int
	MessageTTL            time.Duration // 0 disables expiration
	EnableDeadLetterQueue bool
	DeadLetterQueueName   string
	OverflowStrategy      Overflow
	MaxRetryAttempts      int
}

// Normalize fills in documented defaults for zero-valued fields and returns
// the result; it never mutates the receiver.
func (o Options) Normalize() Options {
	if o.Mode == "" {
		o.Mode = RoundRobin
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	if o.OverflowStrategy == "" {
		o.OverflowStrategy = DropOldest
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	return o
}

// Queue is a named, bounded buffer with a delivery policy. All methods are
// safe for concurrent use; Dequeue is atomic with respect to concurrent
// Enqueue calls (both hold the same mutex).
type Queue struct {
	Name      string
	CreatedAt time.Time
	Options   Options

	mu     sync.Mutex
	buffer []*protocol.BrokerMessage

	unackMu sync.Mutex
	unacked map[string]*protocol.BrokerMessage

	cursor atomic.Uint64
}

// New creates a queue with normalized options.
func New(name string, opts Options) *Queue {
	return &Queue{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Options:   opts.Normalize(),
		unacked:   make(map[string]*protocol.BrokerMessage),
	}
}

// Len reports the current buffer depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Enqueue appends a message, applying the queue's overflow strategy when
// the buffer is already at MaxQueueSize. It returns the redirect flag so
// the queue manager can write to the dead-letter buffer on RedirectToDlq
// without the queue needing to know about the DLQ.
func (q *Queue) Enqueue(m *protocol.BrokerMessage) (result EnqueueResult, redirectToDLQ bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) < q.Options.MaxQueueSize {
		q.buffer = append(q.buffer, m)
		return Accepted, false
	}

	switch q.Options.OverflowStrategy {
	case DropOldest:
		q.buffer = append(q.buffer[1:], m)
		return Accepted, false
	case RedirectToDlq:
		return Rejected, true
	default: // DropNewest, BlockPublisher
		return Rejected, false
	}
}

// Dequeue removes and returns one message, or nil if the buffer is empty.
// In every mode but PriorityBased this is the head of the FIFO. In
// PriorityBased mode it is the highest-priority message currently buffered,
// tie-broken by FIFO insertion order; the rest of the buffer is restored in
// its original relative order.
func (q *Queue) Dequeue() *protocol.BrokerMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) == 0 {
		return nil
	}

	if q.Options.Mode != PriorityBased {
		m := q.buffer[0]
		q.buffer = q.buffer[1:]
		return m
	}

	bestIdx := 0
	for i := 1; i < len(q.buffer); i++ {
		if q.buffer[i].Priority > q.buffer[bestIdx].Priority {
			bestIdx = i
		}
	}
	m := q.buffer[bestIdx]
	q.buffer = append(q.buffer[:bestIdx], q.buffer[bestIdx+1:]...)
	return m
}

// RemoveExpired pops every message whose age exceeds MessageTTL and returns
// them for the caller to dead-letter. A zero TTL disables the sweep.
func (q *Queue) RemoveExpired(now time.Time) []*protocol.BrokerMessage {
	if q.Options.MessageTTL <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*protocol.BrokerMessage
	kept := q.buffer[:0]
	for _, m := range q.buffer {
		if now.Sub(m.Timestamp) > q.Options.MessageTTL {
			expired = append(expired, m)
		} else {
			kept = append(kept, m)
		}
	}
	q.buffer = kept
	return expired
}

// RoundRobinIndex returns increment(cursor) mod n using an atomic counter,
// so concurrent deliveries still hand out a deterministic rotation. With
// n == 0 it returns 0 without touching the cursor.
func (q *Queue) RoundRobinIndex(n int) int {
	if n == 0 {
		return 0
	}
	next := q.cursor.Add(1)
	return int(next % uint64(n))
}

// TrackUnacknowledged records a delivered-but-unacked message in the
// queue-local fallback index; the central ack tracker is authoritative,
// this is only consulted when the manager's primary lookup misses.
func (q *Queue) TrackUnacknowledged(m *protocol.BrokerMessage) {
	q.unackMu.Lock()
	q.unacked[m.ID] = m
	q.unackMu.Unlock()
}

// Acknowledge removes an id from the local fallback index and reports
// whether it was present.
func (q *Queue) Acknowledge(id string) bool {
	q.unackMu.Lock()
	defer q.unackMu.Unlock()
	if _, ok := q.unacked[id]; !ok {
		return false
	}
	delete(q.unacked, id)
	return true
}

// Requeue reinserts a message at the head of the buffer so it is the next
// one dequeued, used when a subscriber disappears or unsubscribes while a
// retry is pending.
func (q *Queue) Requeue(m *protocol.BrokerMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buffer = append([]*protocol.BrokerMessage{m}, q.buffer...)
}

// Snapshot returns a copy of the current buffer contents for inspection
// without exposing the internal slice.
func (q *Queue) Snapshot() []*protocol.BrokerMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*protocol.BrokerMessage, len(q.buffer))
	copy(out, q.buffer)
	return out
}
