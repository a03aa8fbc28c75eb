package protocol

import "time"

// Headers is a string-to-string header bag. Recognized keys are documented
// on the constants in command.go; unrecognized keys pass through untouched.
type Headers map[string]string

// Message is the wire-level representation of a single protocol frame. A
// Message becomes a queue-owned BrokerMessage only once it has passed the
// validator and been handed to the queue manager's Publish path; up to that
// point it is just a decoded frame.
type Message struct {
	Version      uint8
	Type         CommandType
	ID           string
	Queue        string
	PayloadSet   bool
	Payload      []byte // opaque JSON bytes; the broker never parses these
	Headers      Headers
	ErrorCode    string
	ErrorMessage string
}

// HasHeader reports whether a header key is present and non-empty.
func (m *Message) HasHeader(key string) bool {
	if m.Headers == nil {
		return false
	}
	v, ok := m.Headers[key]
	return ok && v != ""
}

// Header returns a header value, or "" if absent.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// Priority derives the message's delivery priority from its headers,
// defaulting to Normal. Priority is copied onto the BrokerMessage at
// enqueue time and never recomputed afterward, so a retry cannot change it.
func (m *Message) Priority() Priority {
	return ParsePriority(m.Header(HeaderPriority))
}

// BrokerMessage is the unit of work once it is owned by a queue: an
// enqueued Message plus the bookkeeping the queue engine and ack tracker
// need to drive delivery, retry, and dead-lettering.
//
// Invariants: ID is immutable after enqueue; Attempts never exceeds
// MaxAttempts; Priority is preserved across retries (copied once at
// enqueue, never rederived from Headers again).
type BrokerMessage struct {
	ID            string
	Queue         string
	Payload       []byte
	PayloadSet    bool
	Headers       Headers
	Priority      Priority
	Timestamp     time.Time
	MaxAttempts   int
	Attempts      int
}

// Latency returns the time elapsed since the message was created, used to
// compute the broker's average-delivery-latency metric.
func (m *BrokerMessage) Latency() time.Duration {
	return time.Since(m.Timestamp)
}

// FromWire builds a BrokerMessage from a decoded, validated Message. The
// caller (queue manager Publish) is responsible for filling in MaxAttempts
// from the target queue's configuration.
func FromWire(m *Message) *BrokerMessage {
	return &BrokerMessage{
		ID:         m.ID,
		Queue:      m.Queue,
		Payload:    m.Payload,
		PayloadSet: m.PayloadSet,
		Headers:    m.Headers,
		Priority:   m.Priority(),
		Timestamp:  time.Now().UTC(),
		Attempts:   0,
	}
}
