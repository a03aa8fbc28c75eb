// Package registry tracks live client sessions and the queue→subscriber
// index used for delivery. It owns ClientSession for the session's entire
// lifetime; queue delivery only ever borrows a snapshot of subscriber
// sessions.
package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bobsans/vibemq/internal/logging"
	"github.com/Bobsans/vibemq/internal/protocol"
)

// sendQueueSize bounds how many outgoing frames a session's writer
// goroutine buffers before Send starts applying backpressure to its caller.
const sendQueueSize = 256

// Session is a live client connection. Outgoing frames are never written
// directly to the socket by callers; they are enqueued on outbox and
// drained by a single writer goroutine, which removes the need for an
// explicit per-send mutex and makes shutdown a matter of closing outbox.
type Session struct {
	ID             string
	RemoteAddress  string
	ConnectedAt    time.Time
	lastActivityAt atomic.Int64

	authenticated atomic.Bool

	mu            sync.RWMutex
	subscriptions map[string]struct{}

	conn   net.Conn
	codec  *protocol.Codec
	outbox chan *protocol.Message
	closed chan struct{}
	once   sync.Once
}

// NewSession wraps a connection, assigning the broker-generated id, and
// starts its dedicated writer goroutine.
func NewSession(id string, conn net.Conn, codec *protocol.Codec) *Session {
	s := &Session{
		ID:            id,
		RemoteAddress: conn.RemoteAddr().String(),
		ConnectedAt:   time.Now().UTC(),
		subscriptions: make(map[string]struct{}),
		conn:          conn,
		codec:         codec,
		outbox:        make(chan *protocol.Message, sendQueueSize),
		closed:        make(chan struct{}),
	}
	s.touch()
	go s.writeLoop()
	return s
}

func (s *Session) writeLoop() {
	for m := range s.outbox {
		if err := s.codec.Encode(m); err != nil {
			logging.Op().Warn("session write failed", "session", s.ID, "error", err)
			s.Close()
			return
		}
	}
}

// Send enqueues a frame for delivery. It is safe to call concurrently and
// never blocks the caller on socket I/O directly; if the session has
// already been closed, Send is a silent no-op so a slow-to-notice
// disconnect never wedges a publisher.
func (s *Session) Send(m *protocol.Message) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.outbox <- m:
	case <-s.closed:
	}
}

// Close closes the session's socket and writer goroutine. Idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.outbox)
		_ = s.conn.Close()
	})
}

// Authenticated reports whether a successful Connect has been processed.
func (s *Session) Authenticated() bool { return s.authenticated.Load() }

// SetAuthenticated flips the authenticated flag, typically to true after a
// successful Connect.
func (s *Session) SetAuthenticated(v bool) { s.authenticated.Store(v) }

// Touch records activity for idle-tracking/metrics purposes.
func (s *Session) touch() { s.lastActivityAt.Store(time.Now().UnixNano()) }

// Touch is the exported form, called by the broker's read loop on every
// successfully decoded frame.
func (s *Session) Touch() { s.touch() }

// LastActivityAt returns the last time Touch was called.
func (s *Session) LastActivityAt() time.Time {
	return time.Unix(0, s.lastActivityAt.Load())
}

// Subscribe adds a queue to this session's subscription set.
func (s *Session) Subscribe(queue string) {
	s.mu.Lock()
	s.subscriptions[queue] = struct{}{}
	s.mu.Unlock()
}

// Unsubscribe removes a queue from this session's subscription set.
func (s *Session) Unsubscribe(queue string) {
	s.mu.Lock()
	delete(s.subscriptions, queue)
	s.mu.Unlock()
}

// Subscriptions returns a snapshot of subscribed queue names.
func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscriptions))
	for q := range s.subscriptions {
		out = append(out, q)
	}
	return out
}

// IsSubscribed reports whether the session is attached to the given queue.
func (s *Session) IsSubscribed(queue string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptions[queue]
	return ok
}
