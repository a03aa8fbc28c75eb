// Package ratelimit implements the broker's two independent sliding-window
// admission checks: new-connection admission per remote address, and
// per-session message admission. Both are plain in-memory FIFOs of event
// timestamps pruned on access — there is no distributed state to fall back
// from, unlike a multi-instance deployment's rate limiter.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultConnectionWindow = 60 * time.Second
	DefaultConnectionCap    = 20
	DefaultMessageWindow    = time.Second
	DefaultMessageCap       = 1000
)

// window is a sliding window of event timestamps for a single key. Events
// older than the window size are pruned whenever the window is touched.
type window struct {
	mu     sync.Mutex
	events []time.Time
}

func (w *window) allow(now time.Time, size time.Duration, cap int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-size)
	kept := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.events = kept

	if len(w.events) >= cap {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Limiter holds the two independent sliding windows described in the
// protocol spec: connection admission keyed by remote address, and message
// admission keyed by session id.
type Limiter struct {
	connectionWindow time.Duration
	connectionCap    int
	messageWindow    time.Duration
	messageCap       int

	addrMu sync.Mutex
	addrs  map[string]*window

	sessMu   sync.Mutex
	sessions map[string]*window
}

// Config tunes the limiter's window sizes and caps; zero values fall back
// to the documented defaults.
type Config struct {
	ConnectionWindow time.Duration
	ConnectionCap    int
	MessageWindow    time.Duration
	MessageCap       int
}

func (c Config) normalize() Config {
	if c.ConnectionWindow <= 0 {
		c.ConnectionWindow = DefaultConnectionWindow
	}
	if c.ConnectionCap <= 0 {
		c.ConnectionCap = DefaultConnectionCap
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = DefaultMessageWindow
	}
	if c.MessageCap <= 0 {
		c.MessageCap = DefaultMessageCap
	}
	return c
}

// New creates a Limiter from Config, applying documented defaults for any
// zero-valued field.
func New(cfg Config) *Limiter {
	cfg = cfg.normalize()
	return &Limiter{
		connectionWindow: cfg.ConnectionWindow,
		connectionCap:    cfg.ConnectionCap,
		messageWindow:    cfg.MessageWindow,
		messageCap:       cfg.MessageCap,
		addrs:            make(map[string]*window),
		sessions:         make(map[string]*window),
	}
}

// AllowConnection checks whether a new session from addr may be admitted.
// Only admitted attempts are recorded in the window; a rejected attempt
// does not extend it.
func (l *Limiter) AllowConnection(addr string) bool {
	w := l.windowFor(&l.addrMu, l.addrs, addr)
	return w.allow(time.Now(), l.connectionWindow, l.connectionCap)
}

// AllowMessage checks whether sessionID may send another message this
// window.
func (l *Limiter) AllowMessage(sessionID string) bool {
	w := l.windowFor(&l.sessMu, l.sessions, sessionID)
	return w.allow(time.Now(), l.messageWindow, l.messageCap)
}

// ForgetSession drops a session's message window on disconnect so the map
// does not grow without bound across the broker's lifetime.
func (l *Limiter) ForgetSession(sessionID string) {
	l.sessMu.Lock()
	delete(l.sessions, sessionID)
	l.sessMu.Unlock()
}

func (l *Limiter) windowFor(mu *sync.Mutex, m map[string]*window, key string) *window {
	mu.Lock()
	defer mu.Unlock()
	w, ok := m[key]
	if !ok {
		w = &window{}
		m[key] = w
	}
	return w
}
