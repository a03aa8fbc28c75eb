// Package ack implements the acknowledgment tracker: the component that
// remembers every delivery made under an ack-required mode, retries it on
// a backoff schedule, and escalates to the dead-letter buffer once a
// message's attempts are exhausted.
//
// The tracker never talks to queues or sessions directly. It reports back
// through the Callbacks interface, which the queue manager implements; this
// mirrors the source's two callback properties as explicit, testable
// methods instead of ambient event hooks.
package ack

import (
	"sync"
	"time"

	"github.com/Bobsans/vibemq/internal/logging"
	"github.com/Bobsans/vibemq/internal/protocol"
)

const (
	DefaultBaseRetryDelay = 2 * time.Second
	DefaultMaxRetryDelay  = 2 * time.Minute
	defaultTickInterval   = time.Second
)

// PendingDelivery is a single in-flight, ack-required delivery.
type PendingDelivery struct {
	Message     *protocol.BrokerMessage
	ClientID    string
	DeliveredAt time.Time
	Attempts    int
	NextRetryAt time.Time
}

// Callbacks lets the ack tracker hand control back to the queue manager
// without importing it, avoiding an import cycle and keeping retry/expiry
// wiring explicit and unit-testable.
type Callbacks interface {
	// OnMessageExpired fires once a pending delivery has exhausted its
	// message's MaxAttempts. The queue manager decides whether to
	// dead-letter it.
	OnMessageExpired(message *protocol.BrokerMessage)
	// OnRetryRequired fires when a pending delivery's backoff has
	// elapsed and it should be redelivered or re-enqueued. Implementations
	// must not block the tracker's timer loop; do the actual I/O
	// asynchronously.
	OnRetryRequired(pending *PendingDelivery)
}

// Config tunes the tracker's backoff schedule and timer cadence.
type Config struct {
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	TickInterval   time.Duration
}

func (c Config) normalize() Config {
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	return c
}

// Tracker tracks in-flight deliveries and drives retry/expiry via Callbacks.
type Tracker struct {
	cfg       Config
	callbacks Callbacks

	mu      sync.Mutex
	pending map[string]*PendingDelivery

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a tracker. Start must be called before deliveries begin
// retrying; Track/Acknowledge are safe to call beforehand.
func New(cfg Config, callbacks Callbacks) *Tracker {
	return &Tracker{
		cfg:       cfg.normalize(),
		callbacks: callbacks,
		pending:   make(map[string]*PendingDelivery),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the single shared timer loop. Calling Start twice is a
// no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.loop()
}

// Dispose stops the timer loop and waits for it to exit. It does not touch
// pending entries; callers that want a clean slate should drain the queue
// manager separately.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	close(t.stopCh)
	<-t.doneCh
}

// Track begins tracking a delivery. A duplicate id is a no-op: it neither
// resets the delivery's attempts nor increments PendingCount. The initial
// send counts as the first of MaxAttempts, so a message tracked with
// MaxAttempts == 1 expires on the first tick after BaseRetryDelay has
// elapsed with no retry sent at all, and MaxAttempts == 2 yields exactly
// one retry before expiry.
func (t *Tracker) Track(message *protocol.BrokerMessage, clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[message.ID]; exists {
		return
	}
	t.pending[message.ID] = &PendingDelivery{
		Message:     message,
		ClientID:    clientID,
		DeliveredAt: time.Now().UTC(),
		Attempts:    1,
		NextRetryAt: time.Now().UTC().Add(t.cfg.BaseRetryDelay),
	}
}

// Acknowledge removes a tracked delivery and reports whether it had been
// tracked. Acknowledging an unknown or already-acked id returns false and
// never decrements PendingCount below zero.
func (t *Tracker) Acknowledge(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

// IsTracked reports whether an id currently has a pending delivery.
func (t *Tracker) IsTracked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// PendingCount returns the number of deliveries currently tracked.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) loop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Tracker) tick() {
	now := time.Now().UTC()

	var expired []*protocol.BrokerMessage
	var retrying []*PendingDelivery

	t.mu.Lock()
	for id, p := range t.pending {
		if p.NextRetryAt.After(now) {
			continue
		}
		if p.Attempts >= p.Message.MaxAttempts {
			delete(t.pending, id)
			expired = append(expired, p.Message)
			continue
		}
		p.Attempts++
		p.Message.Attempts = p.Attempts
		p.NextRetryAt = now.Add(calcBackoff(p.Attempts, t.cfg.BaseRetryDelay, t.cfg.MaxRetryDelay))
		retrying = append(retrying, p)
	}
	t.mu.Unlock()

	// Callback invocations are fire-and-forget from the timer's point of
	// view: errors are the queue manager's concern and must not block
	// this loop. We still call them synchronously here (the manager is
	// expected to enqueue/send without blocking on I/O for long); should
	// that change, the manager should hand off to its own goroutine.
	for _, m := range expired {
		safeExpire(t.callbacks, m)
	}
	for _, p := range retrying {
		safeRetry(t.callbacks, p)
	}
}

func safeExpire(cb Callbacks, m *protocol.BrokerMessage) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("ack tracker: OnMessageExpired panicked", "message", m.ID, "panic", r)
		}
	}()
	cb.OnMessageExpired(m)
}

func safeRetry(cb Callbacks, p *PendingDelivery) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("ack tracker: OnRetryRequired panicked", "message", p.Message.ID, "panic", r)
		}
	}()
	cb.OnRetryRequired(p)
}

func calcBackoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
