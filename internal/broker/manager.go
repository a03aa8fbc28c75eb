// Package broker wires the queue, ack, registry, rate-limit, and auth
// packages into a running TCP server: Manager owns queue state and the
// dead-letter buffers; Broker owns the listener and per-session read loop.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/Bobsans/vibemq/internal/ack"
	"github.com/Bobsans/vibemq/internal/dispatcher"
	"github.com/Bobsans/vibemq/internal/dlq"
	"github.com/Bobsans/vibemq/internal/logging"
	"github.com/Bobsans/vibemq/internal/metrics"
	"github.com/Bobsans/vibemq/internal/protocol"
	"github.com/Bobsans/vibemq/internal/queue"
	"github.com/Bobsans/vibemq/internal/registry"
)

// namedQueue pairs a queue with its own dead-letter buffer; the buffer
// exists even when EnableDeadLetterQueue is false, in which case nothing is
// appended to it and DeadLetters reports it empty.
type namedQueue struct {
	q   *queue.Queue
	dlq *dlq.Buffer
}

// Manager owns every declared queue and the ack tracker that drives
// retry/expiry for ack-required deliveries. It implements
// dispatcher.Manager and ack.Callbacks.
type Manager struct {
	defaults queue.Options
	registry *registry.Registry
	tracker  *ack.Tracker
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	queues map[string]*namedQueue

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a Manager. Start must be called before messages flow.
func NewManager(defaults queue.Options, reg *registry.Registry, ackCfg ack.Config, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		defaults:  defaults.Normalize(),
		registry:  reg,
		metrics:   m,
		queues:    make(map[string]*namedQueue),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	mgr.tracker = ack.New(ackCfg, mgr)
	return mgr
}

// Start launches the ack tracker's timer loop and the TTL expiration
// sweep.
func (m *Manager) Start() {
	m.tracker.Start()
	go m.sweepLoop()
}

// Dispose stops the ack tracker and the TTL sweep.
func (m *Manager) Dispose() {
	close(m.stopSweep)
	<-m.sweepDone
	m.tracker.Dispose()
}

// PendingAcks returns the number of deliveries currently awaiting
// acknowledgment, for the in-flight-messages gauge.
func (m *Manager) PendingAcks() int {
	return m.tracker.PendingCount()
}

// QueueCount returns the number of declared queues, for the active-queues
// gauge.
func (m *Manager) QueueCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}

// CreateQueue declares a queue with the given options, or the manager's
// configured defaults when opts is nil. Declaring an existing queue name
// again is an error.
func (m *Manager) CreateQueue(name string, opts *queue.Options) error {
	options := m.defaults
	if opts != nil {
		options = opts.Normalize()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queues[name]; exists {
		return fmt.Errorf("queue %q already exists", name)
	}
	m.queues[name] = &namedQueue{q: queue.New(name, options), dlq: dlq.New()}
	return nil
}

// DeleteQueue removes a queue and its dead-letter buffer. Deleting an
// unknown queue is an error.
func (m *Manager) DeleteQueue(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queues[name]; !exists {
		return fmt.Errorf("queue %q does not exist", name)
	}
	delete(m.queues, name)
	return nil
}

// ensureQueue returns the named queue, implicitly declaring it with the
// manager's defaults if it does not yet exist — Publish to a fresh queue
// name always succeeds rather than requiring CreateQueue first.
func (m *Manager) ensureQueue(name string) *namedQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	nq, ok := m.queues[name]
	if !ok {
		nq = &namedQueue{q: queue.New(name, m.defaults), dlq: dlq.New()}
		m.queues[name] = nq
	}
	return nq
}

func (m *Manager) lookupQueue(name string) (*namedQueue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nq, ok := m.queues[name]
	return nq, ok
}

// Publish enqueues a message onto its target queue, applying the queue's
// overflow strategy and redirecting to its dead-letter buffer when the
// strategy is RedirectToDlq.
func (m *Manager) Publish(msg *protocol.Message) error {
	nq := m.ensureQueue(msg.Queue)
	bm := protocol.FromWire(msg)
	bm.MaxAttempts = nq.q.Options.MaxRetryAttempts

	result, redirect := nq.q.Enqueue(bm)
	if result == queue.Rejected {
		if redirect && nq.q.Options.EnableDeadLetterQueue {
			nq.dlq.Append(bm, dlq.MaxRetriesExceeded)
			m.metrics.RecordDeadLetter()
		} else {
			m.metrics.RecordDrop()
		}
		return nil
	}

	m.metrics.RecordPublish()
	m.deliver(nq)
	return nil
}

// deliver drains the queue's entire ready backlog to eligible subscribers,
// not just the message that triggered it: it loops dequeue-then-send until
// the buffer is empty or no subscriber remains to hand messages to. It is
// called after every successful enqueue, on ack retry, and whenever a
// session subscribes, so a backlog built up with nobody listening still
// gets delivered once a subscriber attaches.
func (m *Manager) deliver(nq *namedQueue) {
	for {
		subs := m.registry.SubscribersOf(nq.q.Name)
		if len(subs) == 0 {
			return
		}

		var delivered bool
		switch nq.q.Options.Mode {
		case queue.FanOutWithAck, queue.FanOutWithoutAck:
			delivered = m.deliverFanOut(nq, subs)
		default: // RoundRobin, PriorityBased
			delivered = m.deliverSingle(nq, subs)
		}
		if !delivered {
			return
		}
	}
}

func (m *Manager) deliverSingle(nq *namedQueue, subs []*registry.Session) bool {
	bm := nq.q.Dequeue()
	if bm == nil {
		return false
	}

	idx := nq.q.RoundRobinIndex(len(subs))
	target := subs[idx]

	m.send(nq, target, bm)
	return true
}

func (m *Manager) deliverFanOut(nq *namedQueue, subs []*registry.Session) bool {
	bm := nq.q.Dequeue()
	if bm == nil {
		return false
	}
	for _, target := range subs {
		m.send(nq, target, bm)
	}
	return true
}

func (m *Manager) send(nq *namedQueue, target *registry.Session, bm *protocol.BrokerMessage) {
	target.Send(&protocol.Message{
		Type:       protocol.Deliver,
		ID:         bm.ID,
		Queue:      bm.Queue,
		PayloadSet: bm.PayloadSet,
		Payload:    bm.Payload,
		Headers:    bm.Headers,
	})
	m.metrics.RecordDelivery(bm.Latency().Milliseconds())

	if nq.q.Options.Mode == queue.FanOutWithoutAck {
		return
	}
	nq.q.TrackUnacknowledged(bm)
	m.tracker.Track(bm, target.ID)
}

// Acknowledge clears a tracked delivery. For FanOutWithAck, any one
// subscriber's ack is enough to clear the message for all of them — it is
// keyed by message id, not by (message id, subscriber id) pair. When the ack
// tracker does not know the id, every queue's local unacknowledged index is
// probed; it reports true on the first hit.
func (m *Manager) Acknowledge(id string) bool {
	if m.tracker.Acknowledge(id) {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, nq := range m.queues {
		if nq.q.Acknowledge(id) {
			return true
		}
	}
	return false
}

// QueueInfo returns a read-only snapshot for the QueueInfo command.
func (m *Manager) QueueInfo(name string) (dispatcher.QueueInfoView, bool) {
	nq, ok := m.lookupQueue(name)
	if !ok {
		return dispatcher.QueueInfoView{}, false
	}
	return dispatcher.QueueInfoView{
		Name:                  nq.q.Name,
		Mode:                  nq.q.Options.Mode,
		MaxQueueSize:          nq.q.Options.MaxQueueSize,
		OverflowStrategy:      nq.q.Options.OverflowStrategy,
		Length:                nq.q.Len(),
		EnableDeadLetterQueue: nq.q.Options.EnableDeadLetterQueue,
		MaxRetryAttempts:      nq.q.Options.MaxRetryAttempts,
		DeadLetterLength:      nq.dlq.Len(),
		CreatedAt:             nq.q.CreatedAt,
	}, true
}

// DrainQueue implements dispatcher.Manager: it re-attempts delivery of a
// queue's buffered backlog. Subscribe calls this so a session joining
// after messages were already published still receives them, rather than
// only messages published from that point on.
func (m *Manager) DrainQueue(name string) {
	nq, ok := m.lookupQueue(name)
	if !ok {
		return
	}
	m.deliver(nq)
}

// ListQueues returns every declared queue name.
func (m *Manager) ListQueues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}

// DeadLetters returns a snapshot of a queue's dead-letter buffer.
func (m *Manager) DeadLetters(name string) ([]dlq.Entry, bool) {
	nq, ok := m.lookupQueue(name)
	if !ok {
		return nil, false
	}
	return nq.dlq.Snapshot(), true
}

// OnMessageExpired implements ack.Callbacks: a delivery that exhausted its
// attempts is dead-lettered when the queue has a DLQ enabled, dropped
// otherwise.
func (m *Manager) OnMessageExpired(bm *protocol.BrokerMessage) {
	nq, ok := m.lookupQueue(bm.Queue)
	if !ok {
		return
	}
	nq.q.Acknowledge(bm.ID)

	if nq.q.Options.EnableDeadLetterQueue {
		nq.dlq.Append(bm, dlq.MaxRetriesExceeded)
		m.metrics.RecordDeadLetter()
	} else {
		m.metrics.RecordDrop()
	}
}

// OnRetryRequired implements ack.Callbacks: re-deliver to the owning
// session if it is still connected and subscribed, otherwise requeue the
// message for round-robin redelivery to whoever is available next.
func (m *Manager) OnRetryRequired(p *ack.PendingDelivery) {
	nq, ok := m.lookupQueue(p.Message.Queue)
	if !ok {
		return
	}

	m.metrics.RecordRetry()

	if s, ok := m.registry.Get(p.ClientID); ok && s.IsSubscribed(p.Message.Queue) {
		s.Send(&protocol.Message{
			Type:       protocol.Deliver,
			ID:         p.Message.ID,
			Queue:      p.Message.Queue,
			PayloadSet: p.Message.PayloadSet,
			Payload:    p.Message.Payload,
			Headers:    p.Message.Headers,
		})
		return
	}

	nq.q.Acknowledge(p.Message.ID)
	nq.q.Requeue(p.Message)
	m.deliver(nq)
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now().UTC()

	m.mu.RLock()
	queues := make([]*namedQueue, 0, len(m.queues))
	for _, nq := range m.queues {
		queues = append(queues, nq)
	}
	m.mu.RUnlock()

	for _, nq := range queues {
		expired := nq.q.RemoveExpired(now)
		for _, bm := range expired {
			if nq.q.Options.EnableDeadLetterQueue {
				nq.dlq.Append(bm, dlq.MessageExpired)
				m.metrics.RecordDeadLetter()
			} else {
				m.metrics.RecordDrop()
			}
			logging.Op().Debug("message expired", "queue", nq.q.Name, "message", bm.ID)
		}
	}
}
