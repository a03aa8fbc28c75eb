package ack

import (
	"sync"
	"testing"
	"time"

	"github.com/Bobsans/vibemq/internal/protocol"
)

type fakeCallbacks struct {
	mu       sync.Mutex
	expired  []string
	retries  []string
}

func (f *fakeCallbacks) OnMessageExpired(m *protocol.BrokerMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, m.ID)
}

func (f *fakeCallbacks) OnRetryRequired(p *PendingDelivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, p.Message.ID)
}

func (f *fakeCallbacks) snapshot() (expired, retries []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.expired...), append([]string(nil), f.retries...)
}

func TestTrackDuplicateIsNoOp(t *testing.T) {
	tr := New(Config{}, &fakeCallbacks{})
	m := &protocol.BrokerMessage{ID: "m1", MaxAttempts: 3}
	tr.Track(m, "c1")
	tr.Track(m, "c2")
	if tr.PendingCount() != 1 {
		t.Fatalf("expected pending count 1, got %d", tr.PendingCount())
	}
}

func TestAcknowledgeUnknownReturnsFalse(t *testing.T) {
	tr := New(Config{}, &fakeCallbacks{})
	if tr.Acknowledge("missing") {
		t.Fatal("expected false for unknown id")
	}
}

func TestAcknowledgeTwiceSecondFails(t *testing.T) {
	tr := New(Config{}, &fakeCallbacks{})
	m := &protocol.BrokerMessage{ID: "m1", MaxAttempts: 3}
	tr.Track(m, "c1")
	if !tr.Acknowledge("m1") {
		t.Fatal("expected first ack to succeed")
	}
	if tr.Acknowledge("m1") {
		t.Fatal("expected second ack to fail")
	}
	if tr.PendingCount() != 0 {
		t.Fatalf("pending count should not go negative-equivalent, got %d", tr.PendingCount())
	}
}

// FanOutWithAck tracks one message id once per subscriber; the entries are
// keyed by message id, so a single ack clears the message for every
// subscriber.
func TestFanOutSingleAckClearsMessage(t *testing.T) {
	tr := New(Config{}, &fakeCallbacks{})
	m := &protocol.BrokerMessage{ID: "m1", MaxAttempts: 3}
	tr.Track(m, "sub-a")
	tr.Track(m, "sub-b")
	if !tr.Acknowledge("m1") {
		t.Fatal("expected ack from one subscriber to succeed")
	}
	if tr.IsTracked("m1") || tr.PendingCount() != 0 {
		t.Fatalf("expected one ack to clear the fan-out message, pending=%d", tr.PendingCount())
	}
}

func TestRetryThenExpireEscalatesToDLQCallback(t *testing.T) {
	cb := &fakeCallbacks{}
	tr := New(Config{BaseRetryDelay: 5 * time.Millisecond, MaxRetryDelay: 10 * time.Millisecond, TickInterval: 2 * time.Millisecond}, cb)
	m := &protocol.BrokerMessage{ID: "m1", MaxAttempts: 2}
	tr.Track(m, "c1")
	tr.Start()
	defer tr.Dispose()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		expired, _ := cb.snapshot()
		if len(expired) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	expired, retries := cb.snapshot()
	if len(expired) != 1 {
		t.Fatalf("expected escalation to DLQ after retries, got expired=%v retries=%v", expired, retries)
	}
	// The initial send counts as attempt 1 of MaxAttempts, so MaxAttempts
	// == 2 yields exactly one retry (attempt 2) before expiry — two
	// Deliver frames total, not three.
	if len(retries) != 1 {
		t.Fatalf("expected exactly one retry before expiry, got expired=%v retries=%v", expired, retries)
	}
}

func TestCalcBackoffCapsAtMax(t *testing.T) {
	got := calcBackoff(10, 2*time.Second, 2*time.Minute)
	if got != 2*time.Minute {
		t.Fatalf("expected backoff capped at max, got %v", got)
	}
}

func TestCalcBackoffDoubles(t *testing.T) {
	got := calcBackoff(2, 2*time.Second, time.Hour)
	if got != 4*time.Second {
		t.Fatalf("expected 4s at attempt 2, got %v", got)
	}
}
