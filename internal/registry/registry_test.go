package registry

import (
	"net"
	"testing"

	"github.com/Bobsans/vibemq/internal/protocol"
)

func newTestSession(t *testing.T, id string) *Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	codec := protocol.NewCodec(server, 0)
	s := NewSession(id, server, codec)
	t.Cleanup(s.Close)
	return s
}

func TestAdmitEnforcesLimit(t *testing.T) {
	r := New(1)
	if err := r.Admit(newTestSession(t, "a")); err != nil {
		t.Fatalf("expected first admit to succeed, got %v", err)
	}
	if err := r.Admit(newTestSession(t, "b")); err != ErrConnectionLimit {
		t.Fatalf("expected ErrConnectionLimit, got %v", err)
	}
}

func TestSubscribersOfReflectsSubscribeUnsubscribe(t *testing.T) {
	r := New(10)
	s := newTestSession(t, "a")
	r.Admit(s)

	r.Subscribe("a", "q1")
	subs := r.SubscribersOf("q1")
	if len(subs) != 1 || subs[0].ID != "a" {
		t.Fatalf("expected [a], got %v", subs)
	}

	r.Unsubscribe("a", "q1")
	if subs := r.SubscribersOf("q1"); len(subs) != 0 {
		t.Fatalf("expected empty after unsubscribe, got %v", subs)
	}
}

func TestRemoveCleansSubscriberIndex(t *testing.T) {
	r := New(10)
	s := newTestSession(t, "a")
	r.Admit(s)
	r.Subscribe("a", "q1")

	r.Remove("a")
	if subs := r.SubscribersOf("q1"); len(subs) != 0 {
		t.Fatalf("expected empty subscriber set after remove, got %v", subs)
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected session to be gone")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New(10)
	s := newTestSession(t, "a")
	r.Admit(s)
	r.Remove("a")
	r.Remove("a") // must not panic
}
