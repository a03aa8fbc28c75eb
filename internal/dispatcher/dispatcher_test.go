package dispatcher

import (
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/Bobsans/vibemq/internal/dlq"
	"github.com/Bobsans/vibemq/internal/protocol"
	"github.com/Bobsans/vibemq/internal/queue"
	"github.com/Bobsans/vibemq/internal/registry"
)

type fakeManager struct {
	publishErr    error
	createErr     error
	deleteErr     error
	info          QueueInfoView
	infoOK        bool
	names         []string
	acked         []string
	lastCreated   string
	lastOpts      *queue.Options
	lastPublished *protocol.Message
	deadLetters   []dlq.Entry
	deadLettersOK bool
	drained       []string
}

func (f *fakeManager) Publish(m *protocol.Message) error {
	f.lastPublished = m
	return f.publishErr
}

func (f *fakeManager) CreateQueue(name string, opts *queue.Options) error {
	f.lastCreated = name
	f.lastOpts = opts
	return f.createErr
}

func (f *fakeManager) DeleteQueue(name string) error { return f.deleteErr }

func (f *fakeManager) QueueInfo(name string) (QueueInfoView, bool) { return f.info, f.infoOK }

func (f *fakeManager) ListQueues() []string { return f.names }

func (f *fakeManager) Acknowledge(id string) bool {
	f.acked = append(f.acked, id)
	return true
}

func (f *fakeManager) DeadLetters(name string) ([]dlq.Entry, bool) {
	return f.deadLetters, f.deadLettersOK
}

func (f *fakeManager) DrainQueue(name string) {
	f.drained = append(f.drained, name)
}

type fakeAuth struct {
	configured bool
	token      string
}

func (f *fakeAuth) Configured() bool { return f.configured }

func (f *fakeAuth) Validate(presented string) bool {
	if !f.configured {
		return true
	}
	return presented == f.token
}

// testRig wires a real Session/Registry (exercising the actual writer-
// goroutine send path) against fake Manager/Authenticator collaborators.
type testRig struct {
	t        *testing.T
	client   net.Conn
	session  *registry.Session
	registry *registry.Registry
	manager  *fakeManager
	auth     *fakeAuth
	dispatch *Dispatcher
}

func newRig(t *testing.T, authConfigured bool, token string) *testRig {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	codec := protocol.NewCodec(server, 0)
	sess := registry.NewSession("sess-1", server, codec)
	t.Cleanup(sess.Close)

	reg := registry.New(10)
	if err := reg.Admit(sess); err != nil {
		t.Fatalf("admit: %v", err)
	}

	return &testRig{
		t:        t,
		client:   client,
		session:  sess,
		registry: reg,
		manager:  &fakeManager{},
		auth:     &fakeAuth{configured: authConfigured, token: token},
		dispatch: New(),
	}
}

func (r *testRig) ctx() *Context {
	return &Context{Session: r.session, Registry: r.registry, Manager: r.manager, Auth: r.auth}
}

func (r *testRig) recv() *protocol.Message {
	r.t.Helper()
	clientCodec := protocol.NewCodec(r.client, 0)
	m, err := clientCodec.Decode()
	if err != nil {
		r.t.Fatalf("decode reply: %v", err)
	}
	return m
}

func TestDispatchConnectSucceedsWithoutToken(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Connect, ID: "1"})

	reply := r.recv()
	if reply.Type != protocol.ConnectAck {
		t.Fatalf("expected ConnectAck, got %v", reply.Type)
	}
	if !r.session.Authenticated() {
		t.Fatal("expected session to be marked authenticated")
	}
}

func TestDispatchConnectRequiresToken(t *testing.T) {
	r := newRig(t, true, "secret")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Connect, ID: "1"})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeAuthRequired {
		t.Fatalf("expected AUTH_REQUIRED error, got %+v", reply)
	}
}

func TestDispatchConnectRejectsBadToken(t *testing.T) {
	r := newRig(t, true, "secret")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{
		Type: protocol.Connect, ID: "1",
		Headers: protocol.Headers{protocol.HeaderAuthToken: "wrong"},
	})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeAuthFailed {
		t.Fatalf("expected AUTH_FAILED error, got %+v", reply)
	}
}

func TestDispatchPing(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Ping, ID: "7"})

	reply := r.recv()
	if reply.Type != protocol.Pong || reply.ID != "7" {
		t.Fatalf("expected Pong/7, got %+v", reply)
	}
}

func TestDispatchPublishRequiresQueue(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Publish, ID: "1"})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeInvalidQueue {
		t.Fatalf("expected INVALID_QUEUE error, got %+v", reply)
	}
}

func TestDispatchPublishSuccess(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Publish, ID: "1", Queue: "orders"})

	reply := r.recv()
	if reply.Type != protocol.PublishAck || reply.Queue != "orders" {
		t.Fatalf("expected PublishAck/orders, got %+v", reply)
	}
	if r.manager.lastPublished == nil {
		t.Fatal("expected Publish to have been called")
	}
}

func TestDispatchPublishPropagatesManagerError(t *testing.T) {
	r := newRig(t, false, "")
	r.manager.publishErr = errors.New("queue does not exist")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Publish, ID: "1", Queue: "missing"})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeInvalidQueue {
		t.Fatalf("expected INVALID_QUEUE error, got %+v", reply)
	}
}

func TestDispatchSubscribeUpdatesRegistry(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Subscribe, ID: "1", Queue: "orders"})

	reply := r.recv()
	if reply.Type != protocol.SubscribeAck {
		t.Fatalf("expected SubscribeAck, got %+v", reply)
	}
	if !r.session.IsSubscribed("orders") {
		t.Fatal("expected session subscribed to orders")
	}
	if len(r.manager.drained) != 1 || r.manager.drained[0] != "orders" {
		t.Fatalf("expected Subscribe to drain the backlog for orders, got %v", r.manager.drained)
	}
}

func TestDispatchUnsubscribe(t *testing.T) {
	r := newRig(t, false, "")
	r.registry.Subscribe(r.session.ID, "orders")

	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Unsubscribe, ID: "1", Queue: "orders"})

	reply := r.recv()
	if reply.Type != protocol.UnsubscribeAck {
		t.Fatalf("expected UnsubscribeAck, got %+v", reply)
	}
	if r.session.IsSubscribed("orders") {
		t.Fatal("expected session no longer subscribed")
	}
}

func TestDispatchAckCallsManager(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Ack, ID: "msg-1"})
	if len(r.manager.acked) != 1 || r.manager.acked[0] != "msg-1" {
		t.Fatalf("expected Acknowledge(msg-1), got %v", r.manager.acked)
	}
}

func TestDispatchCreateQueueWithOptionsPayload(t *testing.T) {
	r := newRig(t, false, "")
	payload, _ := json.Marshal(map[string]interface{}{
		"mode":             "FanOutWithAck",
		"maxQueueSize":     50,
		"overflowStrategy": "RedirectToDlq",
	})
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{
		Type: protocol.CreateQueue, ID: "1", Queue: "orders",
		PayloadSet: true, Payload: payload,
	})

	reply := r.recv()
	if reply.Type != protocol.CreateQueue {
		t.Fatalf("expected CreateQueue echo, got %+v", reply)
	}
	if r.manager.lastCreated != "orders" {
		t.Fatalf("expected CreateQueue(orders), got %q", r.manager.lastCreated)
	}
	if r.manager.lastOpts == nil || r.manager.lastOpts.Mode != queue.FanOutWithAck {
		t.Fatalf("expected parsed Mode FanOutWithAck, got %+v", r.manager.lastOpts)
	}
	if r.manager.lastOpts.OverflowStrategy != queue.RedirectToDlq {
		t.Fatalf("expected parsed OverflowStrategy RedirectToDlq, got %+v", r.manager.lastOpts)
	}
}

func TestDispatchCreateQueueRejectsUnknownMode(t *testing.T) {
	r := newRig(t, false, "")
	payload, _ := json.Marshal(map[string]interface{}{"mode": "NotARealMode"})
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{
		Type: protocol.CreateQueue, ID: "1", Queue: "orders",
		PayloadSet: true, Payload: payload,
	})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE error, got %+v", reply)
	}
}

func TestDispatchQueueInfoNotFound(t *testing.T) {
	r := newRig(t, false, "")
	r.manager.infoOK = false
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.QueueInfo, ID: "1", Queue: "missing"})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeInvalidQueue {
		t.Fatalf("expected INVALID_QUEUE error, got %+v", reply)
	}
}

func TestDispatchQueueInfoFound(t *testing.T) {
	r := newRig(t, false, "")
	r.manager.infoOK = true
	r.manager.info = QueueInfoView{Name: "orders", Mode: queue.RoundRobin, Length: 3}
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.QueueInfo, ID: "1", Queue: "orders"})

	reply := r.recv()
	if reply.Type != protocol.QueueInfo || !reply.PayloadSet {
		t.Fatalf("expected QueueInfo payload, got %+v", reply)
	}
	var view QueueInfoView
	if err := json.Unmarshal(reply.Payload, &view); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if view.Name != "orders" || view.Length != 3 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestDispatchListQueues(t *testing.T) {
	r := newRig(t, false, "")
	r.manager.names = []string{"a", "b"}
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.ListQueues, ID: "1"})

	reply := r.recv()
	var names []string
	if err := json.Unmarshal(reply.Payload, &names); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(names) != 2 || names[0] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.CommandType(250), ID: "1"})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeUnknownCommand {
		t.Fatalf("expected UNKNOWN_COMMAND error, got %+v", reply)
	}
}

func TestDispatchListDeadLettersNotFound(t *testing.T) {
	r := newRig(t, false, "")
	r.manager.deadLettersOK = false
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.ListDeadLetters, ID: "1", Queue: "missing"})

	reply := r.recv()
	if reply.Type != protocol.Error || reply.ErrorCode != CodeInvalidQueue {
		t.Fatalf("expected INVALID_QUEUE error, got %+v", reply)
	}
}

func TestDispatchListDeadLetters(t *testing.T) {
	r := newRig(t, false, "")
	r.manager.deadLettersOK = true
	r.manager.deadLetters = []dlq.Entry{
		{ID: "dlq-1", OriginalMessage: &protocol.BrokerMessage{ID: "msg-1"}, Reason: dlq.MaxRetriesExceeded},
	}
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.ListDeadLetters, ID: "1", Queue: "orders"})

	reply := r.recv()
	if reply.Type != protocol.ListDeadLetters || !reply.PayloadSet {
		t.Fatalf("expected ListDeadLetters payload, got %+v", reply)
	}
	var views []DeadLetterView
	if err := json.Unmarshal(reply.Payload, &views); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(views) != 1 || views[0].MessageID != "msg-1" || views[0].Reason != "MaxRetriesExceeded" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestDispatchDisconnectRemovesFromRegistry(t *testing.T) {
	r := newRig(t, false, "")
	r.dispatch.Dispatch(r.ctx(), &protocol.Message{Type: protocol.Disconnect, ID: "1"})

	if _, ok := r.registry.Get(r.session.ID); ok {
		t.Fatal("expected session removed from registry on Disconnect")
	}
}
