// Package dispatcher maps each incoming command to its handler. Handlers
// are pure functions of (session, message, context) responsible for
// sending exactly one acknowledgment frame when the protocol mandates one.
//
// The dispatcher depends on the queue manager only through the Manager
// interface defined here, which internal/broker implements; this keeps the
// dependency direction pointing from broker -> dispatcher, never the
// reverse, and makes every handler unit-testable against a fake Manager.
package dispatcher

import (
	"time"

	"github.com/Bobsans/vibemq/internal/dlq"
	"github.com/Bobsans/vibemq/internal/protocol"
	"github.com/Bobsans/vibemq/internal/queue"
	"github.com/Bobsans/vibemq/internal/registry"
)

// QueueInfoView is the read-only snapshot returned for the QueueInfo
// command.
type QueueInfoView struct {
	Name                  string
	Mode                  queue.Mode
	MaxQueueSize          int
	OverflowStrategy      queue.Overflow
	Length                int
	EnableDeadLetterQueue bool
	MaxRetryAttempts      int
	DeadLetterLength      int
	CreatedAt             time.Time
}

// DeadLetterView is the read-only snapshot returned per entry for the
// ListDeadLetters command.
type DeadLetterView struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	Queue     string    `json:"queue"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failedAt"`
}

// Manager is the subset of the queue manager's behavior the dispatcher
// needs. internal/broker.Manager implements this.
type Manager interface {
	Publish(m *protocol.Message) error
	CreateQueue(name string, opts *queue.Options) error
	DeleteQueue(name string) error
	QueueInfo(name string) (QueueInfoView, bool)
	ListQueues() []string
	Acknowledge(id string) bool
	DeadLetters(name string) ([]dlq.Entry, bool)
	// DrainQueue attempts to hand out every message currently buffered on
	// a queue to its subscribers. Subscribe calls it so a session that
	// joins after messages were published still receives the backlog,
	// not just messages published from then on.
	DrainQueue(name string)
}

// Error codes sent back to clients on the Error command; CodeUnknownCommand
// is used for any CommandType not present in the dispatch table.
const (
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeInvalidQueue     = "INVALID_QUEUE"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeConnectionLimit  = "CONNECTION_LIMIT"
	CodeRateLimited      = "RATE_LIMITED"
)

// Authenticator is the subset of internal/auth.Authenticator the dispatcher
// needs for the Connect handler.
type Authenticator interface {
	Configured() bool
	Validate(presented string) bool
}

// Context carries everything a handler needs to process one command.
type Context struct {
	Session  *registry.Session
	Registry *registry.Registry
	Manager  Manager
	Auth     Authenticator
}

// Handler processes one decoded, validated message for a given session.
type Handler func(ctx *Context, m *protocol.Message)

// Dispatcher is the CommandType -> Handler table.
type Dispatcher struct {
	handlers map[protocol.CommandType]Handler
}

// New builds a Dispatcher with the broker's full command table wired in.
func New() *Dispatcher {
	d := &Dispatcher{handlers: make(map[protocol.CommandType]Handler)}
	d.handlers[protocol.Connect] = handleConnect
	d.handlers[protocol.Ping] = handlePing
	d.handlers[protocol.Disconnect] = handleDisconnect
	d.handlers[protocol.Publish] = handlePublish
	d.handlers[protocol.Subscribe] = handleSubscribe
	d.handlers[protocol.Unsubscribe] = handleUnsubscribe
	d.handlers[protocol.Ack] = handleAck
	d.handlers[protocol.CreateQueue] = handleCreateQueue
	d.handlers[protocol.DeleteQueue] = handleDeleteQueue
	d.handlers[protocol.QueueInfo] = handleQueueInfo
	d.handlers[protocol.ListQueues] = handleListQueues
	d.handlers[protocol.ListDeadLetters] = handleListDeadLetters
	return d
}

// Dispatch looks up and invokes the handler for m.Type. Unknown command
// types produce an UNKNOWN_COMMAND error frame rather than panicking.
func (d *Dispatcher) Dispatch(ctx *Context, m *protocol.Message) {
	h, ok := d.handlers[m.Type]
	if !ok {
		sendError(ctx.Session, m.ID, CodeUnknownCommand, "unknown command type")
		return
	}
	h(ctx, m)
}

func sendError(s *registry.Session, id, code, message string) {
	s.Send(&protocol.Message{
		Type:         protocol.Error,
		ID:           id,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}
