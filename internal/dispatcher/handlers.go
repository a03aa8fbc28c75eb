package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Bobsans/vibemq/internal/protocol"
	"github.com/Bobsans/vibemq/internal/queue"
)

func handleConnect(ctx *Context, m *protocol.Message) {
	token := m.Header(protocol.HeaderAuthToken)

	if ctx.Auth.Configured() && token == "" {
		sendError(ctx.Session, m.ID, CodeAuthRequired, "authToken header is required")
		return
	}
	if !ctx.Auth.Validate(token) {
		sendError(ctx.Session, m.ID, CodeAuthFailed, "authToken did not match")
		return
	}

	ctx.Session.SetAuthenticated(true)
	ctx.Session.Send(&protocol.Message{Type: protocol.ConnectAck, ID: m.ID})
}

func handlePing(ctx *Context, m *protocol.Message) {
	ctx.Session.Send(&protocol.Message{Type: protocol.Pong, ID: m.ID})
}

func handleDisconnect(ctx *Context, m *protocol.Message) {
	ctx.Registry.Remove(ctx.Session.ID)
}

func handlePublish(ctx *Context, m *protocol.Message) {
	if m.Queue == "" {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue is required for Publish")
		return
	}
	if err := ctx.Manager.Publish(m); err != nil {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, err.Error())
		return
	}
	ctx.Session.Send(&protocol.Message{Type: protocol.PublishAck, ID: m.ID, Queue: m.Queue})
}

func handleSubscribe(ctx *Context, m *protocol.Message) {
	if m.Queue == "" {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue is required for Subscribe")
		return
	}
	ctx.Registry.Subscribe(ctx.Session.ID, m.Queue)
	ctx.Session.Send(&protocol.Message{Type: protocol.SubscribeAck, ID: m.ID, Queue: m.Queue})
	ctx.Manager.DrainQueue(m.Queue)
}

func handleUnsubscribe(ctx *Context, m *protocol.Message) {
	if m.Queue != "" {
		ctx.Registry.Unsubscribe(ctx.Session.ID, m.Queue)
	}
	ctx.Session.Send(&protocol.Message{Type: protocol.UnsubscribeAck, ID: m.ID, Queue: m.Queue})
}

func handleAck(ctx *Context, m *protocol.Message) {
	ctx.Manager.Acknowledge(m.ID)
}

// queueOptionsPayload is the fixed, small schema for the CreateQueue
// control payload, parsed with a strict decoder as the spec's design notes
// require (unlike the opaque JSON in a message's own payload).
type queueOptionsPayload struct {
	Mode                  string `json:"mode"`
	MaxQueueSize          int    `json:"maxQueueSize"`
	MessageTTL            string `json:"messageTtl"`
	EnableDeadLetterQueue bool   `json:"enableDeadLetterQueue"`
	DeadLetterQueueName   string `json:"deadLetterQueueName"`
	OverflowStrategy      string `json:"overflowStrategy"`
	MaxRetryAttempts      int    `json:"maxRetryAttempts"`
}

func handleCreateQueue(ctx *Context, m *protocol.Message) {
	if m.Queue == "" {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue is required for CreateQueue")
		return
	}

	var opts *queue.Options
	if m.PayloadSet && len(m.Payload) > 0 {
		var p queueOptionsPayload
		dec := json.NewDecoder(bytes.NewReader(m.Payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			sendError(ctx.Session, m.ID, CodeInvalidMessage, "invalid queue options payload: "+err.Error())
			return
		}
		parsed, err := parseQueueOptions(p)
		if err != nil {
			sendError(ctx.Session, m.ID, CodeInvalidMessage, err.Error())
			return
		}
		opts = &parsed
	}

	if err := ctx.Manager.CreateQueue(m.Queue, opts); err != nil {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, err.Error())
		return
	}
	ctx.Session.Send(&protocol.Message{Type: protocol.CreateQueue, ID: m.ID, Queue: m.Queue})
}

func parseQueueOptions(p queueOptionsPayload) (queue.Options, error) {
	opts := queue.Options{
		MaxQueueSize:          p.MaxQueueSize,
		EnableDeadLetterQueue: p.EnableDeadLetterQueue,
		DeadLetterQueueName:   p.DeadLetterQueueName,
		MaxRetryAttempts:      p.MaxRetryAttempts,
	}

	if p.Mode != "" {
		mode := queue.Mode(p.Mode)
		switch mode {
		case queue.RoundRobin, queue.FanOutWithAck, queue.FanOutWithoutAck, queue.PriorityBased:
			opts.Mode = mode
		default:
			return queue.Options{}, fmt.Errorf("unknown mode %q", p.Mode)
		}
	}

	if p.OverflowStrategy != "" {
		strategy := queue.Overflow(p.OverflowStrategy)
		switch strategy {
		case queue.DropOldest, queue.DropNewest, queue.BlockPublisher, queue.RedirectToDlq:
			opts.OverflowStrategy = strategy
		default:
			return queue.Options{}, fmt.Errorf("unknown overflowStrategy %q", p.OverflowStrategy)
		}
	}

	if p.MessageTTL != "" {
		ttl, err := time.ParseDuration(p.MessageTTL)
		if err != nil {
			return queue.Options{}, fmt.Errorf("invalid messageTtl %q: %w", p.MessageTTL, err)
		}
		opts.MessageTTL = ttl
	}

	return opts, nil
}

func handleDeleteQueue(ctx *Context, m *protocol.Message) {
	if m.Queue == "" {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue is required for DeleteQueue")
		return
	}
	if err := ctx.Manager.DeleteQueue(m.Queue); err != nil {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, err.Error())
		return
	}
	ctx.Session.Send(&protocol.Message{Type: protocol.DeleteQueue, ID: m.ID, Queue: m.Queue})
}

func handleQueueInfo(ctx *Context, m *protocol.Message) {
	if m.Queue == "" {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue is required for QueueInfo")
		return
	}
	info, ok := ctx.Manager.QueueInfo(m.Queue)
	if !ok {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue does not exist")
		return
	}
	payload, _ := json.Marshal(info)
	ctx.Session.Send(&protocol.Message{
		Type: protocol.QueueInfo, ID: m.ID, Queue: m.Queue,
		PayloadSet: true, Payload: payload,
	})
}

func handleListQueues(ctx *Context, m *protocol.Message) {
	names := ctx.Manager.ListQueues()
	payload, _ := json.Marshal(names)
	ctx.Session.Send(&protocol.Message{
		Type: protocol.ListQueues, ID: m.ID,
		PayloadSet: true, Payload: payload,
	})
}

func handleListDeadLetters(ctx *Context, m *protocol.Message) {
	if m.Queue == "" {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue is required for ListDeadLetters")
		return
	}
	entries, ok := ctx.Manager.DeadLetters(m.Queue)
	if !ok {
		sendError(ctx.Session, m.ID, CodeInvalidQueue, "queue does not exist")
		return
	}

	views := make([]DeadLetterView, len(entries))
	for i, e := range entries {
		views[i] = DeadLetterView{
			ID:        e.ID,
			MessageID: e.OriginalMessage.ID,
			Queue:     m.Queue,
			Reason:    string(e.Reason),
			FailedAt:  e.FailedAt,
		}
	}

	payload, _ := json.Marshal(views)
	ctx.Session.Send(&protocol.Message{
		Type: protocol.ListDeadLetters, ID: m.ID, Queue: m.Queue,
		PayloadSet: true, Payload: payload,
	})
}
