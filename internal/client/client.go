// Package client is a minimal synchronous client for VibeMQ's wire
// protocol, used by the vibemqd CLI's operator subcommands (queue/dlq) so
// they observe broker state the same way any other client would, rather
// than reaching into broker internals.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/Bobsans/vibemq/internal/protocol"
)

func decodeJSON(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

const defaultMaxFrameBytes = 16 * 1024 * 1024

// Client holds one connection and issues one in-flight request at a time;
// it is intended for short-lived CLI invocations, not for a long-running
// publisher/subscriber.
type Client struct {
	conn    net.Conn
	codec   *protocol.Codec
	timeout time.Duration
}

// Dial connects to addr and completes the Connect handshake before
// returning; the authToken header is attached only when authToken is
// non-empty.
func Dial(addr, authToken string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		conn:    conn,
		codec:   protocol.NewCodec(conn, defaultMaxFrameBytes),
		timeout: timeout,
	}

	headers := protocol.Headers{}
	if authToken != "" {
		headers[protocol.HeaderAuthToken] = authToken
	}
	reply, err := c.Call(&protocol.Message{Type: protocol.Connect, ID: uuid.NewString(), Headers: headers})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Type == protocol.Error {
		conn.Close()
		return nil, fmt.Errorf("connect rejected: %s: %s", reply.ErrorCode, reply.ErrorMessage)
	}

	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one frame and waits for exactly one reply, honoring the
// client's configured timeout.
func (c *Client) Call(m *protocol.Message) (*protocol.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		_ = c.conn.SetDeadline(deadline)
	}
	if err := c.codec.Encode(m); err != nil {
		return nil, fmt.Errorf("send %s: %w", m.Type, err)
	}
	reply, err := c.codec.Decode()
	if err != nil {
		return nil, fmt.Errorf("receive reply to %s: %w", m.Type, err)
	}
	return reply, nil
}

// ListQueues issues a ListQueues command and decodes the reply payload.
func (c *Client) ListQueues() ([]string, error) {
	reply, err := c.Call(&protocol.Message{Type: protocol.ListQueues})
	if err != nil {
		return nil, err
	}
	if reply.Type == protocol.Error {
		return nil, fmt.Errorf("%s: %s", reply.ErrorCode, reply.ErrorMessage)
	}
	var names []string
	if err := decodeJSON(reply.Payload, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// QueueInfo issues a QueueInfo command for a single queue.
func (c *Client) QueueInfo(name string) (*protocol.Message, error) {
	reply, err := c.Call(&protocol.Message{Type: protocol.QueueInfo, Queue: name})
	if err != nil {
		return nil, err
	}
	if reply.Type == protocol.Error {
		return nil, fmt.Errorf("%s: %s", reply.ErrorCode, reply.ErrorMessage)
	}
	return reply, nil
}

// ListDeadLetters issues a ListDeadLetters command for a single queue.
func (c *Client) ListDeadLetters(name string) (*protocol.Message, error) {
	reply, err := c.Call(&protocol.Message{Type: protocol.ListDeadLetters, Queue: name})
	if err != nil {
		return nil, err
	}
	if reply.Type == protocol.Error {
		return nil, fmt.Errorf("%s: %s", reply.ErrorCode, reply.ErrorMessage)
	}
	return reply, nil
}

// CreateQueue issues a CreateQueue command, optionally carrying a raw JSON
// options payload already built by the caller.
func (c *Client) CreateQueue(name string, optionsJSON []byte) error {
	m := &protocol.Message{Type: protocol.CreateQueue, Queue: name}
	if len(optionsJSON) > 0 {
		m.PayloadSet = true
		m.Payload = optionsJSON
	}
	reply, err := c.Call(m)
	if err != nil {
		return err
	}
	if reply.Type == protocol.Error {
		return fmt.Errorf("%s: %s", reply.ErrorCode, reply.ErrorMessage)
	}
	return nil
}

// DeleteQueue issues a DeleteQueue command.
func (c *Client) DeleteQueue(name string) error {
	reply, err := c.Call(&protocol.Message{Type: protocol.DeleteQueue, Queue: name})
	if err != nil {
		return err
	}
	if reply.Type == protocol.Error {
		return fmt.Errorf("%s: %s", reply.ErrorCode, reply.ErrorMessage)
	}
	return nil
}
