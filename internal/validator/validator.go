// Package validator applies the pure, side-effect-free rejection rules that
// every decoded frame must pass before it reaches the command dispatcher.
package validator

import (
	"fmt"

	"github.com/Bobsans/vibemq/internal/protocol"
)

const (
	maxQueueNameBytes = 256
	maxHeaderCount    = 50
	maxHeaderValueLen = 4096
)

// Validate returns a human-readable rejection reason, or "" if the message
// may proceed to dispatch. It never inspects Payload: the broker treats
// payload bytes as opaque to the caller.
func Validate(m *protocol.Message) string {
	if m.ID == "" {
		return "id must not be empty"
	}

	if m.Queue != "" {
		if len(m.Queue) > maxQueueNameBytes {
			return fmt.Sprintf("queue name exceeds %d bytes", maxQueueNameBytes)
		}
		if !isValidQueueName(m.Queue) {
			return "queue name contains characters outside [A-Za-z0-9._-]"
		}
	}

	if len(m.Headers) > maxHeaderCount {
		return fmt.Sprintf("header count exceeds %d", maxHeaderCount)
	}
	for k, v := range m.Headers {
		if k == "" {
			return "header key must not be empty"
		}
		if len(v) > maxHeaderValueLen {
			return fmt.Sprintf("header %q value exceeds %d bytes", k, maxHeaderValueLen)
		}
	}

	return ""
}

func isValidQueueName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
