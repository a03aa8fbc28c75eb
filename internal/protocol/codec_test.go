package protocol

import (
	"bytes"
	"io"
	"testing"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	var buf bytes.Buffer
	c := NewCodec(&buf, 0)
	if err := c.Encode(m); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []*Message{
		{
			Type: Publish, ID: "m1", Queue: "orders",
			PayloadSet: true, Payload: []byte(`{"a":1}`),
			Headers: Headers{"priority": "High", "correlationId": "c1"},
		},
		{Type: Ping, ID: "p1"},
		{Type: Connect, ID: "c1", Headers: Headers{"authToken": "tok"}},
		{
			Type: Error, ID: "e1",
			ErrorCode: "RATE_LIMITED", ErrorMessage: "too many messages",
		},
		{Type: Subscribe, ID: "s1", Queue: "q"},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if got.ID != want.ID || got.Type != want.Type || got.Queue != want.Queue {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if got.PayloadSet != want.PayloadSet || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("payload mismatch: got %q set=%v, want %q set=%v", got.Payload, got.PayloadSet, want.Payload, want.PayloadSet)
		}
		if len(got.Headers) != len(want.Headers) {
			t.Fatalf("header count mismatch: got %d, want %d", len(got.Headers), len(want.Headers))
		}
		for k, v := range want.Headers {
			if got.Headers[k] != v {
				t.Fatalf("header %q mismatch: got %q, want %q", k, got.Headers[k], v)
			}
		}
		if got.ErrorCode != want.ErrorCode || got.ErrorMessage != want.ErrorMessage {
			t.Fatalf("error fields mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestCodecRejectsZeroLengthBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	c := NewCodec(&buf, 0)
	_, err := c.Decode()
	var fe *FrameError
	if err == nil {
		t.Fatal("expected FrameError for zero-length body")
	}
	if !errorsAs(err, &fe) {
		t.Fatalf("expected *FrameError, got %T: %v", err, err)
	}
}

func TestCodecRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10}) // declares 10 bytes, max is 4
	c := NewCodec(&buf, 4)
	_, err := c.Decode()
	var fe *FrameError
	if !errorsAs(err, &fe) {
		t.Fatalf("expected *FrameError, got %T: %v", err, err)
	}
}

func TestCodecTruncatedMidFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 20})
	buf.Write([]byte{1, 2, 3}) // far short of the declared 20 bytes
	c := NewCodec(&buf, 0)
	_, err := c.Decode()
	if err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestCodecEOFBeforeAnyBytes(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf, 0)
	_, err := c.Decode()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func errorsAs(err error, target **FrameError) bool {
	fe, ok := err.(*FrameError)
	if !ok {
		return false
	}
	*target = fe
	return true
}
