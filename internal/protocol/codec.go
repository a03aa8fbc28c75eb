package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrameBytes is the default cap on a frame's body length, per the
// wire protocol's default configuration.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// wireVersion is the only version this codec currently emits or accepts.
const wireVersion uint8 = 1

// FrameError is returned for any malformed frame: a body length of zero, a
// length that is negative when reinterpreted as signed, or a length beyond
// the codec's configured maximum. The connection handling the frame closes
// on this error; it is never surfaced as a protocol Error frame.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string { return "protocol: frame format: " + e.Reason }

// ErrTruncated is returned when the underlying stream closes mid-frame,
// after the length prefix has already been read.
var ErrTruncated = errors.New("protocol: truncated frame")

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// Codec reads and writes length-prefixed frames on a byte stream. A Codec
// is not safe for concurrent use on the same direction (concurrent Encode
// calls must be serialized by the caller; internal/registry does this with
// a single writer goroutine per session); concurrent Encode and Decode are fine since they
// touch independent halves of the duplex stream.
type Codec struct {
	r       io.Reader
	w       io.Writer
	maxSize uint32
}

// NewCodec wraps a duplex stream (typically a net.Conn) with the given
// maximum frame body size. A maxSize of 0 selects DefaultMaxFrameBytes.
func NewCodec(rw io.ReadWriter, maxSize uint32) *Codec {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameBytes
	}
	return &Codec{r: rw, w: rw, maxSize: maxSize}
}

// Encode writes a single frame: a 4-byte big-endian length prefix followed
// by the encoded body, coalesced into one underlying Write call.
func (c *Codec) Encode(m *Message) error {
	bufp := bufPool.Get().(*[]byte)
	buf := (*bufp)[:0]
	defer func() {
		*bufp = buf
		bufPool.Put(bufp)
	}()

	buf = append(buf, 0, 0, 0, 0) // length placeholder
	buf = appendBody(buf, m)

	bodyLen := len(buf) - 4
	binary.BigEndian.PutUint32(buf[:4], uint32(bodyLen))

	_, err := c.w.Write(buf)
	return err
}

// Decode reads and parses a single frame. It returns io.EOF only when zero
// bytes were read before the length prefix (a clean stream close between
// frames); any other short read returns ErrTruncated.
func (c *Codec) Decode() (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}

	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen == 0 {
		return nil, &FrameError{Reason: "zero-length body"}
	}
	if int32(bodyLen) < 0 {
		return nil, &FrameError{Reason: "negative-length body"}
	}
	if bodyLen > c.maxSize {
		return nil, &FrameError{Reason: fmt.Sprintf("body length %d exceeds max %d", bodyLen, c.maxSize)}
	}

	bufp := bufPool.Get().(*[]byte)
	body := grow(*bufp, int(bodyLen))
	defer func() {
		*bufp = body
		bufPool.Put(bufp)
	}()

	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, ErrTruncated
	}

	return parseBody(body)
}

func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

func appendBody(buf []byte, m *Message) []byte {
	buf = append(buf, wireVersion, byte(m.Type))
	buf = appendString16(buf, m.ID)
	buf = appendString16(buf, m.Queue)

	if m.PayloadSet {
		buf = appendBytes32(buf, m.Payload)
	} else {
		buf = binary.BigEndian.AppendUint32(buf, 0)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Headers)))
	for k, v := range m.Headers {
		buf = appendString16(buf, k)
		buf = appendString16(buf, v)
	}

	if m.Type == Error {
		buf = appendString16(buf, m.ErrorCode)
		buf = appendString16(buf, m.ErrorMessage)
	}
	return buf
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type bodyReader struct {
	buf []byte
	pos int
}

func (r *bodyReader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, &FrameError{Reason: "truncated field"}
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *bodyReader) string16() (string, error) {
	if r.pos+2 > len(r.buf) {
		return "", &FrameError{Reason: "truncated length prefix"}
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	if r.pos+n > len(r.buf) {
		return "", &FrameError{Reason: "truncated string"}
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *bodyReader) bytes32() ([]byte, uint32, error) {
	if r.pos+4 > len(r.buf) {
		return nil, 0, &FrameError{Reason: "truncated length prefix"}
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	if r.pos+int(n) > len(r.buf) {
		return nil, 0, &FrameError{Reason: "truncated bytes"}
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	out := make([]byte, len(b))
	copy(out, b)
	return out, n, nil
}

func (r *bodyReader) uint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, &FrameError{Reason: "truncated field"}
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func parseBody(buf []byte) (*Message, error) {
	r := &bodyReader{buf: buf}

	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	typeByte, err := r.u8()
	if err != nil {
		return nil, err
	}

	id, err := r.string16()
	if err != nil {
		return nil, err
	}

	queue, err := r.string16()
	if err != nil {
		return nil, err
	}

	payload, payloadLen, err := r.bytes32()
	if err != nil {
		return nil, err
	}

	headerCount, err := r.uint16()
	if err != nil {
		return nil, err
	}
	var headers Headers
	if headerCount > 0 {
		headers = make(Headers, headerCount)
	}
	for i := uint16(0); i < headerCount; i++ {
		k, err := r.string16()
		if err != nil {
			return nil, err
		}
		v, err := r.string16()
		if err != nil {
			return nil, err
		}
		headers[k] = v
	}

	m := &Message{
		Version:    version,
		Type:       CommandType(typeByte),
		ID:         id,
		Queue:      queue,
		PayloadSet: payloadLen > 0,
		Payload:    payload,
		Headers:    headers,
	}

	if m.Type == Error {
		code, err := r.string16()
		if err != nil {
			return nil, err
		}
		msg, err := r.string16()
		if err != nil {
			return nil, err
		}
		m.ErrorCode = code
		m.ErrorMessage = msg
	}

	return m, nil
}
