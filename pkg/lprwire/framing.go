package lprwire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Framing errors
var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrBadLength     = errors.New("malformed length prefix")
)

// Delimiter tokens seen on the wire. EndDelimiter is canonical; the SSENDSS
// variant exists only for devices running pre-migration firmware and must be
// selected explicitly when constructing a codec.
const (
	EndDelimiter    = "<END>"
	LegacyDelimiter = "SSENDSS"
	DefaultMaxFrame = 32 << 20
)

// Codec frames and unframes messages on a byte stream. Decode is
// incremental: it accepts whatever chunk the transport produced, buffers any
// trailing partial message, and returns only complete frames. It never blocks.
type Codec interface {
	// Encode appends the framed payload to dst and returns the result.
	Encode(dst, payload []byte) []byte
	// Decode consumes a chunk and returns all complete frames it closed.
	Decode(chunk []byte) ([][]byte, error)
	// Reset discards any buffered partial frame.
	Reset()
}

// DelimiterCodec splits the stream on a literal multi-byte token appearing
// between messages.
type DelimiterCodec struct {
	delim []byte
	buf   bytes.Buffer
	max   int
}

// NewDelimiterCodec creates a codec for the given delimiter token.
// An empty delim selects the canonical EndDelimiter.
func NewDelimiterCodec(delim string) *DelimiterCodec {
	if delim == "" {
		delim = EndDelimiter
	}
	return &DelimiterCodec{delim: []byte(delim), max: DefaultMaxFrame}
}

// SetMaxFrame bounds the buffered partial-frame size. Exceeding it makes
// Decode drop the buffer and report ErrFrameTooLarge.
func (c *DelimiterCodec) SetMaxFrame(n int) { c.max = n }

// Encode appends payload followed by the delimiter.
func (c *DelimiterCodec) Encode(dst, payload []byte) []byte {
	dst = append(dst, payload...)
	dst = append(dst, c.delim...)
	return dst
}

// Decode consumes a chunk and returns every complete frame in it, retaining
// any trailing partial frame for the next call.
func (c *DelimiterCodec) Decode(chunk []byte) ([][]byte, error) {
	c.buf.Write(chunk)

	var frames [][]byte
	for {
		data := c.buf.Bytes()
		i := bytes.Index(data, c.delim)
		if i < 0 {
			break
		}
		frame := bytes.TrimSpace(data[:i])
		if len(frame) > 0 {
			out := make([]byte, len(frame))
			copy(out, frame)
			frames = append(frames, out)
		}
		c.buf.Next(i + len(c.delim))
	}

	if c.buf.Len() > c.max {
		c.buf.Reset()
		return frames, fmt.Errorf("%w: partial frame over %d bytes", ErrFrameTooLarge, c.max)
	}
	return frames, nil
}

// Reset discards the buffered partial frame.
func (c *DelimiterCodec) Reset() { c.buf.Reset() }

// LengthPrefixCodec frames messages as a decimal length line followed by the
// payload: "123\n<123 bytes>". The length line bounds memory on a misbehaving
// peer before any payload is buffered.
type LengthPrefixCodec struct {
	buf bytes.Buffer
	max int
}

// NewLengthPrefixCodec creates a length-prefixed codec with the given frame
// ceiling. Zero selects DefaultMaxFrame.
func NewLengthPrefixCodec(maxFrame int) *LengthPrefixCodec {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &LengthPrefixCodec{max: maxFrame}
}

// Encode appends "len\n" and the payload.
func (c *LengthPrefixCodec) Encode(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, '\n')
	dst = append(dst, payload...)
	return dst
}

// Decode consumes a chunk and returns complete frames. A length over the
// ceiling or a non-numeric prefix poisons the stream: the buffer is dropped
// and the error returned so the session can tear down the transport.
func (c *LengthPrefixCodec) Decode(chunk []byte) ([][]byte, error) {
	c.buf.Write(chunk)

	var frames [][]byte
	for {
		data := c.buf.Bytes()
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			if c.buf.Len() > 20 {
				// A length line is at most a handful of digits.
				c.buf.Reset()
				return frames, ErrBadLength
			}
			break
		}

		n, err := strconv.Atoi(string(bytes.TrimSpace(data[:nl])))
		if err != nil || n < 0 {
			c.buf.Reset()
			return frames, ErrBadLength
		}
		if n > c.max {
			c.buf.Reset()
			return frames, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, c.max)
		}
		if len(data) < nl+1+n {
			break
		}

		frame := make([]byte, n)
		copy(frame, data[nl+1:nl+1+n])
		frames = append(frames, frame)
		c.buf.Next(nl + 1 + n)
	}
	return frames, nil
}

// Reset discards any buffered partial frame.
func (c *LengthPrefixCodec) Reset() { c.buf.Reset() }
