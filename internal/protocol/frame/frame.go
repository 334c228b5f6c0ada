package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"

	"github.com/danmuck/handsign/internal/protocol"
)

const (
	// Terminator marks the end of one inbound payload. There is no length prefix.
	Terminator = "END"

	DefaultChunkSize = 8192
)

var terminator = []byte(Terminator)

// ErrEndOfStream is returned when the peer closes before a terminator arrives.
// Any partially accumulated bytes are discarded.
var ErrEndOfStream = fmt.Errorf("frame: end of stream: %w", protocol.ErrTransportClosed)

// Limits constrains payload accumulation memory use.
type Limits struct {
	ChunkSize       int
	MaxPayloadBytes int
}

// DefaultLimits reads in 8KB chunks with no payload cap.
func DefaultLimits() Limits {
	return Limits{
		ChunkSize:       DefaultChunkSize,
		MaxPayloadBytes: 0,
	}
}

// Accumulator reassembles terminator-delimited payloads from a byte stream.
// It is not safe for concurrent use.
type Accumulator struct {
	r      io.Reader
	limits Limits
	chunk  []byte
}

func NewAccumulator(r io.Reader, limits Limits) *Accumulator {
	if limits.ChunkSize <= 0 {
		limits.ChunkSize = DefaultChunkSize
	}
	return &Accumulator{
		r:      r,
		limits: limits,
		chunk:  make([]byte, limits.ChunkSize),
	}
}

// Next blocks until the buffered bytes end with Terminator and returns them,
// marker included. The suffix is only tested after each read, on raw bytes.
func (a *Accumulator) Next() ([]byte, error) {
	var buf []byte
	for {
		n, err := a.r.Read(a.chunk)
		if n > 0 {
			buf = append(buf, a.chunk[:n]...)
			if bytes.HasSuffix(buf, terminator) {
				return buf, nil
			}
			if a.limits.MaxPayloadBytes > 0 && len(buf) > a.limits.MaxPayloadBytes {
				return nil, fmt.Errorf("frame: %w: %d bytes without terminator (max %d)",
					protocol.ErrPayloadTooLarge, len(buf), a.limits.MaxPayloadBytes)
			}
		}
		if err != nil {
			if isClosed(err) {
				return nil, ErrEndOfStream
			}
			return nil, fmt.Errorf("frame: read: %w: %w", protocol.ErrTransportError, err)
		}
	}
}

// ReadPayload reads one payload from r with a fresh accumulator.
func ReadPayload(r io.Reader, limits Limits) ([]byte, error) {
	return NewAccumulator(r, limits).Next()
}

// StripTerminator returns payload without a trailing Terminator, if present.
func StripTerminator(payload []byte) []byte {
	return bytes.TrimSuffix(payload, terminator)
}

// WritePayload writes one outbound payload followed by Terminator.
func WritePayload(w io.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write(terminator); err != nil {
		return err
	}
	return flush(w)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, fs.ErrClosed)
}
