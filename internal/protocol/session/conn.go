package session

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/danmuck/handsign/internal/transport"
)

// Conn serializes writes to one transport connection. Reads are owned by the
// session loop and are not locked.
type Conn struct {
	transport.Conn

	wmu sync.Mutex
	w   *bufio.Writer
}

func NewConn(c transport.Conn) *Conn {
	return &Conn{Conn: c, w: bufio.NewWriter(c)}
}

// SendResult writes one result line and flushes it. No acknowledgement is awaited.
func (c *Conn) SendResult(label string, confidence float32) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := frame.WriteResult(c.w, label, confidence); err != nil {
		return fmt.Errorf("session: send result: %w: %w", protocol.ErrTransportError, err)
	}
	return nil
}
