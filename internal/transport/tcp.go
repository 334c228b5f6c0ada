package transport

import (
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
)

// ListenTCP returns a ListenFunc bound to addr.
func ListenTCP(addr string) ListenFunc {
	return func(id ServiceIdentity) (Listener, error) {
		ln, err := net.Listen("tcp", strings.TrimSpace(addr))
		if err != nil {
			return nil, permissionError("listen tcp", err)
		}
		log.Info().
			Str("service", id.Name).
			Str("uuid", id.UUID.String()).
			Str("addr", ln.Addr().String()).
			Msg("transport: tcp listening")
		return &tcpListener{ln: ln}, nil
	}
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return &netConn{Conn: c}, nil
}

func (l *tcpListener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

type netConn struct {
	net.Conn
}

func (c *netConn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}
