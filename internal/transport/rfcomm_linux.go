//go:build linux

package transport

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// ListenRFCOMM returns a ListenFunc bound to RFCOMM channel on any local adapter.
// SDP advertisement of the service identity is left to the host bluetooth daemon.
func ListenRFCOMM(channel uint8) ListenFunc {
	return func(id ServiceIdentity) (Listener, error) {
		fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
		if err != nil {
			if errors.Is(err, unix.EAFNOSUPPORT) {
				return nil, fmt.Errorf("%w: rfcomm: %v", ErrUnsupported, err)
			}
			return nil, permissionError("rfcomm socket", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: channel}); err != nil {
			_ = unix.Close(fd)
			return nil, permissionError("rfcomm bind", err)
		}
		if err := unix.Listen(fd, 1); err != nil {
			_ = unix.Close(fd)
			return nil, permissionError("rfcomm listen", err)
		}

		f := os.NewFile(uintptr(fd), fmt.Sprintf("rfcomm:%d", channel))
		rc, err := f.SyscallConn()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("transport: rfcomm raw conn: %w", err)
		}
		log.Info().
			Str("service", id.Name).
			Str("uuid", id.UUID.String()).
			Uint8("channel", channel).
			Msg("transport: rfcomm listening")
		return &rfcommListener{f: f, rc: rc, channel: channel}, nil
	}
}

type rfcommListener struct {
	f       *os.File
	rc      syscall.RawConn
	channel uint8
	closed  atomic.Bool
}

// Accept reports ErrListenerClosed once Close has been called, whatever the
// poller returned for the interrupted wait.
func (l *rfcommListener) Accept() (Conn, error) {
	if l.closed.Load() {
		return nil, ErrListenerClosed
	}
	var (
		nfd   int
		sa    unix.Sockaddr
		opErr error
	)
	err := l.rc.Read(func(fd uintptr) bool {
		nfd, sa, opErr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return !errors.Is(opErr, unix.EAGAIN)
	})
	if err != nil {
		if l.closed.Load() || errors.Is(err, os.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("transport: rfcomm accept: %w", err)
	}
	if opErr != nil {
		if l.closed.Load() {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("transport: rfcomm accept: %w", opErr)
	}

	remote := "rfcomm:unknown"
	if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
		remote = formatBDAddr(rsa.Addr)
	}
	return &fileConn{File: os.NewFile(uintptr(nfd), "rfcomm:"+remote), remote: remote}, nil
}

func (l *rfcommListener) Close() error {
	l.closed.Store(true)
	err := l.f.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (l *rfcommListener) Addr() string {
	return fmt.Sprintf("rfcomm:%d", l.channel)
}

type fileConn struct {
	*os.File
	remote string
}

func (c *fileConn) RemoteAddr() string {
	return c.remote
}
