package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/handsign/internal/protocol"
	"github.com/google/uuid"
)

const (
	DefaultServiceUUID = "b22ab232-47c3-499d-acb5-85dcb714dd32"
	DefaultServiceName = "MyGestureAppService"

	DefaultRFCOMMChannel uint8 = 1
	DefaultTCPAddr             = "127.0.0.1:7420"
)

var (
	ErrListenerClosed  = errors.New("transport: listener closed")
	ErrUnsupported     = errors.New("transport: backend unsupported on this platform")
	ErrInvalidIdentity = errors.New("transport: invalid service identity")
)

// ServiceIdentity is the stable session identifier plus human-readable service name
// a listener advertises.
type ServiceIdentity struct {
	UUID uuid.UUID
	Name string
}

func DefaultIdentity() ServiceIdentity {
	return ServiceIdentity{
		UUID: uuid.MustParse(DefaultServiceUUID),
		Name: DefaultServiceName,
	}
}

// ParseIdentity validates a textual UUID and a non-empty service name.
func ParseIdentity(rawUUID, name string) (ServiceIdentity, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawUUID))
	if err != nil {
		return ServiceIdentity{}, fmt.Errorf("%w: uuid %q: %v", ErrInvalidIdentity, rawUUID, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ServiceIdentity{}, fmt.Errorf("%w: empty service name", ErrInvalidIdentity)
	}
	return ServiceIdentity{UUID: id, Name: name}, nil
}

func (s ServiceIdentity) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.UUID)
}

// Conn is one accepted duplex byte stream.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() string
}

// Listener accepts at most one peer at a time from the caller's perspective.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// ListenFunc opens a listening handle for one service identity.
type ListenFunc func(id ServiceIdentity) (Listener, error)

// permissionError classifies OS authorization failures as ErrPermissionDenied.
func permissionError(op string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("transport: %s: %w: %w", op, protocol.ErrPermissionDenied, err)
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}
