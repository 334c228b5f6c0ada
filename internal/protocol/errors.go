package protocol

import "errors"

var (
	ErrTransportClosed  = errors.New("protocol: transport closed")
	ErrTransportError   = errors.New("protocol: transport error")
	ErrDecodeFailure    = errors.New("protocol: decode failure")
	ErrPersistFailure   = errors.New("protocol: persist failure")
	ErrPermissionDenied = errors.New("protocol: permission denied")
	ErrPayloadTooLarge  = errors.New("protocol: payload too large")
)

// SessionScoped reports whether err ends the current connection.
func SessionScoped(err error) bool {
	return errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, ErrTransportError) ||
		errors.Is(err, ErrPayloadTooLarge)
}
