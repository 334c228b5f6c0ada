//go:build !linux

package transport

import "fmt"

// ListenRFCOMM is only implemented on Linux.
func ListenRFCOMM(channel uint8) ListenFunc {
	return func(ServiceIdentity) (Listener, error) {
		return nil, fmt.Errorf("%w: rfcomm channel %d", ErrUnsupported, channel)
	}
}
