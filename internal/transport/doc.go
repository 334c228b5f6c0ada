// Package transport owns the point-to-point duplex stream handles.
//
// A Listener yields one Conn per accepted peer. Closing a Listener unblocks a
// pending Accept with ErrListenerClosed; closing a Conn unblocks a pending Read.
//
// Backends:
// - tcp: loopback and LAN testing, any platform
// - rfcomm: Bluetooth RFCOMM on Linux (AF_BLUETOOTH sockets)
package transport
