// Package session owns one accepted connection from accept to close.
//
// Ownership boundary:
// - the receive loop (frame accumulation, decode, classify, optional reply)
// - ordered observer delivery on a dedicated goroutine
// - the single-writer lock around the connection write side
//
// State order per connection:
// - connected -> receiving -> (processing -> receiving)* -> closed
//
// Payload failures (decode, classify) never end a session. Stream end, read or
// write failures end only the current session. Reads carry no timeout: a silent
// peer stalls the loop until the connection is closed.
package session
