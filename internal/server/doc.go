// Package server owns the listening handle and the single worker that accepts
// and serves connections.
//
// Ownership boundary:
// - lifecycle order idle -> listening -> stopping -> stopped (restartable)
// - the one worker goroutine, joined on Stop
// - the active session pointer used by externally triggered result sends
// - the event dispatcher shared by every session of one run
//
// Non-ownership:
// - image decoding, classification, framing (session and its collaborators)
// - platform authorization prompts (the Authorizer hook only reports them)
package server
