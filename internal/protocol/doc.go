// Package protocol owns the handsign wire contract.
//
// Ownership boundary:
// - payload framing (image bytes terminated by the ASCII marker "END")
// - result line encoding ("Result: <label>, Confidence: <confidence>\n")
// - the error taxonomy shared by the session loop and the supervisor
//
// Failure scope:
// - ErrDecodeFailure and ErrPersistFailure are payload scoped.
// - ErrTransportClosed and ErrTransportError end the current session only.
// - ErrPermissionDenied is fatal to supervisor start.
package protocol
