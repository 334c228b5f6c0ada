// Package tools wraps host commands the daemon consults at runtime.
//
// Ownership boundary:
// - command execution helpers
// - bluetooth adapter readiness probing via bluetoothctl
package tools
