package models

import "errors"

// Failure classes shared by services and handlers. Services wrap the underlying cause with one of these
// so handlers can choose a user-facing message with errors.Is.
var (
	// ErrDaemonUnreachable means the daemon could not be contacted or timed out.
	ErrDaemonUnreachable = errors.New("ollama daemon unreachable")
	// ErrPullFailed means a pull stream terminated abnormally.
	ErrPullFailed = errors.New("pull failed")
	// ErrChatFailed means a chat stream failed, possibly after partial output.
	ErrChatFailed = errors.New("chat failed")
	// ErrNotFound means the named model, key or directory does not exist.
	ErrNotFound = errors.New("not found")
	// ErrParseFailure means the registry page yielded no model entries.
	ErrParseFailure = errors.New("could not parse any models from the registry page")
	// ErrSessionTerminated is returned when a finished chat session is run again.
	ErrSessionTerminated = errors.New("chat session terminated")
)
