package socketmode

import (
	"errors"
)

var (
	// ErrNotConnected is returned by operations that require an open
	// WebSocket transport, when there isn't one. Reconnecting fixes it.
	ErrNotConnected = errors.New("socket mode connection is not open")

	// ErrMalformedEnvelope is wrapped by the [Error] that [Connection.Receive]
	// returns when a text frame isn't a valid JSON envelope. The connection
	// itself remains usable.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Error is a Socket Mode failure: a transport or decoding error,
// a missing WebSocket URL, or exhausted reconnection attempts.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "socket mode error: " + e.Reason
	}
	return "socket mode error: " + e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
