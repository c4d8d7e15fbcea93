package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a message is sent while the channel is
	// not ready. Nothing is queued.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrTimeout is returned when no reply arrives within the call timeout.
	ErrTimeout = errors.New("channel: server response timeout")
)

// ServerError is an Error frame received in reply to a call. Its message is
// meant to be shown to the user verbatim.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// TransportError wraps a socket-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Describe renders err the way the notification layer shows it.
func Describe(err error) string {
	var serverErr *ServerError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &serverErr):
		return serverErr.Message
	case errors.Is(err, ErrTimeout):
		return "Server response timeout"
	case errors.Is(err, ErrNotConnected):
		return "Not connected to server"
	default:
		return err.Error()
	}
}
