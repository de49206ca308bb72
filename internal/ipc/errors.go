package ipc

import (
	"errors"
	"fmt"
)

var (
	// ErrAddrInUse is returned by Server.Start when another process holds the port.
	ErrAddrInUse = errors.New("address already in use")

	// ErrListenerUnavailable is returned when nothing accepts connections at the address.
	ErrListenerUnavailable = errors.New("listener not running")

	// ErrTimeout is returned when the listener does not answer within the call timeout.
	// The remote command may still be running.
	ErrTimeout = errors.New("timed out waiting for listener")

	// ErrMalformedResponse covers short reads, undecodable payloads and missing status.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrResponseTooLarge is a malformed response whose frame exceeds the client limit.
	ErrResponseTooLarge = fmt.Errorf("%w: response too large", ErrMalformedResponse)

	// ErrFrameTooLarge is returned by ReadFrame when the announced length exceeds the limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// RemoteError is an application-level failure reported by the listener:
// the request was delivered and executed, and the operation failed.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// ProtocolError means the payload matched neither request shape.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "malformed request: " + e.Reason
}
