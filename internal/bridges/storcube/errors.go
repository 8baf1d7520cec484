package storcube

import (
	"errors"
	"fmt"
)

// Domain errors for the Storcube bridge package.
var (
	// ErrReceiveTimeout is returned by Link.Receive when no message arrived
	// within the timeout. The connection is still usable.
	ErrReceiveTimeout = errors.New("storcube: no telemetry within timeout")

	// ErrLinkClosed is wrapped by ConnError when the telemetry stream died.
	ErrLinkClosed = errors.New("storcube: telemetry link closed")

	// ErrAlreadyRunning is returned when Run is called while a run is active.
	ErrAlreadyRunning = errors.New("storcube: bridge already running")
)

// ConnError reports that the telemetry link could not be established or
// closed unexpectedly. The link must be rebuilt from scratch.
type ConnError struct {
	// Op is the link operation that failed: dial, subscribe, receive or heartbeat.
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("storcube: link %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// MalformedMessageError reports a telemetry frame or command payload that
// could not be decoded as expected.
type MalformedMessageError struct {
	// Source is "telemetry" or "command".
	Source string
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storcube: malformed %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("storcube: malformed %s: %s", e.Source, e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
