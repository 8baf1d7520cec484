package cloudapi

import (
	"errors"
	"fmt"
)

// successCode is the envelope code the vendor uses for a successful call.
const successCode = 200

// ErrUnexpectedResponse is the reason used when the server gave no message.
var ErrUnexpectedResponse = errors.New("unexpected response")

// AuthError reports a failed login: rejected credentials, an unreadable
// envelope or an unreachable endpoint.
type AuthError struct {
	// Reason is the server message, or a short description of the failure.
	Reason string
	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cloudapi: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "cloudapi: authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientAPIError reports a failed status or control call. It never
// affects the telemetry path.
type TransientAPIError struct {
	// Op names the call, e.g. "firmware status".
	Op string
	// Code is the envelope code when the server answered, 0 otherwise.
	Code int
	Err  error
}

func (e *TransientAPIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("cloudapi: %s: code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("cloudapi: %s: %v", e.Op, e.Err)
}

func (e *TransientAPIError) Unwrap() error { return e.Err }
