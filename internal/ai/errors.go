package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes agent invocation failures.
type ErrorType string

const (
	ErrTimeout    ErrorType = "timeout"         // context deadline exceeded
	ErrTransport  ErrorType = "transport"       // connection refused, reset, DNS
	ErrUpstream   ErrorType = "upstream_status" // non-2xx from the graph server
	ErrStream     ErrorType = "stream_error"    // error event inside the run stream
	ErrEmptyReply ErrorType = "empty_reply"     // run finished without messages
)

// Error wraps an agent invocation failure. Invocations are never retried here.
type Error struct {
	Type    ErrorType
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("agent %s (status %d): %s", e.Type, e.Status, msg)
	}
	return fmt.Sprintf("agent %s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode is the status reported to the webhook caller.
func (e *Error) StatusCode() int {
	if e.Type == ErrTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// classifyTransport turns a failed request or stream read into an *Error.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrTimeout, Err: err}
	}
	return &Error{Type: ErrTransport, Err: err}
}
