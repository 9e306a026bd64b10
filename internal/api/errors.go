package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TransportError covers failures where no usable response arrived:
// refused connections, resets, DNS trouble, truncated streams.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DegradedError means the server answered but is struggling:
// timeouts, 429, 5xx overload responses.
type DegradedError struct {
	Reason string
	Err    error
}

func (e *DegradedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DegradedError) Unwrap() error { return e.Err }

// SessionExpiredError maps 401/403 responses.
type SessionExpiredError struct {
	Status int
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired (HTTP %d)", e.Status)
}

// StatusError is any other non-2xx response. Callers treat it as a
// request-local failure; it does not change connection health.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// ProtocolError reports a malformed or unknown stream chunk.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bad stream chunk %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ClarificationError wraps a failed answer/skip call so the caller can
// keep the clarification pending and surface the operation that failed.
type ClarificationError struct {
	Op        string
	MessageID string
	Err       error
}

func (e *ClarificationError) Error() string {
	return fmt.Sprintf("clarification %s for %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *ClarificationError) Unwrap() error { return e.Err }

func wrapTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DegradedError{Reason: "request timed out", Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &DegradedError{Reason: "request timed out", Err: err}
	}
	return &TransportError{Op: op, Err: err}
}

func statusToError(status int, detail string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &SessionExpiredError{Status: status}
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable,
		status == http.StatusBadGateway,
		status == http.StatusGatewayTimeout:
		return &DegradedError{Reason: "server experiencing high load", Err: &StatusError{Status: status, Detail: detail}}
	default:
		return &StatusError{Status: status, Detail: detail}
	}
}

// ClassifyReason turns a server-sent error string into the matching
// error type so connection health can react to in-stream failures the
// same way it reacts to request failures.
func ClassifyReason(reason string) error {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "network"),
		strings.Contains(lower, "fetch failed"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "unreachable"):
		return &TransportError{Op: "stream", Err: errors.New(reason)}
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "overloaded"),
		strings.Contains(lower, "high load"):
		return &DegradedError{Reason: reason}
	default:
		return errors.New(reason)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
