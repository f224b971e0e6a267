package amqpscope

import (
	"fmt"
	"net/url"
)

// ConnectError is returned when the client fails to connect. The body did
// not run and Close was not called.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	if e.URL == "" {
		return "amqpscope: connect: " + e.Err.Error()
	}
	return "amqpscope: connect to " + e.URL + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CloseError is returned when releasing the connection failed after the
// body succeeded.
type CloseError struct {
	Err error
}

func (e *CloseError) Error() string { return "amqpscope: close: " + e.Err.Error() }

func (e *CloseError) Unwrap() error { return e.Err }

// CleanupError is returned when both the body and the release failed. The
// body's error comes first; errors.Is and errors.As see both.
type CleanupError struct {
	Body  error
	Close *CloseError
}

func (e *CleanupError) Error() string {
	return e.Body.Error() + " (" + e.Close.Error() + ")"
}

func (e *CleanupError) Unwrap() []error { return []error{e.Body, e.Close} }

// Cause returns the body's error for github.com/pkg/errors.Cause.
func (e *CleanupError) Cause() error { return e.Body }

// PanicError carries a panic recovered from the body when WithPanicAsError
// is set.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("amqpscope: panic in body: %v", e.Value) }

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
