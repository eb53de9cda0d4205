package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrClosed is returned for calls issued after Close.
var ErrClosed = errors.New("bridge client closed")

// TransportError wraps a connection-level failure (refused, reset,
// timed out). It is always recoverable: the entity is skipped this
// cycle and retried on the next one.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
