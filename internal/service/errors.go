package service

import (
	"errors"
	"fmt"
)

// ErrUnreachable is the skip reason of a cycle started while the remote store is unreachable
var ErrUnreachable = errors.New("remote store unreachable")

// ErrInFlight is the skip reason of a cycle started while the same cycle is still running
var ErrInFlight = errors.New("cycle already in flight")

// RejectionError is an application-level refusal of a single record
// The remote store is healthy; only that record is marked failed
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("record rejected: %s", e.Reason)
}

// TransportError wraps a network-level failure: DNS, refused connection,
// timeout, or a server error. The push cycle aborts and the remote is marked unreachable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRejection reports whether err is a single-record rejection
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
