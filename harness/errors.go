package harness

import (
	"errors"
	"fmt"

	"github.com/soft-stech/cluster-harness/contrib/restclient"
	"github.com/soft-stech/cluster-harness/utils/waitutils"
)

// TimeoutError is returned when a bounded convergence wait reaches its
// deadline.  It aliases the poller's error type so both spellings match with
// errors.As.
type TimeoutError = waitutils.TimeoutError

// TransportError indicates a connection-level failure reaching the control
// plane or a node's admin API.  It always names the attempted operation and
// chains the underlying cause.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError indicates the remote end returned a well-formed error,
// such as an invalid server id, or a response the harness could not make
// sense of.
type ApplicationError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// InvariantViolation indicates caller misuse.  It fails fast and must not be
// retried.
type InvariantViolation struct {
	Op     string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// translateError converts a raw control-plane or node-API failure into the
// harness error taxonomy, naming the operation that was attempted.  Raw
// transport errors never reach the caller unannotated.
func translateError(op string, err error) error {
	var srvErr *restclient.ServerError
	if errors.As(err, &srvErr) {
		return &ApplicationError{Op: op, Status: srvErr.StatusCode, Message: srvErr.Body, Err: err}
	}

	var decodeErr *restclient.DecodeError
	if errors.As(err, &decodeErr) {
		return &ApplicationError{Op: op, Message: decodeErr.Error(), Err: err}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}

	return &TransportError{Op: op, Err: err}
}
