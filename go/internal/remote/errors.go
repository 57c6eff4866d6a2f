package remote

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
)

var (
	// ErrNetwork marks transport failures and timeouts. Callers fall back
	// to the offline queue.
	ErrNetwork = errors.New("remote unreachable")

	// ErrNotFound is returned when a request references a remote entity
	// that does not exist.
	ErrNotFound = errors.New("remote entity not found")
)

// ValidationError is a rejection of a payload by the backend
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("remote validation failed: %s", e.Message)
}

// IsRetryable reports whether err is worth retrying later
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// fromConnectError maps a connect error onto the package's error taxonomy
func fromConnectError(procedure string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", procedure, ErrNetwork, err)
	}

	switch connect.CodeOf(err) {
	case connect.CodeInvalidArgument, connect.CodeFailedPrecondition:
		msg := err.Error()
		var cerr *connect.Error
		if errors.As(err, &cerr) {
			msg = cerr.Message()
		}
		return &ValidationError{Message: msg}
	case connect.CodeNotFound:
		return fmt.Errorf("%s: %w: %w", procedure, ErrNotFound, err)
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeCanceled, connect.CodeUnknown, connect.CodeAborted:
		return fmt.Errorf("%s: %w: %w", procedure, ErrNetwork, err)
	default:
		return fmt.Errorf("%s: %w", procedure, err)
	}
}

// ToConnectError maps the package's error taxonomy onto connect codes for
// handlers.
func ToConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return connect.NewError(connect.CodeInvalidArgument, errors.New(ve.Message))
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
