package transport

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classifier reports whether err is a transient failure worth retrying.
type Classifier func(err error) bool

// codedError attaches a gRPC status code to a wrapped error while keeping
// the original error reachable through errors.Is/errors.As.
type codedError struct {
	code codes.Code
	err  error
}

func (e *codedError) Error() string {
	if e.code == codes.Unavailable {
		return fmt.Sprintf("remote unavailable: %v", e.err)
	}
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

// GRPCStatus lets status.Code and status.FromError recognise the wrapper.
func (e *codedError) GRPCStatus() *status.Status {
	return status.New(e.code, e.Error())
}

// Unavailable wraps err so that IsTransient reports true for it.
// A nil err yields nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: codes.Unavailable, err: err}
}

// Fatal wraps err so that IsTransient reports false for it, even when err
// itself carries codes.Unavailable. A nil err yields nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: codes.FailedPrecondition, err: err}
}

// Unavailablef builds a transient error from a format string.
func Unavailablef(format string, args ...any) error {
	return status.Errorf(codes.Unavailable, format, args...)
}

// IsTransient is the default Classifier.
//
// An error is transient when its gRPC status code is codes.Unavailable.
// Wrapped status errors are unwrapped, so fmt.Errorf("...: %w", err) keeps
// the classification. A bare context error is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return status.Code(err) == codes.Unavailable
}
