package backend

import (
	"errors"
	"fmt"
)

// ErrUnsupported matches every UnsupportedOperationError via errors.Is.
var ErrUnsupported = errors.New("operation not supported")

// UnsupportedOperationError reports that a backend cannot perform an
// operation. Returning it must have no side effects.
type UnsupportedOperationError struct {
	Backend   string
	Operation string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s backend does not support %s", e.Backend, e.Operation)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrUnsupported) true.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupported
}

// Notice is the line shown to the operator: the reason when there is one.
func (e *UnsupportedOperationError) Notice() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Error()
}

// Unsupported is a shorthand constructor.
func Unsupported(backend, op, reason string) error {
	return &UnsupportedOperationError{Backend: backend, Operation: op, Reason: reason}
}

// ArtifactResolutionError wraps a failure to locate or build the artifact.
// Nothing has been spawned when it is returned.
type ArtifactResolutionError struct {
	Err error
}

func (e *ArtifactResolutionError) Error() string {
	return "resolve artifact: " + e.Err.Error()
}

func (e *ArtifactResolutionError) Unwrap() error {
	return e.Err
}
