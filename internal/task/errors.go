package task

import "errors"

// Sentinel causes attached to failed Results by the execution engine. The
// failure handler classifies against these rather than inspecting strings.
var (
	// ErrTimeout marks an attempt that exceeded the task's declared timeout.
	ErrTimeout = errors.New("task timed out")
	// ErrCancelled marks an attempt interrupted by cancellation.
	ErrCancelled = errors.New("task cancelled")
	// ErrPanic marks an attempt whose handler panicked. The panic never
	// crosses the engine boundary; it is converted into a failed Result.
	ErrPanic = errors.New("task panicked")
)

// permanentError marks an error that must not be retried regardless of the
// task's retry policy.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the failure handler classifies it as permanent.
// Handlers return Permanent(err) for failures where retrying cannot help,
// such as rejected input.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
