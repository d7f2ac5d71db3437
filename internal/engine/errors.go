package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt is returned before any subprocess is launched.
	ErrEmptyPrompt = errors.New("No message provided")
	// ErrWallTimeout reports a session that outlived its wall-clock budget.
	ErrWallTimeout = errors.New("exceeded wall timeout")
	// ErrIdleTimeout reports a process that stopped producing output.
	ErrIdleTimeout = errors.New("stalled: no output within idle timeout")
	// ErrProcessHung reports a process that did not exit after being killed.
	ErrProcessHung = errors.New("process hung after kill")
	// ErrBatchTimeout is the batch path's deadline error. No partial output accompanies it.
	ErrBatchTimeout = errors.New("Request timeout")
	// ErrStreamClosed is returned when emitting after the terminal event.
	ErrStreamClosed = errors.New("event stream already terminated")
)

// LaunchError wraps a failure to start the inference binary.
type LaunchError struct {
	Bin string
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch %s: %v", e.Bin, e.Err) }

func (e *LaunchError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err is (or wraps) a LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}

// IsTimeout reports whether err is one of the timeout conditions.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrWallTimeout) || errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrBatchTimeout)
}

// tooBusyError signals admission timeout/overflow for 429 mapping.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string { return "too busy: " + e.reason }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

// dependencyUnavailableError signals a missing runtime dependency (engine binary,
// bindings not compiled in, model not loaded) so the HTTP layer can return 503.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// invalidRequestError marks caller mistakes (400).
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// IsInvalidRequest reports whether err was caused by a bad request payload.
func IsInvalidRequest(err error) bool {
	if errors.Is(err, ErrEmptyPrompt) {
		return true
	}
	var ie invalidRequestError
	return errors.As(err, &ie)
}
