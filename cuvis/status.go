package cuvis

import (
	"errors"
	"fmt"
)

// Status is a status code returned by every native entry point
type Status int

const (
	// StatusOK is returned on success
	StatusOK Status = iota

	// StatusError is a generic failure; the detail is in the last error message
	StatusError

	// StatusDeferred means an asynchronous call has not yet completed
	StatusDeferred

	// StatusOverwritten means a newer request on the same slot replaced this one
	StatusOverwritten

	// StatusTimeout means a wait budget was exhausted
	StatusTimeout

	// StatusNoMeasurement is returned by session lookups with no frame at the index
	StatusNoMeasurement

	// StatusNotAvailable means the requested item does not exist
	StatusNotAvailable

	// StatusNotSupported means the operation is not supported by the device or build
	StatusNotSupported

	statusCount
)

var statusNames = [...]string{
	StatusOK:            "status_ok",
	StatusError:         "status_error",
	StatusDeferred:      "status_deferred",
	StatusOverwritten:   "status_overwritten",
	StatusTimeout:       "status_timeout",
	StatusNoMeasurement: "status_no_measurement",
	StatusNotAvailable:  "status_not_available",
	StatusNotSupported:  "status_not_supported",
}

var _ = [1]struct{}{}[len(statusNames)-int(statusCount)]

func (s Status) String() string {
	return enumName(statusNames[:], int(s), "Status")
}

var (
	// ErrReleased is returned by any operation on a wrapper whose native
	// handle was released or moved to another owner
	ErrReleased = errors.New("cuvis: native handle released or moved")

	// ErrTimeout matches SDK errors with StatusTimeout under errors.Is
	ErrTimeout = &SDKError{Status: StatusTimeout}

	// ErrOverwritten matches SDK errors with StatusOverwritten under errors.Is
	ErrOverwritten = &SDKError{Status: StatusOverwritten}

	// ErrDeferred matches SDK errors with StatusDeferred under errors.Is
	ErrDeferred = &SDKError{Status: StatusDeferred}

	// ErrNoMeasurement matches SDK errors with StatusNoMeasurement under errors.Is
	ErrNoMeasurement = &SDKError{Status: StatusNoMeasurement}

	// ErrNotAvailable matches SDK errors with StatusNotAvailable under errors.Is
	ErrNotAvailable = &SDKError{Status: StatusNotAvailable}

	// ErrNotSupported matches SDK errors with StatusNotSupported under errors.Is
	ErrNotSupported = &SDKError{Status: StatusNotSupported}
)

// SDKError is the single error type produced from a non-ok native status.
// Msg holds the native layer's last error message at the time of the failure.
type SDKError struct {
	// Op is the native entry point that failed
	Op string

	// Status is the native status code
	Status Status

	// Msg is the last error message reported by the native layer
	Msg string
}

// Error satisfies the error interface
func (e *SDKError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("cuvis: %s", e.Status)
	}
	if e.Msg == "" {
		return fmt.Sprintf("cuvis: %s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("cuvis: %s: %s (%s)", e.Op, e.Msg, e.Status)
}

// Is compares by status, so errors.Is(err, ErrTimeout) holds for any timeout
// regardless of the operation that produced it
func (e *SDKError) Is(target error) bool {
	t, ok := target.(*SDKError)
	if !ok {
		return false
	}
	return t.Status == e.Status && (t.Op == "" || t.Op == e.Op)
}

// IsTimeout reports whether err is a native timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// check converts a native status to an error, nil for StatusOK.
// Other statuses capture the last native error message immediately so that
// an intervening call cannot replace it.
func (c core) check(st Status, op string) error {
	if st == StatusOK {
		return nil
	}
	err := &SDKError{Op: op, Status: st, Msg: c.LastError()}
	Logger().Debug("native call failed", "op", op, "status", st, "msg", err.Msg)
	return err
}
