// Package errors defines the typed error taxonomy shared by every vkvstore
// component: FVR, the snapshot engine adapter, VSM, and MDM all report
// failures through the same seven kinds instead of ad-hoc sentinels.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the seven taxonomy buckets an Error belongs to.
type Kind int

const (
	// ConfigError covers invalid data_dir, out-of-range record capacity,
	// or other construction-time configuration problems.
	ConfigError Kind = iota
	// IoError covers filesystem failures on create/write/fsync/rename/delete/mmap.
	IoError
	// LockError covers advisory byte-range lock acquisition failures that
	// are not a plain CAS miss.
	LockError
	// CapacityExhausted is returned when publishing would need version R+1.
	CapacityExhausted
	// EngineError wraps an opaque failure from the snapshot engine adapter.
	EngineError
	// SerdeError covers malformed bytes on decode.
	SerdeError
	// ArgumentError covers blank names and out-of-range versions passed
	// by the caller.
	ArgumentError
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case IoError:
		return "IoError"
	case LockError:
		return "LockError"
	case CapacityExhausted:
		return "CapacityExhausted"
	case EngineError:
		return "EngineError"
	case SerdeError:
		return "SerdeError"
	case ArgumentError:
		return "ArgumentError"
	default:
		return "UnknownError"
	}
}

// EncodingInvalid is the sole SerdeError reason the core ever produces:
// decode of malformed or over-length bytes.
var EncodingInvalid = errors.New("encoding invalid")

// Error is the structured error type returned across package boundaries.
// Op names the failing operation (e.g. "fvr.compare_and_set_meta",
// "vsm.write_once") for log-friendly messages; Err is the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errors.EncodingInvalid) to succeed against a
// wrapping *Error without requiring callers to unwrap manually.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New constructs an *Error of the given kind for operation op, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
