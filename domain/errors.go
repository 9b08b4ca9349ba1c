package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImages is returned when a training run is started without input.
	ErrNoImages = errors.New("no images selected")
	// ErrSessionReused is returned when a training context is run twice.
	ErrSessionReused = errors.New("training context already used")
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindDecode        Kind = "decode"
	KindShapeMismatch Kind = "shape_mismatch"
	KindLoad          Kind = "load"
	KindRuntimeStep   Kind = "runtime_step"
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidConfig Kind = "invalid_config"
)

// Error wraps an underlying error with the operation that failed and its kind.
type Error struct {
	Op   string
	Kind Kind
	Path string // optional: file or image name
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// E builds an *Error around err.
func E(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
