package emotion

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when Classify is called with blank text.
var ErrEmptyInput = errors.New("classify: empty input")

// ErrorKind tells an unreachable classifier apart from one that answered garbage.
type ErrorKind int

const (
	// Unavailable covers transport, auth, rate-limit and server failures.
	Unavailable ErrorKind = iota + 1
	// MalformedResponse means the call succeeded but the body could not be parsed.
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// ClassifierError is the only error type classifiers surface to the dialog engine.
type ClassifierError struct {
	Kind ErrorKind
	// StatusCode is the HTTP status reported by the API, when there was one.
	StatusCode int
	Err        error
}

func (e *ClassifierError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classifier %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classifier %s: %v", e.Kind, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// Unavailablef builds an Unavailable ClassifierError.
func Unavailablef(status int, err error) *ClassifierError {
	return &ClassifierError{Kind: Unavailable, StatusCode: status, Err: err}
}

// Malformed builds a MalformedResponse ClassifierError.
func Malformed(err error) *ClassifierError {
	return &ClassifierError{Kind: MalformedResponse, Err: err}
}

// IsKind reports whether err is a ClassifierError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ClassifierError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
