package errors

import (
	"errors"
	"fmt"
)

// Failure classes surfaced to feature code
var (
	// ErrUnauthorized means the credential was rejected and could not be renewed.
	// Terminal for the session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNetworkFailure is a transport-level failure. Retryable by the caller.
	ErrNetworkFailure = errors.New("network failure")
	// ErrDecodingFailure is a malformed success response.
	ErrDecodingFailure = errors.New("decoding failure")

	// Session errors
	ErrNoSession    = errors.New("no session")
	ErrNotConnected = errors.New("not connected")
)

// ServerError is an application-level rejection. Detail is the server-provided
// message, passed through verbatim for display.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Detail)
}

// NewServerError builds a ServerError for status with detail.
func NewServerError(status int, detail string) error {
	return &ServerError{Status: status, Detail: detail}
}

// Network marks err as a transport failure while keeping it in the chain.
func Network(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
}

// Decoding marks err as a malformed response body.
func Decoding(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDecodingFailure, err)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// AsServerError returns the ServerError in err's chain, if any.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
