package transport

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of transport failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection, DNS and timeout failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassHTTP represents non-2xx responses that carry no application error code.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassDecode represents 2xx responses whose body is not an envelope.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassApplication represents envelopes with a non-zero code.
	ErrorClassApplication ErrorClass = "application"
)

// Sentinel errors for classification with errors.Is.
var (
	ErrNetwork    = errors.New("network error")
	ErrHTTPStatus = errors.New("unexpected http status")
	ErrDecode     = errors.New("decode error")
)

// TransportError is a failure below the application protocol: the request did
// not produce a readable envelope.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s error (status %d): %v",
			e.Method, e.Path, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.Path, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is an envelope whose code is not "0". It carries the
// server-supplied message.
type ApplicationError struct {
	Code       Code
	Msg        string
	Path       string
	StatusCode int
}

// Error implements the error interface.
func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s: %s (code: %s)", e.Path, e.Msg, e.Code)
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsApplication reports whether err is, or wraps, an *ApplicationError.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// Classify returns the ErrorClass of err, or "" for errors from elsewhere.
func Classify(err error) ErrorClass {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ErrorClassApplication
	}
	return ""
}
