// Package gwerrors contains all common errors used by the auth client.
package gwerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var ErrNoRefreshToken = fmt.Errorf("there is no refresh token available")
var ErrRefreshFailed = fmt.Errorf("the access token could not be refreshed")
var ErrNotAuthenticated = fmt.Errorf("the user is not authenticated")
var ErrLoginFailed = fmt.Errorf("login failed")
var ErrRegisterFailed = fmt.Errorf("registration failed")
var ErrTokenNotFound = fmt.Errorf("the token cannot be found")
var ErrTransport = fmt.Errorf("the server could not be reached")
var ErrTimeout = fmt.Errorf("the request timed out")
var ErrUnauthorized = fmt.Errorf("the request is unauthorized")
var ErrClientError = fmt.Errorf("the request was rejected")
var ErrServerError = fmt.Errorf("the server failed to handle the request")

// StatusError is returned when a response arrived but carried a status >= 400.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode >= 500:
		return ErrServerError
	default:
		return ErrClientError
	}
}

// TransportError is returned when no response was received at all.
type TransportError struct {
	Op      string
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timed out: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return true
	case ErrTimeout:
		return e.Timeout
	}
	return false
}

// NewTransportError wraps an error returned by http.Client.Do and records whether it was a timeout
func NewTransportError(op, url string, err error) *TransportError {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &TransportError{Op: op, URL: url, Timeout: timeout, Err: err}
}

// StatusCode returns the HTTP status carried by err, or 0 when there is none.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
