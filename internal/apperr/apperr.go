// Package apperr holds the error taxonomy surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// KindBadRequest is a failure detected before any provider request was
	// issued. It carries the originating 4xx status.
	KindBadRequest Kind = "badRequest"
	// KindUpstream is any failure after the provider request was issued.
	KindUpstream Kind = "upstream"
)

// Error is a classified failure.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	// RequestURL is the provider URL for upstream failures.
	RequestURL string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.RequestURL != "" {
		msg = fmt.Sprintf("%s (request %s)", msg, e.RequestURL)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest builds a badRequest error. Statuses outside 4xx become 400.
func BadRequest(status int, message string) *Error {
	if status < 400 || status > 499 {
		status = http.StatusBadRequest
	}
	return &Error{Kind: KindBadRequest, HTTPStatus: status, Message: message}
}

func Upstream(message, requestURL string, err error) *Error {
	return &Error{
		Kind:       KindUpstream,
		HTTPStatus: http.StatusInternalServerError,
		Message:    message,
		RequestURL: requestURL,
		Err:        err,
	}
}

func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// StatusError is a non-2xx response from a remote HTTP collaborator.
type StatusError struct {
	Service    string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s responded with status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s responded with status %d: %s", e.Service, e.StatusCode, e.Detail)
}

func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
