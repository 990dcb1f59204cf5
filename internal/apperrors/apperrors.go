package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Type classifies an application error.
type Type string

const (
	Authorization      Type = "AUTHORIZATION"
	Forbidden          Type = "FORBIDDEN"
	BadRequest         Type = "BAD_REQUEST"
	Conflict           Type = "CONFLICT"
	Internal           Type = "INTERNAL"
	NotFound           Type = "NOT_FOUND"
	PayloadTooLarge    Type = "PAYLOAD_TOO_LARGE"
	ServiceUnavailable Type = "SERVICE_UNAVAILABLE"
)

// Error is an error that knows which HTTP status it maps to.
type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Status maps the error type to an HTTP status code.
func (e *Error) Status() int {
	switch e.Type {
	case Authorization:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case BadRequest:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Status returns the HTTP status for any error in err's chain.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// As returns the *Error in err's chain, or an Internal error when there is none.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternal()
}

func NewAuthorization(reason string) *Error {
	return &Error{Type: Authorization, Message: reason}
}

func NewForbidden(reason string) *Error {
	return &Error{Type: Forbidden, Message: reason}
}

func NewBadRequest(reason string) *Error {
	return &Error{Type: BadRequest, Message: reason}
}

// NewConflict reports that a resource with name=value already exists.
func NewConflict(name, value string) *Error {
	return &Error{Type: Conflict, Message: fmt.Sprintf("resource: %v with value: %v already exists", name, value)}
}

func NewInternal() *Error {
	return &Error{Type: Internal, Message: "Internal server error."}
}

// NewNotFound reports that no resource with name=value exists.
func NewNotFound(name, value string) *Error {
	return &Error{Type: NotFound, Message: fmt.Sprintf("resource: %v with value: %v not found", name, value)}
}

func NewPayloadTooLarge(maxBodySize, contentLength int64) *Error {
	return &Error{
		Type:    PayloadTooLarge,
		Message: fmt.Sprintf("Max payload size of %v exceeded. Actual payload size: %v", maxBodySize, contentLength),
	}
}

func NewServiceUnavailable() *Error {
	return &Error{Type: ServiceUnavailable, Message: "Service unavailable or timed out"}
}
