package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by every layer. Domain packages wrap these so that
// HTTPStatus can classify an error without knowing its origin.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
)

// class is the code and status a sentinel maps to.
type class struct {
	sentinel error
	code     string
	status   int
}

// classes is checked in order; the first sentinel found in the chain wins.
var classes = []class{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrAlreadyExists, "ALREADY_EXISTS", http.StatusConflict},
	{ErrConflict, "CONFLICT", http.StatusConflict},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

var internalClass = class{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError}

// AppError carries a machine-readable code and the HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(sentinel error, message string) *AppError {
	c := classify(sentinel)
	return &AppError{Code: c.code, Message: message, Status: c.status, Err: sentinel}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return newAppError(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// AlreadyExists creates a 409 error for a duplicate unique value.
func AlreadyExists(resource, field, value string) *AppError {
	return newAppError(ErrAlreadyExists, fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError { return newAppError(ErrInvalidInput, message) }

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError { return newAppError(ErrUnauthorized, message) }

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError { return newAppError(ErrForbidden, message) }

// Conflict creates a 409 error for state conflicts that are not plain duplicates.
func Conflict(message string) *AppError { return newAppError(ErrConflict, message) }

// ServiceUnavailable creates a 503 error. Clients may retry the request.
func ServiceUnavailable(message string) *AppError {
	return newAppError(ErrServiceUnavail, message)
}

// Internal creates a 500 error that keeps err as its cause.
func Internal(err error) *AppError {
	return &AppError{
		Code:    internalClass.code,
		Message: "an internal error occurred",
		Status:  internalClass.status,
		Err:     err,
	}
}

func classify(err error) class {
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c
		}
	}
	return internalClass
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return classify(err).status
}

// Code returns the machine-readable code for the given error.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return classify(err).code
}
