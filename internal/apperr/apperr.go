// Package apperr defines the standardized error taxonomy shared across the
// TrueSight services and its JSON wire representation.
//
// Purpose:
//
//	Every handler and pipeline component classifies failures into one of the
//	kinds below. The HTTP layers map kinds to status codes and render the
//	shared body shape {"error": {"code", "message"}}. Server-side (5xx) kinds
//	are additionally reported to Sentry.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// Kind classifies an application error.
type Kind int

const (
	KindValidation Kind = iota
	KindUnauthorized
	KindNotFound
	KindRateLimited
	KindPayloadTooLarge
	KindUnsupportedMediaType
	KindInternal
	KindDatabase
	KindSqs
)

// Error is the application error carried across layers.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind that retains its cause for
// errors.Is / errors.Unwrap chains.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Unauthorized builds an authentication error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// NotFoundf builds a missing-resource error.
func NotFoundf(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// RateLimited builds a rate-limit error.
func RateLimited() *Error {
	return New(KindRateLimited, "rate limited")
}

// PayloadTooLargef builds a body-size error.
func PayloadTooLargef(format string, args ...any) *Error {
	return New(KindPayloadTooLarge, fmt.Sprintf(format, args...))
}

// UnsupportedMediaTypef builds an encoding error.
func UnsupportedMediaTypef(format string, args ...any) *Error {
	return New(KindUnsupportedMediaType, fmt.Sprintf(format, args...))
}

// Internalf builds an internal error.
func Internalf(format string, args ...any) *Error {
	return New(KindInternal, fmt.Sprintf(format, args...))
}

// Databasef builds a database error.
func Databasef(format string, args ...any) *Error {
	return New(KindDatabase, fmt.Sprintf(format, args...))
}

// Sqsf builds a queue error.
func Sqsf(format string, args ...any) *Error {
	return New(KindSqs, fmt.Sprintf(format, args...))
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code(), e.Message)
}

// Unwrap exposes the cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the wire error code for the kind.
func (e *Error) Code() string {
	switch e.Kind {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindPayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case KindUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	case KindDatabase:
		return "DATABASE_ERROR"
	case KindSqs:
		return "SQS_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// Status returns the HTTP status for the kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// From coerces any error into an *Error. Unclassified errors become internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON renders err in the shared body shape and reports 5xx classes to
// Sentry before writing the response.
func WriteJSON(w http.ResponseWriter, err error) {
	appErr := From(err)

	if appErr.Status() >= http.StatusInternalServerError {
		sentry.CaptureMessage(appErr.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Code: appErr.Code(), Message: appErr.Message},
	})
}
