package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAnalysis     Kind = "analysis"
	KindFile         Kind = "file"
	KindSubscription Kind = "subscription"
	KindStore        Kind = "store"
	KindInternal     Kind = "internal"
)

// Error is the tagged error type shared by every component.
type Error struct {
	Kind      Kind
	Message   string
	Details   map[string]interface{}
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns the error after attaching a detail value.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Validation builds a user-correctable error listing the offending fields.
func Validation(message string, fields ...string) *Error {
	e := &Error{Kind: KindValidation, Message: message}
	if len(fields) > 0 {
		sorted := append([]string(nil), fields...)
		sort.Strings(sorted)
		e.WithDetail("fields", sorted)
	}
	return e
}

func Analysis(message string, err error) *Error {
	return &Error{Kind: KindAnalysis, Message: message, Err: err}
}

func File(message string, err error) *Error {
	return &Error{Kind: KindFile, Message: message, Err: err}
}

// Subscription errors are retryable: the processor re-delivers the webhook.
func Subscription(message string, err error) *Error {
	return &Error{Kind: KindSubscription, Message: message, Err: err, Retryable: true}
}

// Store errors are retryable: the transaction was rolled back.
func Store(message string, err error) *Error {
	return &Error{Kind: KindStore, Message: message, Err: err, Retryable: true}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is tagged with kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// IsRetryable reports whether the caller should let upstream re-deliver.
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Fields returns the offending field names of a validation error.
func Fields(err error) []string {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Details == nil {
		return nil
	}
	fields, _ := appErr.Details["fields"].([]string)
	return fields
}

// HTTPStatus maps an error to the status code returned to webhook callers.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation, KindFile:
		return http.StatusBadRequest
	case KindSubscription:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Describe renders an error for structured logs.
func Describe(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if fields := Fields(err); len(fields) > 0 {
		return fmt.Sprintf("%s (fields: %s)", appErr.Error(), strings.Join(fields, ", "))
	}
	return appErr.Error()
}

// Message returns the client-facing message of err without the kind prefix.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
