// Package errs defines the typed failures the support desk surfaces to callers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure for retry and display decisions.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindTransient  Kind = "transient"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindUnknown    Kind = "unknown"
)

// GenericMessage is shown when nothing more specific is known.
const GenericMessage = "something went wrong, please try again"

// AuthError is returned for 401/403 responses. Poll loops stop on it.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthenticated (%d): %s", e.Status, orDefault(e.Message, "authorization required"))
}

// TransientError covers network failures, 5xx responses and unreadable bodies.
// The last known good state must be preserved when it occurs.
type TransientError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	b.WriteString(": ")
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("temporary failure")
	}
	return b.String()
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError is a per-item rejection, for example an attachment that is
// too large. It never aborts the surrounding batch.
type ValidationError struct {
	Item    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Item == "" {
		return e.Message
	}
	return fmt.Sprintf("%q: %s", e.Item, e.Message)
}

// ConflictError reports that the target is already in the requested state,
// such as deleting a message that is gone. Callers treat it as success.
type ConflictError struct {
	Status  int
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%d): %s", e.Status, orDefault(e.Message, "resource changed"))
}

// UnknownError is the fallback for responses outside the other classes.
type UnknownError struct {
	Op      string
	Status  int
	Message string
}

func (e *UnknownError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, orDefault(e.Message, GenericMessage))
	}
	return fmt.Sprintf("%s (%d): %s", e.Op, e.Status, orDefault(e.Message, GenericMessage))
}

// FromStatus maps a non-OK HTTP status and optional server message to a typed error.
func FromStatus(op string, status int, message string) error {
	message = strings.TrimSpace(message)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Message: message}
	case status == http.StatusNotFound || status == http.StatusConflict || status == http.StatusGone:
		return &ConflictError{Status: status, Message: message}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &TransientError{Op: op, Status: status, Message: message}
	default:
		return &UnknownError{Op: op, Status: status, Message: message}
	}
}

// KindOf classifies err. Nil errors have an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		auth       *AuthError
		transient  *TransientError
		validation *ValidationError
		conflict   *ConflictError
	)
	switch {
	case errors.As(err, &auth):
		return KindAuth
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &transient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// StatusOf returns the HTTP status carried by err, or 0 when the server never
// answered, as with network failures and cancellation.
func StatusOf(err error) int {
	var (
		auth      *AuthError
		transient *TransientError
		conflict  *ConflictError
		unknown   *UnknownError
	)
	switch {
	case errors.As(err, &auth):
		return auth.Status
	case errors.As(err, &conflict):
		return conflict.Status
	case errors.As(err, &transient):
		return transient.Status
	case errors.As(err, &unknown):
		return unknown.Status
	default:
		return 0
	}
}

// UserMessage renders err for display to the agent.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		auth       *AuthError
		transient  *TransientError
		validation *ValidationError
		unknown    *UnknownError
	)
	switch {
	case errors.As(err, &auth):
		return "authorization required"
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &transient):
		if transient.Message != "" {
			return transient.Message
		}
		return "connection to the server failed"
	case errors.As(err, &unknown):
		return orDefault(unknown.Message, GenericMessage)
	default:
		return GenericMessage
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
