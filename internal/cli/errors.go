package cli

import (
	"errors"
	"fmt"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/models"
)

// Exit codes returned by the supportdesk binary.
const (
	ExitCodeFailure    = 1
	ExitCodeUsage      = 2
	ExitCodeAuth       = 3
	ExitCodeValidation = 4
	ExitCodeTransient  = 5
)

// ExitError carries a process exit code up to main.
type ExitError struct {
	Code int
	Err  error

	// Printed is set when the command already reported Err to the user.
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exitf builds an ExitError from a format string.
func Exitf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// exitFor maps a desk error to an ExitError with a user-facing message.
func exitFor(op string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	code := ExitCodeFailure
	switch errs.KindOf(err) {
	case errs.KindAuth:
		code = ExitCodeAuth
	case errs.KindValidation:
		code = ExitCodeValidation
	case errs.KindTransient:
		code = ExitCodeTransient
	}
	var invalid *models.ValidationErrors
	if errors.As(err, &invalid) {
		code = ExitCodeValidation
	}
	msg := errs.UserMessage(err)
	if msg == errs.GenericMessage {
		// Local failures (unknown ticket, bad flag) read better verbatim.
		msg = err.Error()
	}
	return &ExitError{Code: code, Err: fmt.Errorf("%s: %s", op, msg)}
}
