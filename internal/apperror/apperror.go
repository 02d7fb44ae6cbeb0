// Package apperror defines the typed errors shared by every layer.
//
// Each error kind is a sentinel (ErrUsernameTaken, ErrInvalidCredentials, ...)
// wrapped in an *AppError that carries the human-readable message. Callers
// branch with errors.Is against the sentinel and read the message with
// errors.As:
//
//	var appErr *apperror.AppError
//	if errors.Is(err, apperror.ErrInvalidCredentials) && errors.As(err, &appErr) {
//	    // show appErr.Message to the user
//	}
//
// HTTP handlers map sentinels to status codes. The service and repository
// layers never import net/http.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// Authentication outcomes. All are expected results, not faults.
	ErrUsernameTaken      = errors.New("username taken")
	ErrPasswordMismatch   = errors.New("password mismatch")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")

	// ErrDuplicateUsername is raised by the user store when its uniqueness
	// constraint rejects an insert. The auth service converts it to
	// ErrUsernameTaken before it reaches a caller.
	ErrDuplicateUsername = errors.New("duplicate username")

	// ErrStorageUnavailable covers every storage failure other than the
	// username constraint: connection loss, timeouts, unexpected driver errors.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type AppError struct {
	Err     error  // sentinel, matched with errors.Is
	Message string // human-readable message, safe to show to end users
	Field   string // optional: input field causing the error
	Cause   error  // optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches the
// kind and errors.As can still reach a driver or oops error underneath.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// UsernameTaken is returned by registration when the username already exists,
// whether the pre-check found it or the store's constraint rejected the insert.
func UsernameTaken(username string) *AppError {
	return &AppError{
		Err:     ErrUsernameTaken,
		Message: "That username is taken. Please choose a different one.",
		Field:   "username",
	}
}

func PasswordMismatch() *AppError {
	return &AppError{
		Err:     ErrPasswordMismatch,
		Message: "Passwords must match.",
		Field:   "password_confirmation",
	}
}

// InvalidCredentials is the single login failure. The message is the same for
// an unknown username and a wrong password.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid username or password.",
	}
}

func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "Please log in to access this page.",
	}
}

func DuplicateUsername(username string) *AppError {
	return &AppError{
		Err:     ErrDuplicateUsername,
		Message: fmt.Sprintf("username %q already exists", username),
		Field:   "username",
	}
}

// StorageUnavailable wraps a storage failure. op names the operation
// ("sqlite: creating user"); cause is kept for logging and never shown to users.
func StorageUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorageUnavailable,
		Message: op,
		Cause:   cause,
	}
}

// PublicMessage returns the message to show an end user for err. Storage and
// unknown errors collapse to a generic sentence.
func PublicMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) || errors.Is(err, ErrStorageUnavailable) {
		return "Something went wrong. Please try again later."
	}
	return appErr.Message
}
