package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation marks a missing or invalid required field.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization marks a rejected challenge such as a wrong discount PIN.
	ErrAuthorization = errors.New("authorization failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTransientIO marks a backend or network failure the caller may retry.
	ErrTransientIO = errors.New("transient io failure")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates an operation not allowed in the document's current state.
	ErrInvalidState = errors.New("invalid state")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authorizationf wraps ErrAuthorization with a formatted message.
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidStatef wraps ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Transient marks err as a retryable I/O failure, keeping the original chain.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientIO, err)
}

// FieldErrors collects per-field validation messages.
type FieldErrors map[string]string

// Add records a message for field; the first message wins.
func (f FieldErrors) Add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = message
	}
}

// Err returns nil when no field failed.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return f
}

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (f FieldErrors) Unwrap() error {
	return ErrValidation
}

// UserSafeMessage returns a message suitable for API consumers.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAuthorization),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return err.Error()
	case errors.Is(err, ErrTransientIO):
		return "backend temporarily unavailable, please retry"
	default:
		return "unexpected error"
	}
}
