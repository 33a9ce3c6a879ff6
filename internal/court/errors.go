package court

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers as rejected operations. Anything else that
// escapes orchestration fails the session.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

// Validationf formats a message wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf formats a message wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is an unknown-entity rejection.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
