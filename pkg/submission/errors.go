package submission

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidTransition is returned when an operation is called in a
// state the table does not allow.
var ErrInvalidTransition = errors.New("submission: invalid state transition")

// ValidationError rejects an operation with the human-readable reasons
// a caller can show directly. Nothing was applied when it is returned.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

func validationErr(reasons ...string) *ValidationError {
	return &ValidationError{Reasons: reasons}
}

// AsValidation extracts a ValidationError from an error chain.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	ok := errors.As(err, &verr)
	return verr, ok
}
