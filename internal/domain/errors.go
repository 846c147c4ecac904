package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidationFailure marks participant input that is missing or out of range.
	ErrValidationFailure = errors.New("survey: validation failure")
	// ErrGenerationFailure marks a transport or service error while requesting ads.
	ErrGenerationFailure = errors.New("survey: generation failure")
	// ErrMalformedBatch marks generator output that is not a mapping of string to string.
	ErrMalformedBatch = errors.New("survey: malformed ad batch")
	// ErrIncompleteBatch marks generator output whose entry count differs from the plan.
	ErrIncompleteBatch = errors.New("survey: incomplete ad batch")
	// ErrEmptyBatch marks an attempt to start rating with zero ads.
	ErrEmptyBatch = errors.New("survey: empty ad batch")
	// ErrPersistenceFailure marks a failed upsert of participant responses.
	ErrPersistenceFailure = errors.New("survey: persistence failure")
	// ErrInvalidTransition marks an event that the current session state does not accept.
	ErrInvalidTransition = errors.New("survey: invalid state transition")
	// ErrStaleSubmission marks a rating submitted for an ad other than the current one.
	ErrStaleSubmission = errors.New("survey: stale rating submission")
	// ErrSessionNotFound marks an unknown or expired session identifier.
	ErrSessionNotFound = errors.New("survey: session not found")
)

// ValidationError reports per-field validation problems. It unwraps to ErrValidationFailure.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns nil when no field failed.
func NewValidationError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &ValidationError{Fields: copied}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidationFailure.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s: %s", ErrValidationFailure.Error(), strings.Join(keys, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailure
}

// FieldErrors extracts field messages from err, or nil when err carries none.
func FieldErrors(err error) map[string]string {
	var verr *ValidationError
	if errors.As(err, &verr) && verr != nil {
		return verr.Fields
	}
	return nil
}

// BatchError describes why a generated batch was rejected.
type BatchError struct {
	Kind   error
	Count  int
	Want   int
	Detail string
}

func (e *BatchError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case errors.Is(e.Kind, ErrIncompleteBatch):
		return fmt.Sprintf("%s: got %d entries, want %d", e.Kind.Error(), e.Count, e.Want)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
	default:
		return e.Kind.Error()
	}
}

func (e *BatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}
