package memory

import "fmt"

// Error implements repositories.RepositoryError for in-memory repositories.
type Error struct {
	op       string
	key      string
	notFound bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.notFound {
		return fmt.Sprintf("%s: %s not found", e.op, e.key)
	}
	return fmt.Sprintf("%s: %s", e.op, e.key)
}

// IsNotFound reports whether the key was absent.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict is always false; memory writes never conflict.
func (e *Error) IsConflict() bool { return false }

// IsUnavailable is always false.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, key string) *Error {
	return &Error{op: op, key: key, notFound: true}
}
