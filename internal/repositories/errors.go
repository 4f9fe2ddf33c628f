package repositories

import "fmt"

type notFoundError struct {
	op  string
	msg string
}

// NewNotFoundError builds a RepositoryError for backends without their own error type.
func NewNotFoundError(op string, msg string) RepositoryError {
	return &notFoundError{op: op, msg: msg}
}

func (e *notFoundError) Error() string {
	if e.op == "" {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }
