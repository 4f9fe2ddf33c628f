package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorClass uint8

const (
	classOther errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

// classByCode maps gRPC codes onto the repositories.RepositoryError predicates. Aborted counts as a
// conflict since it is what an exhausted transaction retry loop surfaces.
var classByCode = map[codes.Code]errorClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.OutOfRange:         classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
	codes.DeadlineExceeded:   classUnavailable,
}

// Error is the repositories.RepositoryError for Firestore backed stores.
type Error struct {
	op    string
	err   error
	class errorClass
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.class == classNotFound }

// IsConflict reports a lost write race or violated precondition.
func (e *Error) IsConflict() bool { return e != nil && e.class == classConflict }

// IsUnavailable reports a transient backend failure worth retrying.
func (e *Error) IsUnavailable() bool { return e != nil && e.class == classUnavailable }

// NewNotFound reports a document that is logically absent, such as an unknown coupon code or a
// guest order whose contact details do not match.
func NewNotFound(op, msg string) *Error {
	return &Error{op: op, err: errors.New(msg), class: classNotFound}
}

// WrapError tags err with op and a class derived from its gRPC status. Cancellation is returned as
// the plain context error so handlers can tell it apart from backend failures.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, err: err, class: classByCode[code]}
}
