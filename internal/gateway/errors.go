package gateway

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/todolimpio-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
)

type Kind string

const (
	KindInvalid     Kind = "invalid"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
)

// Error is returned by every gateway operation that fails.
type Error struct {
	Kind  Kind
	Op    string
	Table Table
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s %s: %s: %v", e.Op, e.Table, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the cause text without the gateway prefix.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func IsKind(err error, kind Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

// ToAPI maps a gateway error onto the public error codes. Non-gateway errors
// pass through untouched.
func ToAPI(err error, message string) error {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return err
	}
	switch gwErr.Kind {
	case KindInvalid:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, message+": "+gwErr.Message())
	case KindNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message+": not found")
	case KindConflict:
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, message+": "+gwErr.Message())
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message+": "+gwErr.Message())
	}
}

func invalid(op string, table Table, format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Op: op, Table: table, Err: fmt.Errorf(format, args...)}
}

// classify wraps a storage error with the matching kind.
func classify(op string, table Table, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return err
	}
	kind := KindUnavailable
	switch {
	case db.IsNotFound(err):
		kind = KindNotFound
	case db.IsUniqueViolation(err, ""):
		kind = KindConflict
	}
	return &Error{Kind: kind, Op: op, Table: table, Err: err}
}
