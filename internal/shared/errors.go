package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable, machine-readable classification of a failure.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindConflict      Kind = "ConflictError"
	KindSequence      Kind = "SequenceError"
	KindAuthorization Kind = "AuthorizationError"
	KindSourceData    Kind = "SourceDataError"
	KindIntegrity     Kind = "IntegrityError"
	KindPrecondition  Kind = "PreconditionError"
	KindDuplicate     Kind = "DuplicateError"
	KindSnapshot      Kind = "SnapshotError"
	KindNotFound      Kind = "NotFoundError"
	KindInternal      Kind = "InternalError"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("not found")

// ErrLockNotObtained is returned when a critical section is already held elsewhere.
var ErrLockNotObtained = errors.New("lock not obtained")

// Error is the tagged result returned across the service boundary.
type Error struct {
	Kind   Kind
	Op     string
	Module string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Module != "" {
		b.WriteString(" [")
		b.WriteString(e.Module)
		b.WriteString("]")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// SnapshotFailed reports the module whose snapshot aborted a period close.
func SnapshotFailed(op, module string, err error) *Error {
	return &Error{Kind: KindSnapshot, Op: op, Module: module, Err: err}
}

// KindOf returns the outermost kind in err's chain, KindInternal when untagged.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// IsKind reports whether any error in err's chain carries kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var tagged *Error
		if !errors.As(err, &tagged) {
			return kind == KindNotFound && errors.Is(err, ErrNotFound)
		}
		if tagged.Kind == kind {
			return true
		}
		err = tagged.Err
	}
	return false
}

// ModuleOf returns the module recorded on the outermost tagged error, if any.
func ModuleOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Module
	}
	return ""
}
