// Package apperr defines the error taxonomy shared by the organizer packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Kind classifies an error by how far its damage reaches.
type Kind string

const (
	KindConfig             Kind = "CONFIG"
	KindIO                 Kind = "IO"
	KindHash               Kind = "HASH"
	KindConflictUnresolved Kind = "CONFLICT_UNRESOLVED"
	KindJournalWrite       Kind = "JOURNAL_WRITE"
	KindJournalCorruption  Kind = "JOURNAL_CORRUPTION"
)

// Kind sentinels for errors.Is matching.
var (
	ErrConfig             = &Error{Kind: KindConfig}
	ErrIO                 = &Error{Kind: KindIO}
	ErrHash               = &Error{Kind: KindHash}
	ErrConflictUnresolved = &Error{Kind: KindConflictUnresolved}
	ErrJournalWrite       = &Error{Kind: KindJournalWrite}
	ErrJournalCorruption  = &Error{Kind: KindJournalCorruption}
)

// Error is a coded error carrying the operation and path it concerns.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s]: %v", msg, e.Err)
	}
	return "[" + msg + "]"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New wraps err with kind, op and path. It returns nil when err is nil.
func New(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Newf builds a coded error from a format string.
func Newf(kind Kind, op, path, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first coded error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFatal reports whether err must abort the whole run instead of a single candidate.
// Journal durability and corruption errors cannot be handled locally.
func IsFatal(err error) bool {
	return errors.Is(err, ErrJournalWrite) || errors.Is(err, ErrJournalCorruption)
}
