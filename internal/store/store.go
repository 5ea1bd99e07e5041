package store

import (
	"errors"
	"time"
)

// Sentinel errors shared by the stores. Handlers map these onto HTTP status
// codes; none of them is ever retried.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the document.
	ErrForbidden = errors.New("forbidden")
	// ErrTokenMismatch is returned when a supplied execution token does not
	// exactly equal the stored one.
	ErrTokenMismatch = errors.New("execution token mismatch")
	// ErrTerminal is returned when a transition is attempted against a tool
	// run that already left pending.
	ErrTerminal = errors.New("tool run already terminal")
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
