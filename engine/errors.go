package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when deleting or updating a document that does not exist.
	// GetDocument never returns it; absence is reported as a nil document.
	ErrNotFound = errors.New("document not found")

	// ErrExists is returned when creating a document whose id is already taken
	ErrExists = errors.New("document already exists")

	// ErrClosed is returned when operating on a closed or deleted connection
	ErrClosed = errors.New("database is closed")

	// ErrInvalidConfig is returned by Open when the configuration cannot be used
	ErrInvalidConfig = errors.New("invalid database configuration")

	// ErrInvalidName is returned by Open for empty names or names containing path separators
	ErrInvalidName = errors.New("invalid database name")

	// ErrInvalidDocument is returned when a document is nil or has no id
	ErrInvalidDocument = errors.New("invalid document")

	// ErrSchema is returned when a document does not satisfy the configured JSON schema
	ErrSchema = errors.New("document does not match schema")
)

// Error is the single error type surfaced by engine implementations.
type Error struct {
	Op       string // open, get, save, delete, batch, query, drop, close
	Database string
	Err      error
}

func (e *Error) Error() string {
	if e.Database == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Database, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error, leaving nil and already-wrapped errors untouched.
func Wrap(op, database string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Op: op, Database: database, Err: err}
}
