package docasync

import (
	"errors"

	"github.com/kartikbazzad/bunbase/docasync/workerpool"
)

var (
	// ErrDatabaseDeleted is returned by operations issued on a handle after Delete.
	ErrDatabaseDeleted = errors.New("database has been deleted")

	// ErrDatabaseClosed is returned by operations issued on a handle after Close.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrPoolClosed is returned when the worker pool no longer accepts work.
	ErrPoolClosed = workerpool.ErrPoolClosed

	// ErrPanic wraps a value recovered from a panicking engine call.
	ErrPanic = errors.New("engine call panicked")

	ErrNilQuery    = errors.New("nil query")
	ErrNilListener = errors.New("nil change listener")
	ErrNilDocument = errors.New("nil document")
	ErrBadAction   = errors.New("unknown batch action")
)

// TaskError is the error outcome of one background operation.
type TaskError struct {
	Op       string // "open database", "save document", ...
	Database string
	Err      error
}

func (e *TaskError) Error() string {
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
