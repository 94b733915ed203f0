package docasync

import (
	"context"
	"sync"
)

// Sink receives the single terminal outcome of an operation. Its methods run
// on the client's Dispatcher, never on a worker. Client.Close waits until
// every sink of a submitted operation has been posted. A caller-supplied
// Dispatcher that stops accepting callbacks before then loses them.
type Sink[T any] interface {
	OnComplete(result T, context any)
	OnError(message string, context any)
}

// SinkFuncs adapts two functions to a Sink. Either may be nil.
type SinkFuncs[T any] struct {
	Complete func(result T, context any)
	Error    func(message string, context any)
}

func (s SinkFuncs[T]) OnComplete(result T, context any) {
	if s.Complete != nil {
		s.Complete(result, context)
	}
}

func (s SinkFuncs[T]) OnError(message string, context any) {
	if s.Error != nil {
		s.Error(message, context)
	}
}

// Outcome is the terminal result of an operation: a value or an error,
// never both, plus the caller's context token.
type Outcome[T any] struct {
	Value   T
	Err     error
	Context any
}

// OK reports whether the operation succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// Message is the error text handed to Sink.OnError, or "" on success.
func (o Outcome[T]) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Future is resolved exactly once with an operation's Outcome.
type Future[T any] struct {
	token   any
	once    sync.Once
	done    chan struct{}
	outcome Outcome[T]
}

func newFuture[T any](token any) *Future[T] {
	return &Future[T]{token: token, done: make(chan struct{})}
}

// resolve reports whether this call won; later calls are ignored.
func (f *Future[T]) resolve(o Outcome[T]) bool {
	won := false
	f.once.Do(func() {
		f.outcome = o
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the outcome is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Context returns the token passed with the operation.
func (f *Future[T]) Context() any { return f.token }

// Await blocks until the outcome is available or ctx ends. Giving up on ctx
// does not cancel the operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.outcome.Value, f.outcome.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Outcome polls without blocking.
func (f *Future[T]) Outcome() (Outcome[T], bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return Outcome[T]{}, false
	}
}
