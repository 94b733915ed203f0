package docasync

import (
	"fmt"
	"time"
)

// submit runs fn as one background task and returns its future. Whatever
// happens, including a closed pool, the future resolves exactly once and the
// sink, if any, hears about it exactly once through the dispatcher.
func submit[T any](c *Client, op, db string, sink Sink[T], token any, fn func() (T, error)) *Future[T] {
	f, _ := dispatch(c, op, db, sink, token, fn)
	return f
}

// dispatch is submit that also reports whether the pool accepted fn. When it
// did not, the error outcome has already been delivered and fn never runs.
func dispatch[T any](c *Client, op, db string, sink Sink[T], token any, fn func() (T, error)) (*Future[T], bool) {
	f := newFuture[T](token)
	return f, enqueue(c, f, op, db, sink, token, time.Now(), fn)
}

// submitAfter is submit with fn queued only once wait returns. The wait runs
// on its own goroutine so it never holds a worker that another task needs.
func submitAfter[T any](c *Client, op, db string, sink Sink[T], token any, wait func(), fn func() (T, error)) *Future[T] {
	f := newFuture[T](token)
	start := time.Now()
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		wait()
		enqueue(c, f, op, db, sink, token, start, fn)
	}()
	return f
}

func enqueue[T any](c *Client, f *Future[T], op, db string, sink Sink[T], token any, start time.Time, fn func() (T, error)) bool {
	c.metrics.TaskSubmitted(op)
	c.tasks.Add(1)
	err := c.pool.Submit(func() {
		defer c.tasks.Done()
		v, err := run(fn)
		deliver(c, f, op, db, sink, token, v, err, start)
	})
	if err != nil {
		var zero T
		deliver(c, f, op, db, sink, token, zero, err, start)
		c.tasks.Done()
		return false
	}
	return true
}

// fail delivers err without touching the pool.
func fail[T any](c *Client, op, db string, sink Sink[T], token any, err error) *Future[T] {
	f := newFuture[T](token)
	c.metrics.TaskSubmitted(op)
	var zero T
	deliver(c, f, op, db, sink, token, zero, err, time.Now())
	return f
}

func run[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func deliver[T any](c *Client, f *Future[T], op, db string, sink Sink[T], token any, v T, err error, start time.Time) {
	elapsed := time.Since(start)
	if err != nil {
		err = &TaskError{Op: op, Database: db, Err: err}
		c.log.Error("task failed", "op", op, "database", db, "duration", elapsed, "error", err)
		var zero T
		v = zero
	} else {
		c.log.Debug("task complete", "op", op, "database", db, "duration", elapsed)
	}
	c.metrics.TaskFinished(op, err, elapsed)

	if !f.resolve(Outcome[T]{Value: v, Err: err, Context: token}) || sink == nil {
		return
	}
	if err != nil {
		msg := err.Error()
		c.dispatcher.Post(func() { sink.OnError(msg, token) })
		return
	}
	c.dispatcher.Post(func() { sink.OnComplete(v, token) })
}
