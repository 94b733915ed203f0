package docasync

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs completion callbacks on the caller's side. Post must not
// block, and callbacks posted to one Dispatcher run one at a time.
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Post(fn func()) { f(fn) }

// Loop is an unbounded message loop. Callbacks run on whichever goroutine
// calls Run or RunPending.
type Loop struct {
	log *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

// NewLoop returns an open loop. A nil logger uses slog.Default.
func NewLoop(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:     log.With("component", "dispatcher"),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post queues fn. After Close the callback is dropped with a warning; a
// client-owned loop is only closed once its tasks have all posted.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("callback posted to closed loop dropped")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RunPending runs the callbacks queued at the time of the call and returns
// how many ran.
func (l *Loop) RunPending() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		l.call(fn)
	}
	return len(batch)
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("completion callback panicked", "panic", r)
		}
	}()
	fn()
}

// Run processes callbacks until ctx ends or the loop is closed. On Close it
// finishes what was queued before returning nil.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopped:
			l.RunPending()
			return nil
		case <-l.wake:
		}
	}
}

// Len is the number of queued callbacks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops intake. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.stopped)
	}
}
