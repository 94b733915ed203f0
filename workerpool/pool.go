// Package workerpool runs background work on a fixed set of goroutines.
//
// Pool provides:
//   - A fixed worker count (default 2 * NumCPU) backed by ants
//   - An unbounded FIFO intake: Submit never blocks and never rejects
//   - Panic isolation: a panicking item is logged, the worker survives
//   - Graceful shutdown: queued work drains before workers are released
//
// Thread Safety: all methods are safe for concurrent use.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrNilTask is returned when Submit is given a nil function.
	ErrNilTask = errors.New("nil task")
)

// DefaultExpiry is how long an idle worker goroutine lives before ants reaps it.
const DefaultExpiry = 60 * time.Second

// Options configures a Pool. Zero values select defaults.
type Options struct {
	Size           int           `mapstructure:"size"`
	ExpiryDuration time.Duration `mapstructure:"expiry"`
	PreAlloc       bool          `mapstructure:"prealloc"`

	Logger *slog.Logger `mapstructure:"-"`
	// OnPanic runs after a work item panics, on the worker that recovered it.
	OnPanic func(recovered any) `mapstructure:"-"`
}

// DefaultSize is twice the number of CPUs.
func DefaultSize() int {
	return 2 * runtime.NumCPU()
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = DefaultSize()
	}
	if o.ExpiryDuration <= 0 {
		o.ExpiryDuration = DefaultExpiry
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Pool is a fixed-size worker pool with an unbounded queue in front of it.
type Pool struct {
	workers *ants.Pool
	log     *slog.Logger
	onPanic func(any)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	feederDone  chan struct{} // closed when the feeder goroutine exits
	inflight    sync.WaitGroup
	releaseOnce sync.Once
}

// New starts a pool. The feeder goroutine lives until Shutdown.
func New(opts Options) (*Pool, error) {
	opts = opts.withDefaults()

	p := &Pool{
		log:        opts.Logger.With("component", "workerpool"),
		onPanic:    opts.OnPanic,
		feederDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	workers, err := ants.NewPool(opts.Size,
		ants.WithExpiryDuration(opts.ExpiryDuration),
		ants.WithPreAlloc(opts.PreAlloc),
		ants.WithPanicHandler(p.recovered),
	)
	if err != nil {
		return nil, fmt.Errorf("workerpool: %w", err)
	}
	p.workers = workers

	go p.feed()
	return p, nil
}

func (p *Pool) recovered(v any) {
	p.log.Error("work item panicked", "panic", v)
	if p.onPanic != nil {
		p.onPanic(v)
	}
}

// Submit queues fn and returns immediately.
func (p *Pool) Submit(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, fn)
	p.cond.Signal()
	return nil
}

// feed moves queued work onto ants workers in FIFO order. Blocking in
// ants.Submit only ever stalls this goroutine, never a caller of Submit.
func (p *Pool) feed() {
	defer close(p.feederDone)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.inflight.Add(1)
		item := func() {
			defer p.inflight.Done()
			fn()
		}
		if err := p.workers.Submit(item); err != nil {
			// ants only refuses once released; keep the item alive anyway.
			p.log.Warn("ants rejected work item, running detached", "error", err)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						p.recovered(r)
					}
				}()
				item()
			}()
		}
	}
}

// Pending is the number of items waiting for a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	n := len(p.queue)
	p.mu.Unlock()
	return n + p.workers.Waiting()
}

// Running is the number of workers currently busy.
func (p *Pool) Running() int {
	return p.workers.Running()
}

// Cap is the worker count.
func (p *Pool) Cap() int {
	return p.workers.Cap()
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Shutdown stops intake and waits for every queued and running item to
// finish. Items are never cancelled; ctx only bounds the wait. Workers are
// released either way.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.log.Info("shutting down", "pending", len(p.queue))
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		<-p.feederDone
		p.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		p.log.Warn("shutdown timed out before queue drained", "error", err)
	}

	p.releaseOnce.Do(p.workers.Release)
	return err
}
