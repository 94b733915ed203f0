package workerpool

import (
	"context"
	"fmt"
	"sync"
)

var (
	sharedMu sync.Mutex
	shared   *Pool
)

// Init builds the process-wide pool with opts. Once a pool exists later
// calls return it and ignore opts.
func Init(opts Options) (*Pool, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}
	p, err := New(opts)
	if err != nil {
		return nil, err
	}
	shared = p
	return p, nil
}

// Shared returns the process-wide pool, building it with defaults on first use.
func Shared() *Pool {
	p, err := Init(Options{})
	if err != nil {
		// Only reachable if ants refuses a positive size.
		panic(fmt.Sprintf("workerpool: build shared pool: %v", err))
	}
	return p
}

// ShutdownShared drains and releases the process-wide pool. The next Shared
// or Init call builds a fresh one.
func ShutdownShared(ctx context.Context) error {
	sharedMu.Lock()
	p := shared
	shared = nil
	sharedMu.Unlock()

	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}
