// Package docasync runs a synchronous document database in the background.
//
// Every blocking engine call (open, get, save, delete, batch, query,
// listener registration, database deletion) becomes one task on a shared
// worker pool. The caller gets a Future right away; the result arrives on
// the Future and, when a Sink is given, as exactly one OnComplete or OnError
// call delivered through the client's Dispatcher.
//
//	client := docasync.NewClient(sqlite.New())
//	defer client.Close()
//
//	db, err := client.Open("app", engine.Config{Directory: dir}, nil, nil).Await(ctx)
//	...
//	db.Save(engine.NewDocument("d1").Set("n", 1), sink, "save-d1")
//
// Tasks on one handle have no ordering between them. Use InBatch when
// writes must apply in order.
package docasync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kartikbazzad/bunbase/docasync/engine"
	"github.com/kartikbazzad/bunbase/docasync/query"
	"github.com/kartikbazzad/bunbase/docasync/workerpool"
)

const opOpen = "open database"

// Client binds an engine to a worker pool and a dispatcher.
type Client struct {
	eng        engine.Engine
	pool       *workerpool.Pool
	dispatcher Dispatcher
	log        *slog.Logger
	metrics    Recorder
	compiler   *query.Compiler

	loop     *Loop // owned; nil when WithDispatcher was given
	loopDone chan struct{}

	tasks sync.WaitGroup // submitted and not yet delivered
}

// NewClient returns a client for eng. Without WithPool it uses
// workerpool.Shared; without WithDispatcher it starts its own Loop.
func NewClient(eng engine.Engine, opts ...Option) *Client {
	c := &Client{eng: eng}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("engine", eng.Name())
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	if c.pool == nil {
		c.pool = workerpool.Shared()
	}
	if c.dispatcher == nil {
		c.loop = NewLoop(c.log)
		c.loopDone = make(chan struct{})
		c.dispatcher = c.loop
		go func() {
			defer close(c.loopDone)
			c.loop.Run(context.Background())
		}()
	}
	return c
}

// Engine returns the wrapped engine.
func (c *Client) Engine() engine.Engine { return c.eng }

// Pool returns the pool tasks run on.
func (c *Client) Pool() *workerpool.Pool { return c.pool }

// Open opens or creates the named database on a worker. A failed open
// produces no handle.
func (c *Client) Open(name string, cfg engine.Config, sink Sink[*Database], token any) *Future[*Database] {
	return submit(c, opOpen, name, sink, token, func() (*Database, error) {
		conn, err := c.eng.Open(name, cfg)
		if err != nil {
			return nil, err
		}
		c.log.Info("database opened", "database", name, "directory", cfg.Directory)
		return newDatabase(c, name, conn), nil
	})
}

// Close waits for every submitted task to deliver its outcome, then stops
// the client-owned dispatcher once it has run every posted callback. It does
// not close databases or the pool. No operation may be submitted during or
// after Close.
func (c *Client) Close() {
	c.tasks.Wait()
	if c.loop == nil {
		return
	}
	c.loop.Close()
	<-c.loopDone
}

func (c *Client) queryCompiler() (*query.Compiler, error) {
	if c.compiler != nil {
		return c.compiler, nil
	}
	return query.Default()
}
