package docasync

import (
	"sync"

	"github.com/kartikbazzad/bunbase/docasync/engine"
	"github.com/kartikbazzad/bunbase/docasync/query"
)

const (
	opGet            = "get document"
	opSave           = "save document"
	opDeleteDocument = "delete document"
	opDeleteDatabase = "delete database"
	opBatch          = "run batch"
	opQuery          = "execute query"
	opAddListener    = "add change listener"
	opRemoveListener = "remove change listener"
	opCreate         = "create document"
	opUpdate         = "update document"
	opClose          = "close database"
)

type handleState int

const (
	stateOpen handleState = iota
	stateClosed
	stateDeleted
)

// Database is a handle on one open engine connection. All methods return
// immediately; the work happens on the client's pool.
type Database struct {
	client *Client
	name   string

	mu       sync.Mutex
	conn     engine.Conn
	state    handleState
	inflight sync.WaitGroup // tasks holding a captured conn
}

func newDatabase(c *Client, name string, conn engine.Conn) *Database {
	return &Database{client: c, name: name, conn: conn}
}

// Name is the database name given to Open.
func (d *Database) Name() string { return d.name }

// stateErr reports why the handle no longer accepts work. d.mu must be held.
func (d *Database) stateErr() error {
	switch d.state {
	case stateDeleted:
		return ErrDatabaseDeleted
	case stateClosed:
		return ErrDatabaseClosed
	}
	return nil
}

// check reports whether the handle still accepts work.
func (d *Database) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateErr()
}

// capture returns the connection for a task being submitted now and marks
// the task in flight until done is called. Tasks submitted before Delete or
// Close keep the connection they captured.
func (d *Database) capture() (conn engine.Conn, done func(), err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stateErr(); err != nil {
		return nil, nil, err
	}
	d.inflight.Add(1)
	return d.conn, d.inflight.Done, nil
}

// withConn submits fn as one task on the handle's connection.
func withConn[T any](d *Database, op string, sink Sink[T], token any, fn func(conn engine.Conn) (T, error)) *Future[T] {
	conn, done, err := d.capture()
	if err != nil {
		return fail(d.client, op, d.name, sink, token, err)
	}
	f, ok := dispatch(d.client, op, d.name, sink, token, func() (T, error) {
		defer done()
		return fn(conn)
	})
	if !ok {
		done()
	}
	return f
}

// release detaches the connection and moves the handle to state. New tasks
// fail from here on; wait blocks until the ones already captured finish.
func (d *Database) release(state handleState) (conn engine.Conn, wait func(), err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stateErr(); err != nil {
		return nil, nil, err
	}
	conn = d.conn
	d.conn = nil
	d.state = state
	return conn, d.inflight.Wait, nil
}

// GetDocument fetches a document. An unknown id succeeds with a nil document.
func (d *Database) GetDocument(id string, sink Sink[*engine.Document], token any) *Future[*engine.Document] {
	return withConn(d, opGet, sink, token, func(conn engine.Conn) (*engine.Document, error) {
		return conn.GetDocument(id)
	})
}

// Save upserts doc. The document is copied before Save returns, so the
// caller may keep mutating it.
func (d *Database) Save(doc *engine.Document, sink Sink[struct{}], token any) *Future[struct{}] {
	doc = doc.Clone()
	return withConn(d, opSave, sink, token, func(conn engine.Conn) (struct{}, error) {
		return struct{}{}, conn.Save(doc)
	})
}

// DeleteDocument removes doc.
func (d *Database) DeleteDocument(doc *engine.Document, sink Sink[struct{}], token any) *Future[struct{}] {
	doc = doc.Clone()
	return withConn(d, opDeleteDocument, sink, token, func(conn engine.Conn) (struct{}, error) {
		return struct{}{}, conn.Delete(doc)
	})
}

// Delete removes the whole database. The handle is unusable from the moment
// Delete returns. Operations already submitted finish on the connection
// before its files are removed.
func (d *Database) Delete(sink Sink[struct{}], token any) *Future[struct{}] {
	conn, wait, err := d.release(stateDeleted)
	if err != nil {
		return fail(d.client, opDeleteDatabase, d.name, sink, token, err)
	}
	return submitAfter(d.client, opDeleteDatabase, d.name, sink, token, wait, func() (struct{}, error) {
		if err := conn.DeleteDatabase(); err != nil {
			return struct{}{}, err
		}
		d.client.log.Info("database deleted", "database", d.name)
		return struct{}{}, nil
	})
}

// Close closes the connection without removing data, once the operations
// already submitted have finished.
func (d *Database) Close(sink Sink[struct{}], token any) *Future[struct{}] {
	conn, wait, err := d.release(stateClosed)
	if err != nil {
		return fail(d.client, opClose, d.name, sink, token, err)
	}
	return submitAfter(d.client, opClose, d.name, sink, token, wait, func() (struct{}, error) {
		return struct{}{}, conn.Close()
	})
}

// ExecuteQuery runs a prebuilt query.
func (d *Database) ExecuteQuery(q engine.Query, sink Sink[[]engine.Row], token any) *Future[[]engine.Row] {
	if q == nil {
		err := d.check()
		if err == nil {
			err = ErrNilQuery
		}
		return fail(d.client, opQuery, d.name, sink, token, err)
	}
	return withConn(d, opQuery, sink, token, func(conn engine.Conn) ([]engine.Row, error) {
		return conn.Execute(q)
	})
}

// Query compiles sel on a worker and runs it.
func (d *Database) Query(sel *query.Select, sink Sink[[]engine.Row], token any) *Future[[]engine.Row] {
	if sel != nil {
		cp := *sel
		sel = &cp
	}
	return withConn(d, opQuery, sink, token, func(conn engine.Conn) ([]engine.Row, error) {
		qc, err := d.client.queryCompiler()
		if err != nil {
			return nil, err
		}
		q, err := qc.Prepare(sel)
		if err != nil {
			return nil, err
		}
		return conn.Execute(q)
	})
}

// AddChangeListener registers l and completes as soon as it is registered.
// l runs on the goroutine that committed the change.
func (d *Database) AddChangeListener(l engine.ChangeListener, sink Sink[engine.ListenerToken], token any) *Future[engine.ListenerToken] {
	if l == nil {
		err := d.check()
		if err == nil {
			err = ErrNilListener
		}
		return fail(d.client, opAddListener, d.name, sink, token, err)
	}
	return withConn(d, opAddListener, sink, token, func(conn engine.Conn) (engine.ListenerToken, error) {
		return conn.AddChangeListener(l), nil
	})
}

// RemoveChangeListener unregisters the listener behind tok.
func (d *Database) RemoveChangeListener(tok engine.ListenerToken, sink Sink[struct{}], token any) *Future[struct{}] {
	return withConn(d, opRemoveListener, sink, token, func(conn engine.Conn) (struct{}, error) {
		conn.RemoveChangeListener(tok)
		return struct{}{}, nil
	})
}

// CreateDocument stores a new document and yields its id. An empty id gets
// a generated one; an id already in use fails with engine.ErrExists.
func (d *Database) CreateDocument(props map[string]any, id string, sink Sink[string], token any) *Future[string] {
	doc := engine.NewDocument(id).Merge(props).Clone()
	return withConn(d, opCreate, sink, token, func(conn engine.Conn) (string, error) {
		err := conn.InBatch(func(tx engine.Tx) error {
			existing, err := tx.GetDocument(doc.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return engine.Wrap("create", d.name, engine.ErrExists)
			}
			return tx.Save(doc)
		})
		if err != nil {
			return "", err
		}
		return doc.ID, nil
	})
}

// UpdateDocument merges props into an existing document. A missing id fails
// with engine.ErrNotFound.
func (d *Database) UpdateDocument(id string, props map[string]any, sink Sink[struct{}], token any) *Future[struct{}] {
	props = engine.NewDocument(id).Merge(props).Clone().Properties
	return withConn(d, opUpdate, sink, token, func(conn engine.Conn) (struct{}, error) {
		return struct{}{}, conn.InBatch(func(tx engine.Tx) error {
			existing, err := tx.GetDocument(id)
			if err != nil {
				return err
			}
			if existing == nil {
				return engine.Wrap("update", d.name, engine.ErrNotFound)
			}
			return tx.Save(existing.Merge(props))
		})
	})
}
