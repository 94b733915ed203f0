package docasync

import (
	"maps"
	"slices"
	"sync"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

// memEngine is an in-memory engine.Engine with a per-call hook for
// injecting failures, panics and delays.
type memEngine struct {
	mu    sync.Mutex
	conns map[string]*memConn
	hook  func(op string) error
}

func newMemEngine() *memEngine {
	return &memEngine{conns: make(map[string]*memConn)}
}

func (e *memEngine) Name() string { return "memory" }

func (e *memEngine) setHook(h func(op string) error) {
	e.mu.Lock()
	e.hook = h
	e.mu.Unlock()
}

func (e *memEngine) call(op string) error {
	e.mu.Lock()
	h := e.hook
	e.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(op)
}

func (e *memEngine) Open(name string, cfg engine.Config) (engine.Conn, error) {
	if err := engine.Validate(name, cfg); err != nil {
		return nil, err
	}
	if err := e.call("open"); err != nil {
		return nil, err
	}
	c := &memConn{
		eng:      e,
		name:     name,
		docs:     make(map[string]map[string]any),
		notifier: engine.NewNotifier(name),
	}
	e.mu.Lock()
	e.conns[name] = c
	e.mu.Unlock()
	return c, nil
}

type memConn struct {
	eng      *memEngine
	name     string
	notifier *engine.Notifier

	mu     sync.Mutex
	docs   map[string]map[string]any
	closed bool
}

func (c *memConn) Name() string { return c.name }

func (c *memConn) enter(op string) error {
	if err := c.eng.call(op); err != nil {
		return engine.Wrap(op, c.name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.Wrap(op, c.name, engine.ErrClosed)
	}
	return nil
}

func (c *memConn) GetDocument(id string) (*engine.Document, error) {
	if err := c.enter("get"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return read(c.docs, id), nil
}

func read(docs map[string]map[string]any, id string) *engine.Document {
	props, ok := docs[id]
	if !ok {
		return nil
	}
	return (&engine.Document{ID: id, Properties: props}).Clone()
}

func (c *memConn) Save(doc *engine.Document) error {
	return c.InBatch(func(tx engine.Tx) error { return tx.Save(doc) })
}

func (c *memConn) Delete(doc *engine.Document) error {
	return c.InBatch(func(tx engine.Tx) error { return tx.Delete(doc) })
}

type memTx struct {
	name    string
	docs    map[string]map[string]any
	changed []string
}

func (tx *memTx) GetDocument(id string) (*engine.Document, error) {
	return read(tx.docs, id), nil
}

func (tx *memTx) Save(doc *engine.Document) error {
	if err := engine.CheckDocument(doc); err != nil {
		return engine.Wrap("save", tx.name, err)
	}
	tx.docs[doc.ID] = doc.Clone().Properties
	tx.changed = append(tx.changed, doc.ID)
	return nil
}

func (tx *memTx) Delete(doc *engine.Document) error {
	if err := engine.CheckDocument(doc); err != nil {
		return engine.Wrap("delete", tx.name, err)
	}
	if _, ok := tx.docs[doc.ID]; !ok {
		return engine.Wrap("delete", tx.name, engine.ErrNotFound)
	}
	delete(tx.docs, doc.ID)
	tx.changed = append(tx.changed, doc.ID)
	return nil
}

func (c *memConn) InBatch(unit func(engine.Tx) error) error {
	if err := c.enter("batch"); err != nil {
		return err
	}
	c.mu.Lock()
	tx := &memTx{name: c.name, docs: maps.Clone(c.docs)}
	if err := unit(tx); err != nil {
		c.mu.Unlock()
		return err
	}
	c.docs = tx.docs
	c.mu.Unlock()

	slices.Sort(tx.changed)
	c.notifier.Notify(slices.Compact(tx.changed)...)
	return nil
}

func (c *memConn) Scan(fn func(*engine.Document) bool) error {
	c.mu.Lock()
	ids := slices.Sorted(maps.Keys(c.docs))
	docs := make([]*engine.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, read(c.docs, id))
	}
	c.mu.Unlock()
	for _, d := range docs {
		if !fn(d) {
			break
		}
	}
	return nil
}

func (c *memConn) Execute(q engine.Query) ([]engine.Row, error) {
	if err := c.enter("query"); err != nil {
		return nil, err
	}
	return q.Run(c)
}

func (c *memConn) AddChangeListener(l engine.ChangeListener) engine.ListenerToken {
	return c.notifier.Add(l)
}

func (c *memConn) RemoveChangeListener(tok engine.ListenerToken) {
	c.notifier.Remove(tok)
}

func (c *memConn) DeleteDatabase() error {
	if err := c.enter("delete database"); err != nil {
		return err
	}
	c.mu.Lock()
	c.closed = true
	c.docs = nil
	c.mu.Unlock()
	return nil
}

func (c *memConn) Close() error {
	if err := c.enter("close"); err != nil {
		return err
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
