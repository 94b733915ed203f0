// Package pebble implements engine.Engine on cockroachdb/pebble.
//
// Each database is a pebble directory, <directory>/<name>. Documents live
// under the "doc/" key prefix as JSON bodies.
package pebble

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

var docPrefix = []byte("doc/")

func docKey(id string) []byte {
	key := make([]byte, 0, len(docPrefix)+len(id))
	key = append(key, docPrefix...)
	return append(key, id...)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Engine opens pebble-backed databases.
type Engine struct {
	// Options, if set, is copied for every Open.
	Options *pebble.Options
}

// New returns the pebble engine with default options.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string { return "pebble" }

func (e *Engine) Open(name string, cfg engine.Config) (engine.Conn, error) {
	if err := engine.Validate(name, cfg); err != nil {
		return nil, engine.Wrap("open", name, err)
	}
	validator, err := engine.NewValidator(cfg.Schema)
	if err != nil {
		return nil, engine.Wrap("open", name, err)
	}

	opts := &pebble.Options{}
	if e.Options != nil {
		opts = e.Options.Clone()
	}
	path := cfg.Path(name, "")
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, engine.Wrap("open", name, err)
	}

	writeOpts := pebble.NoSync
	if cfg.Sync {
		writeOpts = pebble.Sync
	}

	return &Conn{
		name:      name,
		path:      path,
		db:        db,
		writeOpts: writeOpts,
		validator: validator,
		notifier:  engine.NewNotifier(name),
	}, nil
}

// Conn is an open pebble database.
type Conn struct {
	name      string
	path      string
	writeOpts *pebble.WriteOptions
	validator *engine.Validator
	notifier  *engine.Notifier

	mu sync.RWMutex
	db *pebble.DB // nil once closed
}

func (c *Conn) Name() string { return c.name }

// reader is satisfied by *pebble.DB and indexed batches.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func getDocument(r reader, id string) (*engine.Document, error) {
	val, closer, err := r.Get(docKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// val is only valid until closer.Close
	body := make([]byte, len(val))
	copy(body, val)
	return engine.DecodeDocument(id, body)
}

func (c *Conn) encode(doc *engine.Document) ([]byte, error) {
	if err := engine.CheckDocument(doc); err != nil {
		return nil, err
	}
	if err := c.validator.Check(doc); err != nil {
		return nil, err
	}
	return doc.Encode()
}

func (c *Conn) GetDocument(id string) (*engine.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, engine.Wrap("get", c.name, engine.ErrClosed)
	}
	doc, err := getDocument(c.db, id)
	return doc, engine.Wrap("get", c.name, err)
}

func (c *Conn) Save(doc *engine.Document) error {
	body, err := c.encode(doc)
	if err != nil {
		return engine.Wrap("save", c.name, err)
	}

	c.mu.RLock()
	if c.db == nil {
		c.mu.RUnlock()
		return engine.Wrap("save", c.name, engine.ErrClosed)
	}
	err = c.db.Set(docKey(doc.ID), body, c.writeOpts)
	c.mu.RUnlock()
	if err != nil {
		return engine.Wrap("save", c.name, err)
	}

	c.notifier.Notify(doc.ID)
	return nil
}

func (c *Conn) Delete(doc *engine.Document) error {
	if err := engine.CheckDocument(doc); err != nil {
		return engine.Wrap("delete", c.name, err)
	}

	// Check-then-delete runs in one indexed batch so the existence check and
	// the tombstone commit together.
	err := c.InBatch(func(t engine.Tx) error {
		return t.Delete(doc)
	})
	if err != nil {
		return engine.Wrap("delete", c.name, unwrapBatch(err))
	}
	return nil
}

// unwrapBatch strips the batch-level *engine.Error so single-document
// operations report their own op name.
func unwrapBatch(err error) error {
	var ee *engine.Error
	if errors.As(err, &ee) && ee.Op == "batch" {
		return ee.Err
	}
	return err
}

type tx struct {
	conn    *Conn
	batch   *pebble.Batch
	changed []string
}

func (t *tx) GetDocument(id string) (*engine.Document, error) {
	return getDocument(t.batch, id)
}

func (t *tx) Save(doc *engine.Document) error {
	body, err := t.conn.encode(doc)
	if err != nil {
		return engine.Wrap("save", t.conn.name, err)
	}
	if err := t.batch.Set(docKey(doc.ID), body, nil); err != nil {
		return engine.Wrap("save", t.conn.name, err)
	}
	t.changed = append(t.changed, doc.ID)
	return nil
}

func (t *tx) Delete(doc *engine.Document) error {
	if err := engine.CheckDocument(doc); err != nil {
		return engine.Wrap("delete", t.conn.name, err)
	}
	existing, err := getDocument(t.batch, doc.ID)
	if err != nil {
		return engine.Wrap("delete", t.conn.name, err)
	}
	if existing == nil {
		return engine.Wrap("delete", t.conn.name, engine.ErrNotFound)
	}
	if err := t.batch.Delete(docKey(doc.ID), nil); err != nil {
		return engine.Wrap("delete", t.conn.name, err)
	}
	t.changed = append(t.changed, doc.ID)
	return nil
}

func (c *Conn) InBatch(unit func(engine.Tx) error) error {
	c.mu.RLock()
	if c.db == nil {
		c.mu.RUnlock()
		return engine.Wrap("batch", c.name, engine.ErrClosed)
	}
	batch := c.db.NewIndexedBatch()
	c.mu.RUnlock()
	defer batch.Close()

	t := &tx{conn: c, batch: batch}
	if err := unit(t); err != nil {
		return engine.Wrap("batch", c.name, err)
	}

	c.mu.RLock()
	if c.db == nil {
		c.mu.RUnlock()
		return engine.Wrap("batch", c.name, engine.ErrClosed)
	}
	err := batch.Commit(c.writeOpts)
	c.mu.RUnlock()
	if err != nil {
		return engine.Wrap("batch", c.name, fmt.Errorf("commit: %w", err))
	}

	c.notifier.Notify(t.changed...)
	return nil
}

// Scan implements engine.Source.
func (c *Conn) Scan(fn func(*engine.Document) bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return engine.ErrClosed
	}

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: docPrefix,
		UpperBound: prefixEnd(docPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(docPrefix):])
		body := make([]byte, len(iter.Value()))
		copy(body, iter.Value())
		doc, err := engine.DecodeDocument(id, body)
		if err != nil {
			return err
		}
		if !fn(doc) {
			break
		}
	}
	return iter.Error()
}

func (c *Conn) Execute(q engine.Query) ([]engine.Row, error) {
	if q == nil {
		return nil, engine.Wrap("query", c.name, errors.New("nil query"))
	}
	rows, err := q.Run(c)
	if err != nil {
		return nil, engine.Wrap("query", c.name, err)
	}
	return rows, nil
}

func (c *Conn) AddChangeListener(l engine.ChangeListener) engine.ListenerToken {
	return c.notifier.Add(l)
}

func (c *Conn) RemoveChangeListener(tok engine.ListenerToken) {
	c.notifier.Remove(tok)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return engine.Wrap("close", c.name, err)
}

func (c *Conn) DeleteDatabase() error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()
	if db == nil {
		return engine.Wrap("drop", c.name, engine.ErrClosed)
	}

	if err := db.Close(); err != nil {
		return engine.Wrap("drop", c.name, err)
	}
	if err := os.RemoveAll(c.path); err != nil {
		return engine.Wrap("drop", c.name, err)
	}
	return nil
}
