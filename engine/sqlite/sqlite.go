// Package sqlite implements engine.Engine on modernc.org/sqlite.
//
// Each database is one file, <directory>/<name>.sqlite, holding a single
// documents table with JSON bodies.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kartikbazzad/bunbase/docasync/engine"

	_ "modernc.org/sqlite"
)

const (
	fileSuffix = ".sqlite"

	schemaSQL = `CREATE TABLE IF NOT EXISTS documents (
		id   TEXT PRIMARY KEY,
		body TEXT NOT NULL
	)`
	getSQL    = `SELECT body FROM documents WHERE id = ?`
	upsertSQL = `INSERT INTO documents (id, body) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body`
	deleteSQL = `DELETE FROM documents WHERE id = ?`
	scanSQL   = `SELECT id, body FROM documents ORDER BY id`
)

// Engine opens sqlite-backed databases.
type Engine struct{}

// New returns the sqlite engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string { return "sqlite" }

func (e *Engine) Open(name string, cfg engine.Config) (engine.Conn, error) {
	if err := engine.Validate(name, cfg); err != nil {
		return nil, engine.Wrap("open", name, err)
	}
	validator, err := engine.NewValidator(cfg.Schema)
	if err != nil {
		return nil, engine.Wrap("open", name, err)
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, engine.Wrap("open", name, fmt.Errorf("create directory: %w", err))
	}

	path := cfg.Path(name, fileSuffix)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if cfg.Sync {
		dsn += "&_pragma=synchronous(FULL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engine.Wrap("open", name, err)
	}
	// One writer at a time; sqlite serializes writers anyway and a single
	// connection avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, engine.Wrap("open", name, fmt.Errorf("init schema: %w", err))
	}

	return &Conn{
		name:      name,
		path:      path,
		db:        db,
		validator: validator,
		notifier:  engine.NewNotifier(name),
	}, nil
}

// Conn is an open sqlite database.
type Conn struct {
	name      string
	path      string
	validator *engine.Validator
	notifier  *engine.Notifier

	mu sync.RWMutex
	db *sql.DB // nil once closed
}

func (c *Conn) Name() string { return c.name }

func (c *Conn) handle() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, engine.ErrClosed
	}
	return c.db, nil
}

// querier is the subset of *sql.DB and *sql.Tx the document helpers need.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func getDocument(q querier, id string) (*engine.Document, error) {
	var body []byte
	err := q.QueryRow(getSQL, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return engine.DecodeDocument(id, body)
}

func (c *Conn) saveDocument(q querier, doc *engine.Document) error {
	if err := engine.CheckDocument(doc); err != nil {
		return err
	}
	if err := c.validator.Check(doc); err != nil {
		return err
	}
	body, err := doc.Encode()
	if err != nil {
		return err
	}
	_, err = q.Exec(upsertSQL, doc.ID, string(body))
	return err
}

func deleteDocument(q querier, doc *engine.Document) error {
	if err := engine.CheckDocument(doc); err != nil {
		return err
	}
	res, err := q.Exec(deleteSQL, doc.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (c *Conn) GetDocument(id string) (*engine.Document, error) {
	db, err := c.handle()
	if err != nil {
		return nil, engine.Wrap("get", c.name, err)
	}
	doc, err := getDocument(db, id)
	return doc, engine.Wrap("get", c.name, err)
}

func (c *Conn) Save(doc *engine.Document) error {
	db, err := c.handle()
	if err != nil {
		return engine.Wrap("save", c.name, err)
	}
	if err := c.saveDocument(db, doc); err != nil {
		return engine.Wrap("save", c.name, err)
	}
	c.notifier.Notify(doc.ID)
	return nil
}

func (c *Conn) Delete(doc *engine.Document) error {
	db, err := c.handle()
	if err != nil {
		return engine.Wrap("delete", c.name, err)
	}
	if err := deleteDocument(db, doc); err != nil {
		return engine.Wrap("delete", c.name, err)
	}
	c.notifier.Notify(doc.ID)
	return nil
}

// tx adapts a *sql.Tx to engine.Tx and records touched ids for one Change.
type tx struct {
	conn    *Conn
	sqlTx   *sql.Tx
	changed []string
}

func (t *tx) GetDocument(id string) (*engine.Document, error) {
	return getDocument(t.sqlTx, id)
}

func (t *tx) Save(doc *engine.Document) error {
	if err := t.conn.saveDocument(t.sqlTx, doc); err != nil {
		return engine.Wrap("save", t.conn.name, err)
	}
	t.changed = append(t.changed, doc.ID)
	return nil
}

func (t *tx) Delete(doc *engine.Document) error {
	if err := deleteDocument(t.sqlTx, doc); err != nil {
		return engine.Wrap("delete", t.conn.name, err)
	}
	t.changed = append(t.changed, doc.ID)
	return nil
}

func (c *Conn) InBatch(unit func(engine.Tx) error) error {
	db, err := c.handle()
	if err != nil {
		return engine.Wrap("batch", c.name, err)
	}
	sqlTx, err := db.Begin()
	if err != nil {
		return engine.Wrap("batch", c.name, fmt.Errorf("begin: %w", err))
	}

	// No-op after Commit. Frees the connection if unit panics.
	defer sqlTx.Rollback()

	t := &tx{conn: c, sqlTx: sqlTx}
	if err := unit(t); err != nil {
		return engine.Wrap("batch", c.name, err)
	}
	if err := sqlTx.Commit(); err != nil {
		return engine.Wrap("batch", c.name, fmt.Errorf("commit: %w", err))
	}

	c.notifier.Notify(t.changed...)
	return nil
}

// Scan implements engine.Source.
func (c *Conn) Scan(fn func(*engine.Document) bool) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	rows, err := db.Query(scanSQL)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return err
		}
		doc, err := engine.DecodeDocument(id, body)
		if err != nil {
			return err
		}
		if !fn(doc) {
			break
		}
	}
	return rows.Err()
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
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(c.path + suffix); err != nil && !os.IsNotExist(err) {
			return engine.Wrap("drop", c.name, err)
		}
	}
	return nil
}
