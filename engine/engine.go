// Package engine defines the synchronous document-database contract that docasync
// runs on its worker pool, plus the pieces shared by the bundled engines.
//
// Every method on Engine, Conn and Tx blocks the calling goroutine. Callers that
// must not block go through the docasync package instead.
package engine

import (
	"path/filepath"
	"strings"
)

// Engine opens named databases.
type Engine interface {
	// Name identifies the implementation ("sqlite", "pebble").
	Name() string

	// Open opens or creates the named database. On error no Conn exists.
	Open(name string, cfg Config) (Conn, error)
}

// Conn is one open database connection.
//
// Implementations must be safe for concurrent use. docasync does not add a lock
// around a connection.
type Conn interface {
	Name() string

	// GetDocument returns the document or (nil, nil) when no document has the id.
	GetDocument(id string) (*Document, error)

	// Save upserts the document.
	Save(doc *Document) error

	// Delete removes the document; ErrNotFound if it does not exist.
	Delete(doc *Document) error

	// InBatch runs unit exactly once inside a transaction. If unit returns an
	// error the transaction is rolled back and the error is returned.
	InBatch(unit func(tx Tx) error) error

	// Execute runs q against the connection's documents.
	Execute(q Query) ([]Row, error)

	// AddChangeListener registers l for every future committed mutation.
	AddChangeListener(l ChangeListener) ListenerToken

	// RemoveChangeListener unregisters a listener; unknown tokens are ignored.
	RemoveChangeListener(tok ListenerToken)

	// DeleteDatabase closes the connection and removes all of its files.
	DeleteDatabase() error

	// Close releases the connection without removing data.
	Close() error
}

// Tx is the write view handed to an InBatch unit of work. It is only valid
// for the duration of the unit.
type Tx interface {
	GetDocument(id string) (*Document, error)
	Save(doc *Document) error
	Delete(doc *Document) error
}

// Row is one query result row.
type Row map[string]any

// Source yields every document of a database in id order until fn returns false.
type Source interface {
	Scan(fn func(doc *Document) bool) error
}

// Query is a prebuilt query. Engines execute it by handing over their Source.
type Query interface {
	Run(src Source) ([]Row, error)
}

// Config configures a database at Open.
type Config struct {
	// Directory holds the database files. Required.
	Directory string `mapstructure:"directory"`

	// Schema is an optional JSON schema every saved document must satisfy.
	Schema string `mapstructure:"schema"`

	// Sync forces an fsync on every commit.
	Sync bool `mapstructure:"sync"`
}

// Validate checks name and cfg the way every bundled engine does before opening.
func Validate(name string, cfg Config) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidName
	}
	if cfg.Directory == "" {
		return ErrInvalidConfig
	}
	return nil
}

// Path returns the location of the named database under cfg.Directory.
func (cfg Config) Path(name, suffix string) string {
	return filepath.Join(cfg.Directory, name+suffix)
}
