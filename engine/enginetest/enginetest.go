// Package enginetest holds the behaviour every engine.Engine must share.
// Engine packages call Run from their own tests.
package enginetest

import (
	"errors"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

// rowsQuery returns every document as {"_id": id, props...}.
type rowsQuery struct{}

func (rowsQuery) Run(src engine.Source) ([]engine.Row, error) {
	var rows []engine.Row
	err := src.Scan(func(doc *engine.Document) bool {
		row := engine.Row{"_id": doc.ID}
		for k, v := range doc.Properties {
			row[k] = v
		}
		rows = append(rows, row)
		return true
	})
	return rows, err
}

func open(t *testing.T, eng engine.Engine, cfg engine.Config) engine.Conn {
	t.Helper()
	conn, err := eng.Open("suite", cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Run exercises eng against a fresh directory per subtest.
func Run(t *testing.T, eng engine.Engine) {
	t.Run("OpenInvalidConfig", func(t *testing.T) {
		if _, err := eng.Open("suite", engine.Config{}); !errors.Is(err, engine.ErrInvalidConfig) {
			t.Errorf("Open without directory = %v, want ErrInvalidConfig", err)
		}
		if _, err := eng.Open("", engine.Config{Directory: t.TempDir()}); !errors.Is(err, engine.ErrInvalidName) {
			t.Errorf("Open with empty name = %v, want ErrInvalidName", err)
		}
		_, err := eng.Open("suite", engine.Config{Directory: t.TempDir(), Schema: "{"})
		if !errors.Is(err, engine.ErrInvalidConfig) {
			t.Errorf("Open with broken schema = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("SaveGet", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})

		doc := engine.NewDocument("d1").Set("name", "alice").Set("age", 30)
		if err := conn.Save(doc); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := conn.GetDocument("d1")
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if got == nil || got.Properties["name"] != "alice" || got.Properties["age"] != 30.0 {
			t.Fatalf("GetDocument = %+v", got)
		}

		doc.Set("age", 31)
		if err := conn.Save(doc); err != nil {
			t.Fatalf("Save (update): %v", err)
		}
		got, _ = conn.GetDocument("d1")
		if got.Properties["age"] != 31.0 {
			t.Errorf("age after upsert = %v, want 31", got.Properties["age"])
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		got, err := conn.GetDocument("nope")
		if err != nil || got != nil {
			t.Errorf("GetDocument(missing) = (%v, %v), want (nil, nil)", got, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		doc := engine.NewDocument("d1").Set("x", 1)
		if err := conn.Save(doc); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := conn.Delete(doc); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if got, _ := conn.GetDocument("d1"); got != nil {
			t.Errorf("document still present after Delete: %+v", got)
		}
		err := conn.Delete(doc)
		if !errors.Is(err, engine.ErrNotFound) {
			t.Errorf("second Delete = %v, want ErrNotFound", err)
		}
		var ee *engine.Error
		if !errors.As(err, &ee) || ee.Op != "delete" {
			t.Errorf("Delete error = %#v, want *engine.Error op=delete", err)
		}
	})

	t.Run("InvalidDocument", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		if err := conn.Save(nil); !errors.Is(err, engine.ErrInvalidDocument) {
			t.Errorf("Save(nil) = %v, want ErrInvalidDocument", err)
		}
		if err := conn.Save(&engine.Document{}); !errors.Is(err, engine.ErrInvalidDocument) {
			t.Errorf("Save(no id) = %v, want ErrInvalidDocument", err)
		}
	})

	t.Run("Schema", func(t *testing.T) {
		conn := open(t, eng, engine.Config{
			Directory: t.TempDir(),
			Schema:    `{"type":"object","required":["name"]}`,
		})
		if err := conn.Save(engine.NewDocument("ok").Set("name", "a")); err != nil {
			t.Errorf("valid Save: %v", err)
		}
		if err := conn.Save(engine.NewDocument("bad")); !errors.Is(err, engine.ErrSchema) {
			t.Errorf("invalid Save = %v, want ErrSchema", err)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		if err := conn.Save(engine.NewDocument("old").Set("v", 1)); err != nil {
			t.Fatalf("Save: %v", err)
		}

		var changes []engine.Change
		var mu sync.Mutex
		conn.AddChangeListener(func(c engine.Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})

		err := conn.InBatch(func(tx engine.Tx) error {
			if err := tx.Save(engine.NewDocument("new").Set("v", 2)); err != nil {
				return err
			}
			// The batch sees its own writes.
			if got, err := tx.GetDocument("new"); err != nil || got == nil {
				t.Errorf("tx.GetDocument(new) = (%v, %v)", got, err)
			}
			return tx.Delete(engine.NewDocument("old"))
		})
		if err != nil {
			t.Fatalf("InBatch: %v", err)
		}

		if got, _ := conn.GetDocument("new"); got == nil {
			t.Error("batched save not visible after commit")
		}
		if got, _ := conn.GetDocument("old"); got != nil {
			t.Error("batched delete not applied")
		}

		mu.Lock()
		defer mu.Unlock()
		if len(changes) != 1 {
			t.Fatalf("got %d change notifications, want 1 per batch", len(changes))
		}
		ids := append([]string(nil), changes[0].DocumentIDs...)
		sort.Strings(ids)
		if len(ids) != 2 || ids[0] != "new" || ids[1] != "old" {
			t.Errorf("change ids = %v, want [new old]", ids)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		boom := errors.New("boom")
		err := conn.InBatch(func(tx engine.Tx) error {
			if err := tx.Save(engine.NewDocument("ghost")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InBatch = %v, want boom", err)
		}
		if got, _ := conn.GetDocument("ghost"); got != nil {
			t.Error("rolled back save is visible")
		}
	})

	t.Run("ExecuteScansInIDOrder", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		for _, id := range []string{"c", "a", "b"} {
			if err := conn.Save(engine.NewDocument(id).Set("id", id)); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		rows, err := conn.Execute(rowsQuery{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("got %d rows, want 3", len(rows))
		}
		for i, want := range []string{"a", "b", "c"} {
			if rows[i]["_id"] != want {
				t.Errorf("rows[%d]._id = %v, want %s", i, rows[i]["_id"], want)
			}
		}
	})

	t.Run("ChangeListener", func(t *testing.T) {
		conn := open(t, eng, engine.Config{Directory: t.TempDir()})
		var got []string
		var mu sync.Mutex
		tok := conn.AddChangeListener(func(c engine.Change) {
			mu.Lock()
			got = append(got, c.DocumentIDs...)
			mu.Unlock()
		})

		conn.Save(engine.NewDocument("d1"))
		conn.RemoveChangeListener(tok)
		conn.Save(engine.NewDocument("d2"))

		mu.Lock()
		defer mu.Unlock()
		if len(got) != 1 || got[0] != "d1" {
			t.Errorf("listener saw %v, want [d1]", got)
		}
	})

	t.Run("Reopen", func(t *testing.T) {
		cfg := engine.Config{Directory: t.TempDir()}
		conn, err := eng.Open("suite", cfg)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := conn.Save(engine.NewDocument("kept").Set("v", 1)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := conn.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, err := conn.GetDocument("kept"); !errors.Is(err, engine.ErrClosed) {
			t.Errorf("GetDocument after Close = %v, want ErrClosed", err)
		}

		conn = open(t, eng, cfg)
		if got, _ := conn.GetDocument("kept"); got == nil {
			t.Error("document lost across reopen")
		}
	})

	t.Run("DeleteDatabase", func(t *testing.T) {
		dir := t.TempDir()
		conn, err := eng.Open("suite", engine.Config{Directory: dir})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		conn.Save(engine.NewDocument("d1"))
		if err := conn.DeleteDatabase(); err != nil {
			t.Fatalf("DeleteDatabase: %v", err)
		}
		if err := conn.Save(engine.NewDocument("d2")); !errors.Is(err, engine.ErrClosed) {
			t.Errorf("Save after DeleteDatabase = %v, want ErrClosed", err)
		}
		if err := conn.DeleteDatabase(); !errors.Is(err, engine.ErrClosed) {
			t.Errorf("second DeleteDatabase = %v, want ErrClosed", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("files left after DeleteDatabase: %d", len(entries))
		}
	})
}
