package shell

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/bunbase/docasync"
	"github.com/kartikbazzad/bunbase/docasync/engine"
	"github.com/kartikbazzad/bunbase/docasync/engine/sqlite"
	"github.com/kartikbazzad/bunbase/docasync/workerpool"
)

// syncBuffer is written by listener goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func newShell(t *testing.T) (*Shell, *syncBuffer) {
	t.Helper()
	pool, err := workerpool.New(workerpool.Options{Size: 2})
	if err != nil {
		t.Fatalf("workerpool.New: %v", err)
	}
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	client := docasync.NewClient(sqlite.New(), docasync.WithPool(pool))
	t.Cleanup(client.Close)

	out := &syncBuffer{}
	sh := New(client, engine.Config{Directory: t.TempDir()}, out)
	sh.timeout = 5 * time.Second
	t.Cleanup(func() { sh.Close() })
	return sh, out
}

// run executes one line and returns what it printed.
func run(t *testing.T, sh *Shell, out *syncBuffer, line string) string {
	t.Helper()
	out.Reset()
	if sh.ExecuteLine(line) {
		t.Fatalf("%s: unexpected exit", line)
	}
	return out.String()
}

func expectOK(t *testing.T, got, line string) {
	t.Helper()
	if !strings.HasPrefix(got, "OK\n") {
		t.Fatalf("%s:\n%s", line, got)
	}
}

func TestShellDocumentCommands(t *testing.T) {
	sh, out := newShell(t)

	steps := []struct {
		line string
		want string
	}{
		{".open people", "db=people"},
		{`.put alice {"name": "Alice", "age": 31}`, "OK"},
		{".get alice", `json={"age":31,"name":"Alice"}`},
		{`.update alice {"city": "Oslo"}`, "OK"},
		{".get alice", `"city":"Oslo"`},
		{`.create bob {"name": "Bob", "age": 25}`, "id=bob"},
		{".query cel doc.age > 30", "rows=1"},
		{`.query {"select": ["_id"], "order": [{"property": "age"}]}`, "{\"_id\":\"bob\"}\n{\"_id\":\"alice\"}"},
		{".delete bob", "OK"},
		{".get bob", "not found"},
		{".stats", "engine=sqlite"},
	}
	for _, s := range steps {
		got := run(t, sh, out, s.line)
		expectOK(t, got, s.line)
		if !strings.Contains(got, s.want) {
			t.Errorf("%s: output %q does not contain %q", s.line, got, s.want)
		}
	}
}

func TestShellCreateGeneratesID(t *testing.T) {
	sh, out := newShell(t)
	run(t, sh, out, ".open ids")

	got := run(t, sh, out, `.create {"n": 1}`)
	expectOK(t, got, ".create")
	id := strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(got, "OK\n")), "id=")
	if id == "" {
		t.Fatalf("no id in %q", got)
	}
	got = run(t, sh, out, ".get "+id)
	if !strings.Contains(got, `json={"n":1}`) {
		t.Errorf(".get %s = %q", id, got)
	}
}

func TestShellBatch(t *testing.T) {
	sh, out := newShell(t)
	run(t, sh, out, ".open batch")

	got := run(t, sh, out, `.batch [
		{"action": "create", "id": "a", "doc": {"n": 1}},
		{"action": "delete", "id": "missing"},
		{"action": "create", "id": "b", "doc": {"n": 3}}
	]`)
	expectOK(t, got, ".batch")
	if !strings.Contains(got, "applied=2") || !strings.Contains(got, "failed=1") {
		t.Errorf(".batch = %q", got)
	}
	if got := run(t, sh, out, ".get b"); !strings.Contains(got, "id=b") {
		t.Errorf(".get b = %q", got)
	}
}

func TestShellWatch(t *testing.T) {
	sh, out := newShell(t)
	run(t, sh, out, ".open watched")
	expectOK(t, run(t, sh, out, ".watch"), ".watch")

	out.Reset()
	sh.ExecuteLine(`.put w1 {"n": 1}`)
	if got := out.String(); !strings.Contains(got, "change db=watched ids=w1") {
		t.Errorf("no change notification in %q", got)
	}
}

func TestShellDropDetachesDatabase(t *testing.T) {
	sh, out := newShell(t)
	run(t, sh, out, ".open gone")
	expectOK(t, run(t, sh, out, ".drop"), ".drop")

	got := run(t, sh, out, ".get x")
	if !strings.HasPrefix(got, "ERROR\n") || !strings.Contains(got, "no database open") {
		t.Errorf(".get after drop = %q", got)
	}
}

func TestShellErrors(t *testing.T) {
	sh, out := newShell(t)

	tests := []struct {
		line string
		want string
	}{
		{".get a", "no database open"},
		{".bogus", "unknown command"},
		{"get a", "must start with"},
		{".open", "expected 1 argument"},
		{".pretty maybe", "usage"},
	}
	for _, tt := range tests {
		got := run(t, sh, out, tt.line)
		if !strings.HasPrefix(got, "ERROR\n") || !strings.Contains(got, tt.want) {
			t.Errorf("%s = %q, want ERROR containing %q", tt.line, got, tt.want)
		}
	}

	run(t, sh, out, ".open errs")
	if got := run(t, sh, out, ".put a {oops"); !strings.Contains(got, "valid JSON") {
		t.Errorf(".put bad json = %q", got)
	}
	if got := run(t, sh, out, `.update nobody {"n": 1}`); !strings.HasPrefix(got, "ERROR\n") {
		t.Errorf(".update missing = %q", got)
	}
	if got := run(t, sh, out, ".query cel doc.n >"); !strings.HasPrefix(got, "ERROR\n") {
		t.Errorf(".query bad cel = %q", got)
	}
}

func TestShellExitAndHelp(t *testing.T) {
	sh, out := newShell(t)
	if got := run(t, sh, out, ".help"); !strings.Contains(got, ".batch") {
		t.Errorf(".help = %q", got)
	}
	if !sh.ExecuteLine(".exit") {
		t.Error(".exit should end the shell")
	}
}
