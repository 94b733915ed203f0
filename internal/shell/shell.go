// Package shell is the interactive docasync console. Each command becomes
// one asynchronous operation that the shell awaits before printing.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/bunbase/docasync"
	"github.com/kartikbazzad/bunbase/docasync/engine"
)

const prompt = "> "

// DefaultTimeout bounds how long the shell waits for one operation.
const DefaultTimeout = 30 * time.Second

var commandNames = []string{
	".help", ".exit", ".open", ".close", ".drop", ".get", ".put", ".create",
	".update", ".delete", ".batch", ".query", ".watch", ".pretty", ".stats",
}

type Shell struct {
	client  *docasync.Client
	cfg     engine.Config
	timeout time.Duration

	db      *docasync.Database
	watches []engine.ListenerToken
	pretty  bool

	outMu sync.Mutex
	out   io.Writer
}

func New(client *docasync.Client, cfg engine.Config, out io.Writer) *Shell {
	return &Shell{client: client, cfg: cfg, out: out, timeout: DefaultTimeout}
}

func await[T any](s *Shell, f *docasync.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return f.Await(ctx)
}

func (s *Shell) current() (*docasync.Database, error) {
	if s.db == nil {
		return nil, errors.New("no database open")
	}
	return s.db, nil
}

func (s *Shell) closeCurrent() error {
	db := s.db
	for _, tok := range s.watches {
		db.RemoveChangeListener(tok, nil, nil)
	}
	s.db, s.watches = nil, nil
	_, err := await(s, db.Close(nil, nil))
	return err
}

// notify prints an unsolicited line, such as a change notification.
func (s *Shell) notify(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, line)
}

func (s *Shell) Execute(cmd *Command) Result {
	switch cmd.Name {
	case ".help":
		return HelpResult{}
	case ".exit", ".quit":
		return ExitResult{}
	case ".open", ".use":
		return Open(s, cmd)
	case ".close":
		return Close(s)
	case ".drop":
		return Drop(s)
	case ".get", ".read":
		return Get(s, cmd)
	case ".put":
		return Put(s, cmd)
	case ".create":
		return Create(s, cmd)
	case ".update":
		return Update(s, cmd)
	case ".delete":
		return Delete(s, cmd)
	case ".batch":
		return Batch(s, cmd)
	case ".query":
		return Query(s, cmd)
	case ".watch":
		return Watch(s)
	case ".pretty":
		return Pretty(s, cmd)
	case ".stats":
		return Stats(s)
	default:
		return ErrorResult{Err: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
}

// ExecuteLine parses and runs one line, printing the result. It reports
// whether the shell should exit.
func (s *Shell) ExecuteLine(line string) bool {
	var res Result
	if cmd, err := Parse(line); err != nil {
		res = errResult(err)
	} else {
		res = s.Execute(cmd)
	}
	if res.IsExit() {
		return true
	}
	s.outMu.Lock()
	res.Print(s.out)
	fmt.Fprintln(s.out)
	s.outMu.Unlock()
	return false
}

// Close closes the open database, if any.
func (s *Shell) Close() error {
	if s.db == nil {
		return nil
	}
	return s.closeCurrent()
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docasync_history")
}

// Run reads commands from the terminal until .exit, EOF or ctx ends.
func (s *Shell) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var out []string
		for _, name := range commandNames {
			if strings.HasPrefix(name, in) {
				out = append(out, name)
			}
		}
		return out
	})

	hist := historyPath()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if hist == "" {
			return
		}
		if f, err := os.Create(hist); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	s.notify("docasync shell. Type '.help' for commands.")
	for ctx.Err() == nil {
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return s.Close()
			}
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		if s.ExecuteLine(input) {
			return s.Close()
		}
	}
	s.Close()
	return ctx.Err()
}
