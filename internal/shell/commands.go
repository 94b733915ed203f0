package shell

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kartikbazzad/bunbase/docasync"
	"github.com/kartikbazzad/bunbase/docasync/engine"
	"github.com/kartikbazzad/bunbase/docasync/query"
)

type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

type ErrorResult struct {
	Err string
}

func (e ErrorResult) Print(w io.Writer) {
	fmt.Fprintln(w, "ERROR")
	fmt.Fprintln(w, e.Err)
}

func (e ErrorResult) IsExit() bool { return false }

func errResult(err error) Result { return ErrorResult{Err: err.Error()} }

type ExitResult struct{}

func (ExitResult) Print(io.Writer) {}
func (ExitResult) IsExit() bool    { return true }

// OKResult prints OK followed by key=value lines.
type OKResult struct {
	Fields []string
}

func (o OKResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	for _, f := range o.Fields {
		fmt.Fprintln(w, f)
	}
}

func (o OKResult) IsExit() bool { return false }

type DocResult struct {
	Doc    *engine.Document
	Pretty bool
}

func (r DocResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	if r.Doc == nil {
		fmt.Fprintln(w, "not found")
		return
	}
	fmt.Fprintf(w, "id=%s\n", r.Doc.ID)
	fmt.Fprintf(w, "json=%s\n", encode(r.Doc.Properties, r.Pretty))
}

func (r DocResult) IsExit() bool { return false }

type RowsResult struct {
	Rows   []engine.Row
	Pretty bool
}

func (r RowsResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	fmt.Fprintf(w, "rows=%d\n", len(r.Rows))
	for _, row := range r.Rows {
		fmt.Fprintln(w, encode(row, r.Pretty))
	}
}

func (r RowsResult) IsExit() bool { return false }

type BatchResult struct {
	Report *docasync.BatchReport
}

func (r BatchResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	fmt.Fprintf(w, "applied=%d\n", r.Report.Applied)
	fmt.Fprintf(w, "failed=%d\n", len(r.Report.Failures))
	for _, f := range r.Report.Failures {
		fmt.Fprintf(w, "  %s\n", f.Error())
	}
}

func (r BatchResult) IsExit() bool { return false }

type HelpResult struct{}

func (HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "docasync shell commands:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Meta Commands:")
	fmt.Fprintln(w, "  .help                     Show this help message")
	fmt.Fprintln(w, "  .exit                     Exit the shell")
	fmt.Fprintln(w, "  .pretty on|off            Toggle JSON formatting")
	fmt.Fprintln(w, "  .stats                    Print worker pool statistics")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Database Lifecycle:")
	fmt.Fprintln(w, "  .open <name>              Open or create a database")
	fmt.Fprintln(w, "  .close                    Close the current database")
	fmt.Fprintln(w, "  .drop                     Delete the current database and its files")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Documents:")
	fmt.Fprintln(w, "  .get <id>                 Read a document")
	fmt.Fprintln(w, "  .put <id> <json>          Save (upsert) a document")
	fmt.Fprintln(w, "  .create [id] <json>       Create a document; prints the new id")
	fmt.Fprintln(w, "  .update <id> <json>       Merge properties into a document")
	fmt.Fprintln(w, "  .delete <id>              Delete a document")
	fmt.Fprintln(w, "  .batch <json-array>       Apply [{\"action\":\"create\",\"id\":\"a\",\"doc\":{}}] in order")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Queries:")
	fmt.Fprintln(w, "  .query <json>             Run a select, e.g. {\"select\":[\"_id\"],\"where\":[...]}")
	fmt.Fprintln(w, "  .query cel <expr>         Run a raw CEL predicate over doc and id")
	fmt.Fprintln(w, "  .watch                    Print committed changes as they happen")
}

func (HelpResult) IsExit() bool { return false }

func encode(v any, pretty bool) string {
	var out []byte
	if pretty {
		out, _ = json.MarshalIndent(v, "", "  ")
	} else {
		out, _ = json.Marshal(v)
	}
	return string(out)
}

func Open(s *Shell, cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return errResult(err)
	}
	name := cmd.Args[0]
	if s.db != nil {
		s.closeCurrent()
	}
	db, err := await(s, s.client.Open(name, s.cfg, nil, nil))
	if err != nil {
		return errResult(err)
	}
	s.db = db
	return OKResult{Fields: []string{"db=" + name}}
}

func Close(s *Shell) Result {
	if s.db == nil {
		return ErrorResult{Err: "no database open"}
	}
	if err := s.closeCurrent(); err != nil {
		return errResult(err)
	}
	return OKResult{}
}

func Drop(s *Shell) Result {
	db, err := s.current()
	if err != nil {
		return errResult(err)
	}
	s.db, s.watches = nil, nil
	if _, err := await(s, db.Delete(nil, nil)); err != nil {
		return errResult(err)
	}
	return OKResult{Fields: []string{"dropped=" + db.Name()}}
}

func Get(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 1)
	}
	if err != nil {
		return errResult(err)
	}
	doc, err := await(s, db.GetDocument(cmd.Args[0], nil, nil))
	if err != nil {
		return errResult(err)
	}
	return DocResult{Doc: doc, Pretty: s.pretty}
}

func Put(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 2)
	}
	if err != nil {
		return errResult(err)
	}
	props, err := DecodeObject(cmd.Rest(1))
	if err != nil {
		return errResult(err)
	}
	doc := engine.NewDocument(cmd.Args[0]).Merge(props)
	if _, err := await(s, db.Save(doc, nil, nil)); err != nil {
		return errResult(err)
	}
	return OKResult{}
}

func Create(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 1)
	}
	if err != nil {
		return errResult(err)
	}
	id, payload := "", cmd.Rest(0)
	if !strings.HasPrefix(cmd.Args[0], "{") {
		id, payload = cmd.Args[0], cmd.Rest(1)
	}
	props, err := DecodeObject(payload)
	if err != nil {
		return errResult(err)
	}
	newID, err := await(s, db.CreateDocument(props, id, nil, nil))
	if err != nil {
		return errResult(err)
	}
	return OKResult{Fields: []string{"id=" + newID}}
}

func Update(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 2)
	}
	if err != nil {
		return errResult(err)
	}
	props, err := DecodeObject(cmd.Rest(1))
	if err != nil {
		return errResult(err)
	}
	if _, err := await(s, db.UpdateDocument(cmd.Args[0], props, nil, nil)); err != nil {
		return errResult(err)
	}
	return OKResult{}
}

func Delete(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 1)
	}
	if err != nil {
		return errResult(err)
	}
	if _, err := await(s, db.DeleteDocument(engine.NewDocument(cmd.Args[0]), nil, nil)); err != nil {
		return errResult(err)
	}
	return OKResult{}
}

func Batch(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 1)
	}
	if err != nil {
		return errResult(err)
	}
	actions, err := DecodeBatch(cmd.Rest(0))
	if err != nil {
		return errResult(err)
	}
	report, err := await(s, db.InBatch(actions, nil, nil))
	if err != nil {
		return errResult(err)
	}
	return BatchResult{Report: report}
}

func Query(s *Shell, cmd *Command) Result {
	db, err := s.current()
	if err == nil {
		err = ValidateArgs(cmd, 1)
	}
	if err != nil {
		return errResult(err)
	}

	var fut *docasync.Future[[]engine.Row]
	if cmd.Args[0] == "cel" {
		q, err := query.Expr(cmd.Rest(1))
		if err != nil {
			return errResult(err)
		}
		fut = db.ExecuteQuery(q, nil, nil)
	} else {
		var sel query.Select
		if err := json.Unmarshal([]byte(cmd.Rest(0)), &sel); err != nil {
			return errResult(fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		}
		fut = db.Query(&sel, nil, nil)
	}

	rows, err := await(s, fut)
	if err != nil {
		return errResult(err)
	}
	return RowsResult{Rows: rows, Pretty: s.pretty}
}

func Watch(s *Shell) Result {
	db, err := s.current()
	if err != nil {
		return errResult(err)
	}
	tok, err := await(s, db.AddChangeListener(func(c engine.Change) {
		s.notify(fmt.Sprintf("change db=%s ids=%s", c.Database, strings.Join(c.DocumentIDs, ",")))
	}, nil, nil))
	if err != nil {
		return errResult(err)
	}
	s.watches = append(s.watches, tok)
	return OKResult{Fields: []string{fmt.Sprintf("watch=%d", tok)}}
}

func Pretty(s *Shell, cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return errResult(err)
	}
	switch cmd.Args[0] {
	case "on":
		s.pretty = true
	case "off":
		s.pretty = false
	default:
		return ErrorResult{Err: "usage: .pretty on|off"}
	}
	return OKResult{}
}

func Stats(s *Shell) Result {
	p := s.client.Pool()
	fields := []string{
		fmt.Sprintf("engine=%s", s.client.Engine().Name()),
		fmt.Sprintf("workers=%d", p.Cap()),
		fmt.Sprintf("running=%d", p.Running()),
		fmt.Sprintf("pending=%d", p.Pending()),
	}
	if s.db != nil {
		fields = append(fields, "db="+s.db.Name())
	}
	return OKResult{Fields: fields}
}
