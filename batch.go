package docasync

import (
	"fmt"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

// Action is what a BatchAction does to its document.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction maps "create", "update" or "delete" to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "create":
		return ActionCreate, nil
	case "update":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadAction, s)
}

// BatchAction is one entry of an InBatch call.
type BatchAction struct {
	Document *engine.Document
	Action   Action
}

func Create(doc *engine.Document) BatchAction { return BatchAction{Document: doc, Action: ActionCreate} }
func Update(doc *engine.Document) BatchAction { return BatchAction{Document: doc, Action: ActionUpdate} }
func Delete(doc *engine.Document) BatchAction { return BatchAction{Document: doc, Action: ActionDelete} }

// EntryFailure describes a batch entry that could not be applied.
type EntryFailure struct {
	Index      int
	Action     Action
	DocumentID string
	Err        error
}

func (f EntryFailure) Error() string {
	return fmt.Sprintf("entry %d (%s %s): %v", f.Index, f.Action, f.DocumentID, f.Err)
}

// BatchReport is the success value of InBatch. Entry failures do not fail
// the batch; they are listed here instead.
type BatchReport struct {
	Applied  int
	Failures []EntryFailure
}

// Partial reports whether any entry failed.
func (r *BatchReport) Partial() bool { return len(r.Failures) > 0 }

// InBatch applies actions in order inside one engine transaction. CREATE and
// UPDATE upsert; DELETE removes. A failing entry is logged, recorded in the
// report and skipped. Only a failure of the transaction itself fails the
// whole batch.
func (d *Database) InBatch(actions []BatchAction, sink Sink[*BatchReport], token any) *Future[*BatchReport] {
	entries := make([]BatchAction, len(actions))
	for i, a := range actions {
		entries[i] = BatchAction{Document: a.Document.Clone(), Action: a.Action}
	}

	return withConn(d, opBatch, sink, token, func(conn engine.Conn) (*BatchReport, error) {
		var report *BatchReport
		err := conn.InBatch(func(tx engine.Tx) error {
			report = &BatchReport{}
			for i, a := range entries {
				if err := apply(tx, a); err != nil {
					f := EntryFailure{Index: i, Action: a.Action, Err: err}
					if a.Document != nil {
						f.DocumentID = a.Document.ID
					}
					report.Failures = append(report.Failures, f)
					d.client.metrics.BatchEntryFailed(a.Action.String())
					d.client.log.Warn("batch entry failed",
						"database", d.name, "index", i, "action", a.Action.String(),
						"id", f.DocumentID, "error", err)
					continue
				}
				report.Applied++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return report, nil
	})
}

func apply(tx engine.Tx, a BatchAction) error {
	if a.Document == nil {
		return ErrNilDocument
	}
	switch a.Action {
	case ActionCreate, ActionUpdate:
		return tx.Save(a.Document)
	case ActionDelete:
		return tx.Delete(a.Document)
	default:
		return fmt.Errorf("%w: %s", ErrBadAction, a.Action)
	}
}
