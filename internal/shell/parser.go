package shell

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/docasync"
	"github.com/kartikbazzad/bunbase/docasync/engine"
)

// ErrInvalidJSON is returned for payloads that are not a JSON object or array
// where one is required.
var ErrInvalidJSON = errors.New("payload must be valid JSON")

type Command struct {
	Name string
	Args []string
	Line string
}

func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(line)
	if !strings.HasPrefix(parts[0], ".") {
		return nil, fmt.Errorf("commands must start with '.'")
	}

	return &Command{
		Name: parts[0],
		Args: parts[1:],
		Line: line,
	}, nil
}

// Rest returns the raw text after the command name and the first n
// arguments, keeping the spacing inside JSON payloads intact.
func (c *Command) Rest(n int) string {
	s := strings.TrimSpace(strings.TrimPrefix(c.Line, c.Name))
	for i := 0; i < n; i++ {
		s = strings.TrimSpace(s)
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	return strings.TrimSpace(s)
}

func ValidateArgs(cmd *Command, count int) error {
	if len(cmd.Args) < count {
		return fmt.Errorf("expected %d argument(s), got %d", count, len(cmd.Args))
	}
	return nil
}

// DecodeObject parses a JSON object payload.
func DecodeObject(s string) (map[string]any, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "json:"))
	if s == "" {
		return nil, ErrInvalidJSON
	}
	props := make(map[string]any)
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return props, nil
}

// batchEntry is the shell's wire form of a batch action.
type batchEntry struct {
	Action string         `json:"action"`
	ID     string         `json:"id"`
	Doc    map[string]any `json:"doc"`
}

// DecodeBatch parses [{"action":"create","id":"a","doc":{...}}, ...].
func DecodeBatch(s string) ([]docasync.BatchAction, error) {
	var entries []batchEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	actions := make([]docasync.BatchAction, 0, len(entries))
	for i, e := range entries {
		act, err := docasync.ParseAction(e.Action)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if e.ID == "" && act != docasync.ActionCreate {
			return nil, fmt.Errorf("entry %d: id is required for %s", i, act)
		}
		doc := engine.NewDocument(e.ID).Merge(e.Doc)
		actions = append(actions, docasync.BatchAction{Document: doc, Action: act})
	}
	return actions, nil
}
