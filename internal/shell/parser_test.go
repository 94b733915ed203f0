package shell

import (
	"errors"
	"testing"

	"github.com/kartikbazzad/bunbase/docasync"
)

func TestParse(t *testing.T) {
	cmd, err := Parse(`  .put   d1 {"name": "Alice", "tags": ["a b"]}  `)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Name != ".put" {
		t.Errorf("Name = %q", cmd.Name)
	}
	if cmd.Args[0] != "d1" {
		t.Errorf("Args[0] = %q", cmd.Args[0])
	}
	if got := cmd.Rest(1); got != `{"name": "Alice", "tags": ["a b"]}` {
		t.Errorf("Rest(1) = %q", got)
	}
	if got := cmd.Rest(0); got != `d1 {"name": "Alice", "tags": ["a b"]}` {
		t.Errorf("Rest(0) = %q", got)
	}
	if got := cmd.Rest(9); got != "" {
		t.Errorf("Rest(9) = %q, want empty", got)
	}

	for _, bad := range []string{"", "   ", "open db"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	cmd, _ := Parse(".get")
	if err := ValidateArgs(cmd, 1); err == nil {
		t.Error("expected an error for a missing argument")
	}
	cmd, _ = Parse(".get a")
	if err := ValidateArgs(cmd, 1); err != nil {
		t.Errorf("ValidateArgs: %v", err)
	}
}

func TestDecodeObject(t *testing.T) {
	props, err := DecodeObject(`json:{"n": 1}`)
	if err != nil {
		t.Fatalf("DecodeObject: %v", err)
	}
	if props["n"] != float64(1) {
		t.Errorf("n = %v", props["n"])
	}

	for _, bad := range []string{"", "{nope}", "[1,2]", `"str"`} {
		if _, err := DecodeObject(bad); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("DecodeObject(%q) = %v, want ErrInvalidJSON", bad, err)
		}
	}
}

func TestDecodeBatch(t *testing.T) {
	actions, err := DecodeBatch(`[
		{"action": "create", "doc": {"n": 1}},
		{"action": "update", "id": "a", "doc": {"n": 2}},
		{"action": "delete", "id": "b"}
	]`)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	want := []docasync.Action{docasync.ActionCreate, docasync.ActionUpdate, docasync.ActionDelete}
	if len(actions) != len(want) {
		t.Fatalf("len = %d, want %d", len(actions), len(want))
	}
	for i, a := range actions {
		if a.Action != want[i] {
			t.Errorf("actions[%d] = %s, want %s", i, a.Action, want[i])
		}
	}
	if actions[1].Document.ID != "a" || actions[1].Document.Properties["n"] != float64(2) {
		t.Errorf("update doc = %+v", actions[1].Document)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"not json", `[{`},
		{"empty", `[]`},
		{"unknown action", `[{"action": "upsert", "id": "a"}]`},
		{"missing id", `[{"action": "delete"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBatch(tt.input); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
