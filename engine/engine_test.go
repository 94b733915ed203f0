package engine

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		db      string
		cfg     Config
		wantErr error
	}{
		{"ok", "app", Config{Directory: "/tmp"}, nil},
		{"empty name", "", Config{Directory: "/tmp"}, ErrInvalidName},
		{"separator", "a/b", Config{Directory: "/tmp"}, ErrInvalidName},
		{"dotdot", "..", Config{Directory: "/tmp"}, ErrInvalidName},
		{"no directory", "app", Config{}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		err := Validate(tt.db, tt.cfg)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: Validate() = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNewDocumentAssignsID(t *testing.T) {
	a := NewDocument("")
	b := NewDocument("")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", a.ID, b.ID)
	}

	named := NewDocument("user-1")
	if named.ID != "user-1" {
		t.Errorf("ID = %q, want user-1", named.ID)
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := NewDocument("d1").Set("tags", []any{"a"}).Set("nested", map[string]any{"x": 1.0})
	c := doc.Clone()

	c.Properties["nested"].(map[string]any)["x"] = 2.0
	if doc.Properties["nested"].(map[string]any)["x"] != 1.0 {
		t.Error("clone shares nested maps with the original")
	}
	if c.ID != doc.ID {
		t.Errorf("clone ID = %q, want %q", c.ID, doc.ID)
	}
}

func TestDocumentMerge(t *testing.T) {
	doc := NewDocument("d1").Set("a", 1.0).Set("b", 2.0)
	doc.Merge(map[string]any{"b": 3.0, "c": 4.0})

	want := map[string]any{"a": 1.0, "b": 3.0, "c": 4.0}
	for k, v := range want {
		if doc.Properties[k] != v {
			t.Errorf("Properties[%q] = %v, want %v", k, doc.Properties[k], v)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := NewDocument("d1").Set("name", "alice").Set("age", 30)
	body, err := doc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeDocument("d1", body)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if got.Properties["name"] != "alice" || got.Properties["age"] != 30.0 {
		t.Errorf("unexpected properties: %v", got.Properties)
	}

	if _, err := DecodeDocument("bad", []byte("{")); err == nil {
		t.Error("expected decode error for truncated body")
	}
}

func TestNotifierOrderAndRemoval(t *testing.T) {
	n := NewNotifier("app")

	var calls []string
	first := n.Add(func(c Change) { calls = append(calls, "first:"+c.DocumentIDs[0]) })
	n.Add(func(c Change) { calls = append(calls, "second:"+c.DocumentIDs[0]) })

	n.Notify("d1")
	n.Remove(first)
	n.Notify("d2")
	n.Notify()

	want := []string{"first:d1", "second:d1", "second:d2"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
	if n.Len() != 1 {
		t.Errorf("Len() = %d, want 1", n.Len())
	}
}

func TestNotifierRecoversListenerPanic(t *testing.T) {
	n := NewNotifier("app")
	var after []string
	n.Add(func(Change) { panic("listener bug") })
	n.Add(func(c Change) { after = append(after, c.DocumentIDs...) })

	n.Notify("d1")

	if len(after) != 1 || after[0] != "d1" {
		t.Errorf("listener after the panicking one saw %v, want [d1]", after)
	}
}

func TestValidator(t *testing.T) {
	v, err := NewValidator("")
	if err != nil || v != nil {
		t.Fatalf("empty schema: got (%v, %v), want (nil, nil)", v, err)
	}
	if err := v.Check(NewDocument("x")); err != nil {
		t.Errorf("nil validator rejected document: %v", err)
	}

	if _, err := NewValidator("{not json"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad schema error = %v, want ErrInvalidConfig", err)
	}

	v, err = NewValidator(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := v.Check(NewDocument("ok").Set("name", "alice")); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
	if err := v.Check(NewDocument("bad").Set("name", 7)); !errors.Is(err, ErrSchema) {
		t.Errorf("invalid document error = %v, want ErrSchema", err)
	}
}

func TestWrap(t *testing.T) {
	if Wrap("save", "app", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}

	err := Wrap("save", "app", ErrNotFound)
	var ee *Error
	if !errors.As(err, &ee) || ee.Op != "save" || ee.Database != "app" {
		t.Fatalf("Wrap did not produce *Error: %#v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("wrapped error lost its sentinel")
	}
	if Wrap("batch", "app", err) != err {
		t.Error("Wrap re-wrapped an *Error")
	}
}
