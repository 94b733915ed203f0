package query

import (
	"encoding/json"
	"testing"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

type sliceSource struct {
	docs    []*engine.Document
	visited int
}

func (s *sliceSource) Scan(fn func(*engine.Document) bool) error {
	for _, d := range s.docs {
		s.visited++
		if !fn(d) {
			break
		}
	}
	return nil
}

func people() *sliceSource {
	return &sliceSource{docs: []*engine.Document{
		{ID: "a", Properties: map[string]any{
			"name": "alice", "age": 30.0, "city": "paris",
			"tags": []any{"x", "y"},
			"addr": map[string]any{"zip": "75"},
		}},
		{ID: "b", Properties: map[string]any{
			"name": "bob", "age": 25.0, "city": "london",
			"tags": []any{"y"},
		}},
		{ID: "c", Properties: map[string]any{
			"name": "carol", "age": 35.0, "city": "paris",
		}},
		{ID: "d", Properties: map[string]any{
			"name": "dan", "age": nil,
		}},
	}}
}

func ids(t *testing.T, rows []engine.Row) []string {
	t.Helper()
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		id, _ := r[MetaID].(string)
		out = append(out, id)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWhere(t *testing.T) {
	tests := []struct {
		name string
		sel  *Select
		want []string
	}{
		{"all", New(MetaID), []string{"a", "b", "c", "d"}},
		{"equal", New(MetaID).Where("name", EqualTo, "bob"), []string{"b"}},
		{"equal id", New(MetaID).Where(MetaID, EqualTo, "c"), []string{"c"}},
		{"not equal skips missing", New(MetaID).Where("city", NotEqualTo, "paris"), []string{"b"}},
		{"is not keeps missing", New(MetaID).Where("city", IsNot, "paris"), []string{"b", "d"}},
		{"greater int literal", New(MetaID).Where("age", GreaterThan, 28), []string{"a", "c"}},
		{"less or equal", New(MetaID).Where("age", LessThanOrEqualTo, 30), []string{"a", "b"}},
		{"like", New(MetaID).Where("name", Like, "a%"), []string{"a"}},
		{"like single", New(MetaID).Where("name", Like, "b_b"), []string{"b"}},
		{"regex", New(MetaID).Where("name", Regex, "^(b|c)"), []string{"b", "c"}},
		{"in", New(MetaID).Where("city", In, []string{"london", "rome"}), []string{"b"}},
		{"between", New(MetaID).Where("age", Between, []int{26, 31}), []string{"a"}},
		{"contains", New(MetaID).Where("tags", Contains, "x"), []string{"a"}},
		{"null or missing", New(MetaID).Where("age", IsNullOrMissing, nil), []string{"d"}},
		{"not null", New(MetaID).Where("age", NotNullOrMissing, nil), []string{"a", "b", "c"}},
		{"nested", New(MetaID).Where("addr.zip", EqualTo, "75"), []string{"a"}},
		{"and", New(MetaID).Where("city", EqualTo, "paris").And("age", GreaterThan, 31), []string{"c"}},
		{"or", New(MetaID).Where("name", EqualTo, "alice").Or("name", EqualTo, "bob"), []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Prepare(tt.sel)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			rows, err := q.Run(people())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := ids(t, rows); !equal(got, tt.want) {
				t.Errorf("ids = %v, want %v (cel: %s)", got, tt.want, q)
			}
		})
	}
}

func TestOrderLimitOffset(t *testing.T) {
	q, err := Prepare(New(MetaID).OrderBy("age", Desc).WithOffset(1).WithLimit(2))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	rows, err := q.Run(people())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ids(t, rows); !equal(got, []string{"a", "b"}) {
		t.Errorf("ids = %v, want [a b]", got)
	}

	q, _ = Prepare(New(MetaID).OrderBy("age", Asc))
	rows, _ = q.Run(people())
	if got := ids(t, rows); !equal(got, []string{"d", "b", "a", "c"}) {
		t.Errorf("ascending ids = %v, want null first", got)
	}
}

func TestOffsetPastEnd(t *testing.T) {
	q, _ := Prepare(New(MetaID).OrderBy("name", Asc).WithOffset(10))
	rows, err := q.Run(people())
	if err != nil || len(rows) != 0 {
		t.Errorf("Run = (%v, %v), want no rows", rows, err)
	}
}

func TestLimitStopsScan(t *testing.T) {
	src := people()
	q, _ := Prepare(New(MetaID).WithLimit(1))
	rows, err := q.Run(src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rows) != 1 || src.visited != 1 {
		t.Errorf("rows=%d visited=%d, want 1 and 1", len(rows), src.visited)
	}
}

func TestGroupBy(t *testing.T) {
	q, _ := Prepare(New(MetaID, "city").GroupBy("city"))
	rows, err := q.Run(people())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ids(t, rows); !equal(got, []string{"a", "b", "d"}) {
		t.Errorf("ids = %v, want first document per city", got)
	}
}

func TestProjection(t *testing.T) {
	q, _ := Prepare(New("name", "addr.zip", MetaID, "missing").Where(MetaID, EqualTo, "a"))
	rows, err := q.Run(people())
	if err != nil || len(rows) != 1 {
		t.Fatalf("Run = (%v, %v)", rows, err)
	}
	row := rows[0]
	if row["name"] != "alice" || row["zip"] != "75" || row[MetaID] != "a" {
		t.Errorf("row = %v", row)
	}
	if _, ok := row["missing"]; ok {
		t.Error("missing property should be omitted")
	}

	q, _ = Prepare(New())
	rows, _ = q.Run(people())
	if rows[1]["name"] != "bob" || rows[1]["city"] != "london" {
		t.Errorf("select all row = %v", rows[1])
	}
	if _, ok := rows[1][MetaID]; ok {
		t.Error("select all should not include the id")
	}

	q, _ = Prepare(New(MetaID, MetaAll))
	rows, _ = q.Run(people())
	if rows[2][MetaID] != "c" || rows[2]["name"] != "carol" {
		t.Errorf("id plus all row = %v", rows[2])
	}
}

func TestExpr(t *testing.T) {
	q, err := Expr(`doc.age > 26.0 && id != "c"`)
	if err != nil {
		t.Fatalf("Expr: %v", err)
	}
	rows, err := q.Run(people())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "alice" {
		t.Errorf("rows = %v, want alice only", rows)
	}

	if _, err := Expr("doc.age >"); err == nil {
		t.Error("expected a compile error")
	}
	if _, err := Expr("  "); err == nil {
		t.Error("expected an error for an empty expression")
	}
}

func TestCompilerCachesByShape(t *testing.T) {
	c, err := NewCompiler(8)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if _, err := c.Prepare(New().Where("age", GreaterThan, 20)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	q, err := c.Prepare(New(MetaID).Where("age", GreaterThan, 32))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if c.Cached() != 1 {
		t.Errorf("Cached = %d, want 1", c.Cached())
	}
	rows, _ := q.Run(people())
	if got := ids(t, rows); !equal(got, []string{"c"}) {
		t.Errorf("second query used stale params: %v", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	raw := `{
		"select": ["name"],
		"where": [{"property": "age", "comparison": "greaterThan", "value": 26}],
		"order": [{"property": "age"}],
		"limit": 1
	}`
	var sel Select
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	q, err := Prepare(&sel)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	rows, err := q.Run(people())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "alice" {
		t.Errorf("rows = %v, want [alice]", rows)
	}
}

func TestPrepareErrors(t *testing.T) {
	tests := []struct {
		name string
		sel  *Select
	}{
		{"negative limit", New().WithLimit(-1)},
		{"negative offset", New().WithOffset(-2)},
		{"empty field", New("")},
		{"empty property", New().Where("", EqualTo, 1)},
		{"unknown comparison", New().Where("a", Comparison("near"), 1)},
		{"bad regex", New().Where("a", Regex, "(")},
		{"like not string", New().Where("a", Like, 3)},
		{"between one bound", New().Where("a", Between, []int{1})},
		{"bad direction", New().OrderBy("a", Direction("up"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Prepare(tt.sel); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLikePattern(t *testing.T) {
	tests := map[string]string{
		"a%":   "^a.*$",
		"_b":   "^.b$",
		"1.5%": `^1\.5.*$`,
	}
	for in, want := range tests {
		if got := likePattern(in); got != want {
			t.Errorf("likePattern(%q) = %q, want %q", in, got, want)
		}
	}
}
