package query

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

// Prepared is a compiled Select. It implements engine.Query and is safe for
// concurrent use.
type Prepared struct {
	sel     Select
	source  string
	params  []any
	program cel.Program
}

var _ engine.Query = (*Prepared)(nil)

// Source returns the CEL predicate, or "" when every document matches.
func (p *Prepared) Source() string { return p.source }

func (p *Prepared) String() string {
	if p.source == "" {
		return "true"
	}
	return p.source
}

func (p *Prepared) matches(doc *engine.Document) bool {
	if p.program == nil {
		return true
	}
	props := doc.Properties
	if props == nil {
		props = map[string]any{}
	}
	params := p.params
	if params == nil {
		params = []any{}
	}
	out, _, err := p.program.Eval(map[string]any{
		"doc":    props,
		"id":     doc.ID,
		"params": params,
	})
	if err != nil {
		// Type mismatches and absent keys reject the row.
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Run scans src, filters, groups, orders, pages and projects the result.
func (p *Prepared) Run(src engine.Source) ([]engine.Row, error) {
	sel := &p.sel
	streaming := len(sel.Groups) == 0 && len(sel.Orderings) == 0

	var (
		docs    []*engine.Document
		seen    map[string]struct{}
		skipped int
	)
	if len(sel.Groups) > 0 {
		seen = make(map[string]struct{})
	}

	err := src.Scan(func(doc *engine.Document) bool {
		if !p.matches(doc) {
			return true
		}
		if seen != nil {
			key := groupKey(doc, sel.Groups)
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
		}
		if streaming {
			if skipped < sel.Offset {
				skipped++
				return true
			}
			docs = append(docs, doc)
			return sel.Limit == 0 || len(docs) < sel.Limit
		}
		docs = append(docs, doc)
		return true
	})
	if err != nil {
		return nil, err
	}

	if !streaming {
		if len(sel.Orderings) > 0 {
			sort.SliceStable(docs, func(i, j int) bool {
				return less(docs[i], docs[j], sel.Orderings)
			})
		}
		docs = page(docs, sel.Offset, sel.Limit)
	}

	rows := make([]engine.Row, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, project(doc, sel.Fields))
	}
	return rows, nil
}

func page(docs []*engine.Document, offset, limit int) []*engine.Document {
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// lookup resolves a dotted path, reporting whether every segment exists.
func lookup(doc *engine.Document, property string) (any, bool) {
	if property == MetaID {
		return doc.ID, true
	}
	var cur any = doc.Properties
	for _, seg := range strings.Split(property, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func groupKey(doc *engine.Document, groups []string) string {
	var b strings.Builder
	for _, g := range groups {
		v, ok := lookup(doc, g)
		if !ok {
			b.WriteString("\x00missing")
		} else {
			fmt.Fprintf(&b, "%T:%v", v, v)
		}
		b.WriteByte(0x1f)
	}
	return b.String()
}

func less(a, b *engine.Document, orderings []Ordering) bool {
	for _, o := range orderings {
		va, _ := lookup(a, o.Property)
		vb, _ := lookup(b, o.Property)
		c := compare(va, vb)
		if c == 0 {
			continue
		}
		if o.Direction == Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

// rank orders values of different kinds: null and missing, then booleans,
// numbers, strings, and everything else.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int, int64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		na, nb := number(a), number(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 4:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return 0
}

// project builds the result row. A nested path is keyed by its last segment.
func project(doc *engine.Document, fields []string) engine.Row {
	row := make(engine.Row, len(fields))
	if len(fields) == 0 {
		maps.Copy(row, doc.Properties)
		return row
	}
	for _, f := range fields {
		switch f {
		case MetaAll:
			maps.Copy(row, doc.Properties)
		case MetaID:
			row[MetaID] = doc.ID
		default:
			if v, ok := lookup(doc, f); ok {
				key := f
				if i := strings.LastIndexByte(f, '.'); i >= 0 {
					key = f[i+1:]
				}
				row[key] = v
			}
		}
	}
	return row
}
