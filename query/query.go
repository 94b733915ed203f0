// Package query builds document queries and compiles them into engine.Query
// values that any bundled engine can execute.
//
// A Select is a plain value: it can be built with the chaining helpers or
// decoded from JSON ({"select": [...], "where": [...], "order": [...]}).
// Prepare compiles its where-clause into a CEL program; the program is cached
// so repeated queries with the same shape compile once.
package query

import (
	"fmt"
)

// MetaID selects or filters on the document id rather than a property.
const MetaID = "_id"

// MetaAll selects every property of the document.
const MetaAll = "*"

// Comparison is a where-clause operator.
type Comparison string

const (
	EqualTo              Comparison = "equalTo"
	NotEqualTo           Comparison = "notEqualTo"
	GreaterThan          Comparison = "greaterThan"
	GreaterThanOrEqualTo Comparison = "greaterThanOrEqualTo"
	LessThan             Comparison = "lessThan"
	LessThanOrEqualTo    Comparison = "lessThanOrEqualTo"
	Like                 Comparison = "like"
	Regex                Comparison = "regex"
	In                   Comparison = "in"
	Between              Comparison = "between"
	Is                   Comparison = "is"
	IsNot                Comparison = "isNot"
	IsNullOrMissing      Comparison = "isNullOrMissing"
	NotNullOrMissing     Comparison = "notNullOrMissing"
	Contains             Comparison = "contains"
)

// LogicalOp joins a condition to the conditions before it.
type LogicalOp string

const (
	And LogicalOp = "and"
	Or  LogicalOp = "or"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Condition is one where-clause term. Logical is ignored on the first term
// and defaults to And elsewhere.
type Condition struct {
	Logical    LogicalOp  `json:"logical,omitempty"`
	Property   string     `json:"property"`
	Comparison Comparison `json:"comparison"`
	Value      any        `json:"value,omitempty"`
}

// Ordering sorts results by one property.
type Ordering struct {
	Property  string    `json:"property"`
	Direction Direction `json:"direction,omitempty"`
}

// Select describes a query. Empty Fields selects every property.
type Select struct {
	Fields     []string    `json:"select,omitempty"`
	Conditions []Condition `json:"where,omitempty"`
	Groups     []string    `json:"groupBy,omitempty"`
	Orderings  []Ordering  `json:"order,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}

// New starts a query selecting fields.
func New(fields ...string) *Select {
	return &Select{Fields: fields}
}

// Where adds a condition joined with And.
func (s *Select) Where(property string, cmp Comparison, value any) *Select {
	return s.add(And, property, cmp, value)
}

// And is an alias of Where that reads better after the first term.
func (s *Select) And(property string, cmp Comparison, value any) *Select {
	return s.add(And, property, cmp, value)
}

// Or adds a condition joined with Or.
func (s *Select) Or(property string, cmp Comparison, value any) *Select {
	return s.add(Or, property, cmp, value)
}

func (s *Select) add(op LogicalOp, property string, cmp Comparison, value any) *Select {
	s.Conditions = append(s.Conditions, Condition{
		Logical:    op,
		Property:   property,
		Comparison: cmp,
		Value:      value,
	})
	return s
}

// GroupBy returns one row per distinct combination of properties.
func (s *Select) GroupBy(properties ...string) *Select {
	s.Groups = append(s.Groups, properties...)
	return s
}

// OrderBy appends a sort key.
func (s *Select) OrderBy(property string, dir Direction) *Select {
	s.Orderings = append(s.Orderings, Ordering{Property: property, Direction: dir})
	return s
}

// WithLimit caps the number of rows; 0 means unlimited.
func (s *Select) WithLimit(n int) *Select {
	s.Limit = n
	return s
}

// WithOffset skips the first n rows.
func (s *Select) WithOffset(n int) *Select {
	s.Offset = n
	return s
}

func (s *Select) validate() error {
	if s.Limit < 0 {
		return fmt.Errorf("negative limit %d", s.Limit)
	}
	if s.Offset < 0 {
		return fmt.Errorf("negative offset %d", s.Offset)
	}
	for _, f := range s.Fields {
		if f == "" {
			return fmt.Errorf("empty select field")
		}
	}
	for _, g := range s.Groups {
		if g == "" {
			return fmt.Errorf("empty groupBy property")
		}
	}
	for _, o := range s.Orderings {
		if o.Property == "" {
			return fmt.Errorf("empty order property")
		}
		switch o.Direction {
		case "", Asc, Desc:
		default:
			return fmt.Errorf("unknown order direction %q", o.Direction)
		}
	}
	for i, c := range s.Conditions {
		if c.Property == "" {
			return fmt.Errorf("where[%d]: empty property", i)
		}
		switch c.Logical {
		case "", And, Or:
		default:
			return fmt.Errorf("where[%d]: unknown logical operator %q", i, c.Logical)
		}
	}
	return nil
}
