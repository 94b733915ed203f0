package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled predicates kept by the default compiler.
const DefaultCacheSize = 256

// Compiler turns where-clauses into CEL programs and caches them by source.
//
// The CEL environment exposes three variables:
//
//	doc    map(string, dyn)  document properties
//	id     string            document id
//	params list(dyn)         condition values, bound at evaluation
type Compiler struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

// NewCompiler builds a compiler with its own program cache.
func NewCompiler(cacheSize int) (*Compiler, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.StringType),
		cel.Variable("params", cel.ListType(cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("query: build cel env: %w", err)
	}
	cache, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Compiler{env: env, cache: cache}, nil
}

var (
	defaultOnce     sync.Once
	defaultCompiler *Compiler
	defaultErr      error
)

// Default returns the process-wide compiler.
func Default() (*Compiler, error) {
	defaultOnce.Do(func() {
		defaultCompiler, defaultErr = NewCompiler(DefaultCacheSize)
	})
	return defaultCompiler, defaultErr
}

// Cached reports how many programs are cached.
func (c *Compiler) Cached() int {
	return c.cache.Len()
}

func (c *Compiler) program(source string) (cel.Program, error) {
	if prg, ok := c.cache.Get(source); ok {
		return prg, nil
	}
	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %s", issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction error: %s", err)
	}
	c.cache.Add(source, prg)
	return prg, nil
}

// Prepare compiles sel into an executable query.
func (c *Compiler) Prepare(sel *Select) (*Prepared, error) {
	if sel == nil {
		sel = New()
	}
	if err := sel.validate(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	source, params, err := translate(sel.Conditions)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	p := &Prepared{sel: *sel, source: source, params: params}
	if source != "" {
		if p.program, err = c.program(source); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
	}
	return p, nil
}

// Expr compiles a raw CEL predicate over doc and id into a query selecting
// every property.
func (c *Compiler) Expr(source string) (*Prepared, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("query: empty expression")
	}
	prg, err := c.program(source)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &Prepared{source: source, program: prg}, nil
}

// Prepare compiles sel with the default compiler.
func Prepare(sel *Select) (*Prepared, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Prepare(sel)
}

// Expr compiles a raw CEL predicate with the default compiler.
func Expr(source string) (*Prepared, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Expr(source)
}

// translate renders conditions as one CEL expression. Values never appear in
// the source; each one is appended to params and referenced by index.
func translate(conds []Condition) (string, []any, error) {
	var (
		expr   string
		params []any
	)
	for i, cond := range conds {
		t, err := term(cond, &params)
		if err != nil {
			return "", nil, fmt.Errorf("where[%d]: %w", i, err)
		}
		switch {
		case i == 0:
			expr = "(" + t + ")"
		case cond.Logical == Or:
			expr = "(" + expr + " || (" + t + "))"
		default:
			expr = "(" + expr + " && (" + t + "))"
		}
	}
	return expr, params, nil
}

func bind(params *[]any, v any) (string, error) {
	nv, err := normalize(v)
	if err != nil {
		return "", err
	}
	*params = append(*params, nv)
	return "params[" + strconv.Itoa(len(*params)-1) + "]", nil
}

// normalize converts a Go value into the shape JSON-decoded documents have
// (float64 numbers, []any, map[string]any) so comparisons line up.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ref and present render a (possibly dotted) property path. Index syntax is
// used so any key is addressable; `in` checks presence without erroring on
// missing keys.
func ref(property string) string {
	if property == MetaID {
		return "id"
	}
	var b strings.Builder
	b.WriteString("doc")
	for _, seg := range strings.Split(property, ".") {
		b.WriteString("[" + strconv.Quote(seg) + "]")
	}
	return b.String()
}

func present(property string) string {
	if property == MetaID {
		return "true"
	}
	segs := strings.Split(property, ".")
	parts := make([]string, 0, len(segs))
	parent := "doc"
	for _, seg := range segs {
		key := strconv.Quote(seg)
		parts = append(parts, key+" in "+parent)
		parent += "[" + key + "]"
	}
	return strings.Join(parts, " && ")
}

func term(cond Condition, params *[]any) (string, error) {
	r, has := ref(cond.Property), present(cond.Property)

	switch cond.Comparison {
	case IsNullOrMissing:
		return "!(" + has + ") || " + r + " == null", nil
	case NotNullOrMissing:
		return has + " && " + r + " != null", nil
	}

	bound := func(v any) (string, error) { return bind(params, v) }

	switch cond.Comparison {
	case EqualTo, Is:
		p, err := bound(cond.Value)
		return has + " && " + r + " == " + p, err
	case NotEqualTo:
		p, err := bound(cond.Value)
		return has + " && " + r + " != " + p, err
	case IsNot:
		p, err := bound(cond.Value)
		return "!(" + has + ") || " + r + " != " + p, err
	case GreaterThan:
		p, err := bound(cond.Value)
		return has + " && " + r + " > " + p, err
	case GreaterThanOrEqualTo:
		p, err := bound(cond.Value)
		return has + " && " + r + " >= " + p, err
	case LessThan:
		p, err := bound(cond.Value)
		return has + " && " + r + " < " + p, err
	case LessThanOrEqualTo:
		p, err := bound(cond.Value)
		return has + " && " + r + " <= " + p, err
	case Like:
		pattern, ok := cond.Value.(string)
		if !ok {
			return "", fmt.Errorf("like expects a string pattern, got %T", cond.Value)
		}
		p, err := bound(likePattern(pattern))
		return has + " && " + r + ".matches(" + p + ")", err
	case Regex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return "", fmt.Errorf("regex expects a string pattern, got %T", cond.Value)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return "", fmt.Errorf("regex: %w", err)
		}
		p, err := bound(pattern)
		return has + " && " + r + ".matches(" + p + ")", err
	case In:
		nv, err := normalize(cond.Value)
		if err != nil {
			return "", err
		}
		list, ok := nv.([]any)
		if !ok {
			list = []any{nv}
		}
		p, err := bound(list)
		return has + " && " + r + " in " + p, err
	case Between:
		nv, err := normalize(cond.Value)
		if err != nil {
			return "", err
		}
		bounds, ok := nv.([]any)
		if !ok || len(bounds) != 2 {
			return "", fmt.Errorf("between expects [low, high], got %v", cond.Value)
		}
		p, err := bound(bounds)
		return has + " && " + r + " >= " + p + "[0] && " + r + " <= " + p + "[1]", err
	case Contains:
		p, err := bound(cond.Value)
		return has + " && " + p + " in " + r, err
	default:
		return "", fmt.Errorf("unknown comparison %q", cond.Comparison)
	}
}

// likePattern converts a SQL LIKE pattern (% and _) into an anchored RE2 pattern.
func likePattern(like string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range like {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
