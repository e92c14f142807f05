package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Template is a JSON-ish value whose string leaves may contain
// embedded ${...} expressions.  A string that is exactly one ${...}
// yields the expression's typed value; a string with mixed literal
// text and ${...} parts concatenates everything as text.
//
// Templates are compiled once, with their Pattern, and are then
// shared read-only.
type Template struct {
	root interface{}
}

var exprHole = regexp.MustCompile(`\$\{([^}]*)\}`)

// segments is a compiled string leaf: literal runs interleaved with
// expressions.
type segments []segment

type segment struct {
	lit string
	src *ExprSource
}

// NewTemplate compiles the given value's string leaves using the
// named interpreter.
func NewTemplate(ctx context.Context, x interface{}, interpreter string, interpreters Interpreters) (*Template, error) {
	root, err := compileTemplate(ctx, x, interpreter, interpreters)
	if err != nil {
		return nil, err
	}
	return &Template{root: root}, nil
}

func compileTemplate(ctx context.Context, x interface{}, interpreter string, interpreters Interpreters) (interface{}, error) {
	switch v := x.(type) {
	case string:
		return compileLeaf(ctx, v, interpreter, interpreters)
	case map[string]interface{}:
		acc := make(map[string]interface{}, len(v))
		for k, kid := range v {
			c, err := compileTemplate(ctx, kid, interpreter, interpreters)
			if err != nil {
				return nil, err
			}
			acc[k] = c
		}
		return acc, nil
	case []interface{}:
		acc := make([]interface{}, len(v))
		for i, kid := range v {
			c, err := compileTemplate(ctx, kid, interpreter, interpreters)
			if err != nil {
				return nil, err
			}
			acc[i] = c
		}
		return acc, nil
	default:
		return x, nil
	}
}

func compileLeaf(ctx context.Context, s, interpreter string, interpreters Interpreters) (interface{}, error) {
	locs := exprHole.FindAllStringSubmatchIndex(s, -1)
	if locs == nil {
		return s, nil
	}
	acc := make(segments, 0, 2*len(locs)+1)
	at := 0
	for _, loc := range locs {
		if at < loc[0] {
			acc = append(acc, segment{lit: s[at:loc[0]]})
		}
		src := NewExprSource(interpreter, s[loc[2]:loc[3]])
		if err := src.Compile(ctx, interpreters); err != nil {
			return nil, err
		}
		acc = append(acc, segment{src: src})
		at = loc[1]
	}
	if at < len(s) {
		acc = append(acc, segment{lit: s[at:]})
	}
	return acc, nil
}

// Execute evaluates the Template's embedded expressions against the
// environment and returns the resulting value.
func (t *Template) Execute(ctx context.Context, env map[string]interface{}) (interface{}, error) {
	return executeTemplate(ctx, t.root, env)
}

func executeTemplate(ctx context.Context, x interface{}, env map[string]interface{}) (interface{}, error) {
	switch v := x.(type) {
	case segments:
		// A lone expression returns its typed value.
		if len(v) == 1 && v[0].src != nil {
			return v[0].src.Eval(ctx, env)
		}
		var sb strings.Builder
		for _, seg := range v {
			if seg.src == nil {
				sb.WriteString(seg.lit)
				continue
			}
			val, err := seg.src.Eval(ctx, env)
			if err != nil {
				return nil, err
			}
			sb.WriteString(stringify(val))
		}
		return sb.String(), nil
	case map[string]interface{}:
		acc := make(map[string]interface{}, len(v))
		for k, kid := range v {
			e, err := executeTemplate(ctx, kid, env)
			if err != nil {
				return nil, err
			}
			acc[k] = e
		}
		return acc, nil
	case []interface{}:
		acc := make([]interface{}, len(v))
		for i, kid := range v {
			e, err := executeTemplate(ctx, kid, env)
			if err != nil {
				return nil, err
			}
			acc[i] = e
		}
		return acc, nil
	default:
		return x, nil
	}
}

func stringify(x interface{}) string {
	switch v := x.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
