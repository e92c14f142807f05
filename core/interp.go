package core

import (
	"context"
	"errors"
)

var (
	// InterpreterNotFound occurs when you try to Compile an
	// ExprSource and the required interpreter isn't in the given
	// map of interpreters.
	InterpreterNotFound = errors.New("interpreter not found")

	// DefaultInterpreters will be used when compiling with a nil
	// interpreter map.  Interpreter packages register themselves
	// here in their init functions.
	DefaultInterpreters = make(Interpreters)

	// DefaultInterpreter is the interpreter name used when an
	// ExprSource doesn't name one.
	DefaultInterpreter = "expr"
)

// Interpreters maps interpreter names to implementations.
type Interpreters map[string]Interpreter

// Interpreter can compile and evaluate expression source code.
//
// Evaluation failures must surface as errors, never as panics or
// crashes.
type Interpreter interface {
	// Compile can make something that helps when Eval'ing the
	// code later.
	Compile(ctx context.Context, code string) (interface{}, error)

	// Eval evaluates the code against the given environment.  The
	// result of a previous Compile might be provided.
	Eval(ctx context.Context, code string, compiled interface{}, env map[string]interface{}) (interface{}, error)
}

// ExprSource is a piece of expression source code together with the
// (optional) name of the interpreter that should evaluate it.
//
// An ExprSource is compiled once, as part of Pattern compilation, and
// the compiled form is then shared read-only.
type ExprSource struct {
	Interpreter string `json:"interpreter,omitempty" yaml:",omitempty"`
	Source      string `json:"source"`

	compiled interface{}
	interp   Interpreter
}

// NewExprSource makes an (uncompiled) ExprSource.
func NewExprSource(interpreter, source string) *ExprSource {
	return &ExprSource{
		Interpreter: interpreter,
		Source:      source,
	}
}

// Compile resolves the interpreter and compiles the source.
func (s *ExprSource) Compile(ctx context.Context, interpreters Interpreters) error {
	if interpreters == nil {
		interpreters = DefaultInterpreters
	}
	name := s.Interpreter
	if name == "" {
		name = DefaultInterpreter
	}
	interp, have := interpreters[name]
	if !have {
		return InterpreterNotFound
	}
	compiled, err := interp.Compile(ctx, s.Source)
	if err != nil {
		return &EvalError{s.Source, err}
	}
	s.compiled = compiled
	s.interp = interp
	return nil
}

// Eval evaluates the (compiled) source against the environment.
func (s *ExprSource) Eval(ctx context.Context, env map[string]interface{}) (interface{}, error) {
	if s.interp == nil {
		return nil, &EvalError{s.Source, errors.New("not compiled")}
	}
	v, err := s.interp.Eval(ctx, s.Source, s.compiled, env)
	if err != nil {
		return nil, &EvalError{s.Source, err}
	}
	return v, nil
}

// Truthy reports whether an expression result counts as a match.
//
// nil, false, zero numbers, and empty strings do not.
func Truthy(x interface{}) bool {
	switch v := x.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
