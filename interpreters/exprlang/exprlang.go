// Package exprlang evaluates expressions with
// github.com/expr-lang/expr.
//
// This is the default interpreter.  Expressions are compiled once and
// run against the per-Event environment (event, context, set).
package exprlang

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rburson-acme/new-rules-sub003/core"
)

func init() {
	core.DefaultInterpreters["expr"] = NewInterpreter()
}

type Interpreter struct{}

func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Compile builds a vm.Program for use by Eval.
//
// Undefined variables are allowed so that expressions can probe Event
// payloads and Thred scope without declaring them first.
func (i *Interpreter) Compile(ctx context.Context, code string) (interface{}, error) {
	return expr.Compile(code, expr.AllowUndefinedVariables())
}

func (i *Interpreter) Eval(ctx context.Context, code string, compiled interface{}, env map[string]interface{}) (interface{}, error) {
	prog, ok := compiled.(*vm.Program)
	if !ok {
		p, err := expr.Compile(code, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, err
		}
		prog = p
	}
	if env == nil {
		env = map[string]interface{}{}
	}
	return expr.Run(prog, env)
}
