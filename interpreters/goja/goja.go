// Package goja evaluates expressions as ECMAScript with
// github.com/dop251/goja.
//
// An expression is wrapped in parens so that object literals like
// {x: 1} parse as expressions rather than blocks.
package goja

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/rburson-acme/new-rules-sub003/core"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Eval if the execution is
	// interrupted by context cancellation or timeout.
	Interrupted = errors.New(InterruptedMessage)
)

func init() {
	core.DefaultInterpreters["goja"] = NewInterpreter()
}

type Interpreter struct {
	// Timeout bounds script execution when the caller's context
	// carries no deadline.
	Timeout time.Duration
}

func NewInterpreter() *Interpreter {
	return &Interpreter{
		Timeout: time.Second,
	}
}

func (i *Interpreter) Compile(ctx context.Context, code string) (interface{}, error) {
	return goja.Compile("", "("+code+")", true)
}

func (i *Interpreter) Eval(ctx context.Context, code string, compiled interface{}, env map[string]interface{}) (interface{}, error) {
	prog, ok := compiled.(*goja.Program)
	if !ok {
		p, err := goja.Compile("", "("+code+")", true)
		if err != nil {
			return nil, err
		}
		prog = p
	}

	o := goja.New()
	for k, v := range env {
		if err := o.Set(k, v); err != nil {
			return nil, err
		}
	}

	cancel := func() {}
	if _, have := ctx.Deadline(); !have && 0 < i.Timeout {
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
	}
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			o.Interrupt(InterruptedMessage)
		case <-done:
		}
	}()

	v, err := runProgram(o, prog)
	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			return nil, Interrupted
		}
		return nil, err
	}
	return v.Export(), nil
}

// runProgram recovers from goja panics, which can otherwise escape
// RunProgram on pathological scripts.
func runProgram(o *goja.Runtime, p *goja.Program) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, is := r.(error); is {
				err = e
			} else {
				err = Interrupted
			}
		}
	}()
	return o.RunProgram(p)
}
