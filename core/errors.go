package core

// These errors are user errors (bad patterns, bad events, bad
// directives), not internal errors.  They abort processing of a
// single Event and leave the Thred in its prior state.

import (
	"fmt"
)

// EvalError occurs when an expression fails to compile or to
// evaluate.
type EvalError struct {
	Source string
	Err    error
}

func (e *EvalError) Error() string {
	return `eval of "` + e.Source + `" failed: ` + e.Err.Error()
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Validation occurs when a model or directive is malformed, for
// example a publish whose targets resolve to nothing.
type Validation struct {
	Field  string
	Reason string
}

func (e *Validation) Error() string {
	return `invalid "` + e.Field + `": ` + e.Reason
}

// Unauthorized occurs when an Event's source is not in the current
// Reaction's allowedSources.  The Event is rejected without mutating
// any state.
type Unauthorized struct {
	SourceId string
	Reaction string
}

func (e *Unauthorized) Error() string {
	return `source "` + e.SourceId + `" not allowed at reaction "` + e.Reaction + `"`
}

// UnknownPattern occurs when a Thred refers to a Pattern that is not
// in the PatternStore (usually after a bad reload).
type UnknownPattern struct {
	PatternId string
}

func (e *UnknownPattern) Error() string {
	return `pattern "` + e.PatternId + `" not found`
}

// UnknownReaction occurs when a transition names a Reaction that the
// Pattern does not declare.
type UnknownReaction struct {
	PatternName string
	Reaction    string
}

func (e *UnknownReaction) Error() string {
	return `reaction "` + e.Reaction + `" not found in pattern "` + e.PatternName + `"`
}

// ThredNotFound occurs when an Event carries a ThredId that no
// persisted Thred has.
type ThredNotFound struct {
	ThredId string
}

func (e *ThredNotFound) Error() string {
	return `thred "` + e.ThredId + `" not found`
}

// Throttled occurs when a Pattern declines to start a new Thred
// because of maxInstances or instanceInterval.
type Throttled struct {
	PatternId string
	Reason    string
}

func (e *Throttled) Error() string {
	return `pattern "` + e.PatternId + `" throttled: ` + e.Reason
}

// NotCompiled occurs when a Pattern is used before Compile.
type NotCompiled struct {
	PatternName string
}

func (e *NotCompiled) Error() string {
	return fmt.Sprintf("pattern %q not compiled", e.PatternName)
}
