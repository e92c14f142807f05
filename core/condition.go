package core

import (
	"context"
	"strconv"
)

// ConditionType tags the variants of a Condition tree node.
type ConditionType string

const (
	FilterType ConditionType = "filter"
	AndType    ConditionType = "and"
	OrType     ConditionType = "or"
)

// ConditionModel is the data form of a Condition tree node, as it
// appears in a Pattern file.
type ConditionModel struct {
	Type ConditionType `json:"type,omitempty" yaml:",omitempty"`

	// Expr is the predicate of a filter node.
	Expr string `json:"expr,omitempty" yaml:",omitempty"`

	// Interpreter optionally names the interpreter for this
	// node's expressions ("expr" by default).
	Interpreter string `json:"interpreter,omitempty" yaml:",omitempty"`

	// Operands are the ordered children of an and/or node.
	Operands []*ConditionModel `json:"operands,omitempty" yaml:",omitempty"`

	// Any node can carry its own directives.
	Transform  *Transform  `json:"transform,omitempty" yaml:",omitempty"`
	Publish    *Publish    `json:"publish,omitempty" yaml:",omitempty"`
	Transition *Transition `json:"transition,omitempty" yaml:",omitempty"`

	// OnTrue is a side-effect expression that runs after this
	// node matches.
	OnTrue string `json:"onTrue,omitempty" yaml:"onTrue,omitempty"`
}

// Directives is what a matched Condition tells the engine to do.
type Directives struct {
	Transform  *Transform
	Publish    *Publish
	Transition *Transition
}

// Overlay merges child directives over the receiver, field by field.
// A non-nil child field wins ("deepest one wins").
func (d *Directives) Overlay(child *Directives) *Directives {
	acc := &Directives{
		Transform:  d.Transform,
		Publish:    d.Publish,
		Transition: d.Transition,
	}
	if child == nil {
		return acc
	}
	if child.Transform != nil {
		acc.Transform = child.Transform
	}
	if child.Publish != nil {
		acc.Publish = child.Publish
	}
	if child.Transition != nil {
		acc.Transition = child.Transition
	}
	return acc
}

// Condition is a compiled node in a boolean expression tree.
//
// Apply returns non-nil Directives when the node matched the Event,
// and nil Directives (with a nil error) when it hasn't matched yet.
// Apply may read and write the MatchState's Progress and, through
// side effects, its Scope.
//
// Test is a side channel for membership checks: would this Event be
// accepted here?  Test never mutates state and never runs side
// effects.
type Condition interface {
	Id() string
	Apply(ctx context.Context, ev *Event, st *MatchState) (*Directives, error)
	Test(ctx context.Context, ev *Event, st *MatchState) (bool, error)
}

// NewCondition compiles a ConditionModel into a Condition.
//
// Node ids are hierarchical and assigned depth-first: the root is
// "0", its children "0.0", "0.1", and so on.  Ids are unique within
// one Reaction only.
func NewCondition(ctx context.Context, m *ConditionModel, id string, interpreters Interpreters) (Condition, error) {
	if m == nil {
		return nil, &Validation{"condition", "missing"}
	}

	typ := m.Type
	if typ == "" {
		if len(m.Operands) == 0 && m.Expr != "" {
			typ = FilterType
		} else {
			return nil, &Validation{"condition.type", "missing"}
		}
	}

	base, err := newBaseCondition(ctx, m, id, interpreters)
	if err != nil {
		return nil, err
	}

	switch typ {
	case FilterType:
		if m.Expr == "" {
			return nil, &Validation{"condition.expr", "filter requires an expression"}
		}
		if len(m.Operands) != 0 {
			return nil, &Validation{"condition.operands", "filter cannot have operands"}
		}
		pred := NewExprSource(m.Interpreter, m.Expr)
		if err := pred.Compile(ctx, interpreters); err != nil {
			return nil, err
		}
		return &FilterCondition{baseCondition: base, pred: pred}, nil
	case AndType, OrType:
		if len(m.Operands) == 0 {
			return nil, &Validation{"condition.operands", string(typ) + " requires operands"}
		}
		kids := make([]Condition, len(m.Operands))
		for i, om := range m.Operands {
			kid, err := NewCondition(ctx, om, childId(id, i), interpreters)
			if err != nil {
				return nil, err
			}
			kids[i] = kid
		}
		if typ == AndType {
			return &AndCondition{baseCondition: base, operands: kids}, nil
		}
		return &OrCondition{baseCondition: base, operands: kids}, nil
	default:
		return nil, &Validation{"condition.type", "unknown type '" + string(typ) + "'"}
	}
}

func childId(parent string, i int) string {
	return parent + "." + strconv.Itoa(i)
}

// baseCondition holds what every node variant shares: its id, its own
// directives, and its compiled onTrue side effect.
type baseCondition struct {
	id     string
	d      Directives
	onTrue *ExprSource
}

func newBaseCondition(ctx context.Context, m *ConditionModel, id string, interpreters Interpreters) (baseCondition, error) {
	b := baseCondition{id: id}

	if m.Transform != nil {
		if err := m.Transform.compile(ctx, m.Interpreter, interpreters); err != nil {
			return b, err
		}
		b.d.Transform = m.Transform
	}
	if m.Publish != nil {
		if err := m.Publish.compile(ctx, m.Interpreter, interpreters); err != nil {
			return b, err
		}
		b.d.Publish = m.Publish
	}
	if m.Transition != nil {
		t := m.Transition.normalized()
		b.d.Transition = &t
	}
	if m.OnTrue != "" {
		b.onTrue = NewExprSource(m.Interpreter, m.OnTrue)
		if err := b.onTrue.Compile(ctx, interpreters); err != nil {
			return b, err
		}
	}
	return b, nil
}

func (b *baseCondition) Id() string {
	return b.id
}

// own returns a copy of the node's own directives, or nil if it has
// none (so that Overlay at the parent doesn't mistake "no directive"
// for "empty directive").
func (b *baseCondition) own() *Directives {
	return &Directives{
		Transform:  b.d.Transform,
		Publish:    b.d.Publish,
		Transition: b.d.Transition,
	}
}

// fire runs the node's onTrue side effect against the Event and the
// Thred's scope.
func (b *baseCondition) fire(ctx context.Context, ev *Event, st *MatchState) error {
	if b.onTrue == nil {
		return nil
	}
	_, err := b.onTrue.Eval(ctx, st.Env(ev))
	return err
}

// FilterCondition matches iff its predicate evaluates truthily.  It
// is stateless: no progress is recorded.
type FilterCondition struct {
	baseCondition
	pred *ExprSource
}

func (c *FilterCondition) Apply(ctx context.Context, ev *Event, st *MatchState) (*Directives, error) {
	v, err := c.pred.Eval(ctx, st.Env(ev))
	if err != nil {
		return nil, err
	}
	if !Truthy(v) {
		return nil, nil
	}
	if err := c.fire(ctx, ev, st); err != nil {
		return nil, err
	}
	return c.own(), nil
}

func (c *FilterCondition) Test(ctx context.Context, ev *Event, st *MatchState) (bool, error) {
	v, err := c.pred.Eval(ctx, testEnv(ev, st))
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// AndCondition matches once every operand has matched, possibly via
// different Events, in any order, over an unbounded window.  The
// per-operand match vector is kept in the MatchState's Progress,
// keyed by this node's id.
//
// On an overall match the node returns only its own directives.
// Matched operands' directives are intentionally discarded: no single
// operand can authoritatively decide what a conjunction of
// independent conditions should publish or where it should go.
type AndCondition struct {
	baseCondition
	operands []Condition
}

func (c *AndCondition) Apply(ctx context.Context, ev *Event, st *MatchState) (*Directives, error) {
	vec := st.Progress.Vector(c.id, len(c.operands))
	next := make([]bool, len(vec))
	copy(next, vec)

	all := true
	for i, kid := range c.operands {
		if next[i] {
			continue
		}
		ds, err := kid.Apply(ctx, ev, st)
		if err != nil {
			return nil, err
		}
		if ds != nil {
			next[i] = true
		} else {
			all = false
		}
	}

	st.Progress.Set(c.id, next)

	if !all {
		return nil, nil
	}
	if err := c.fire(ctx, ev, st); err != nil {
		return nil, err
	}
	return c.own(), nil
}

func (c *AndCondition) Test(ctx context.Context, ev *Event, st *MatchState) (bool, error) {
	vec := st.Progress.Vector(c.id, len(c.operands))
	for i, kid := range c.operands {
		if vec[i] {
			continue
		}
		ok, err := kid.Test(ctx, ev, st)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// OrCondition evaluates its operands in order and short-circuits on
// the first match.  The matching operand's directives override the
// node's own, field by field ("deepest one wins").
//
// The node itself is stateless, but its operands may not be: an
// and-node under an or keeps its own progress.
type OrCondition struct {
	baseCondition
	operands []Condition
}

func (c *OrCondition) Apply(ctx context.Context, ev *Event, st *MatchState) (*Directives, error) {
	for _, kid := range c.operands {
		ds, err := kid.Apply(ctx, ev, st)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			continue
		}
		if err := c.fire(ctx, ev, st); err != nil {
			return nil, err
		}
		return c.own().Overlay(ds), nil
	}
	return nil, nil
}

func (c *OrCondition) Test(ctx context.Context, ev *Event, st *MatchState) (bool, error) {
	for _, kid := range c.operands {
		ok, err := kid.Test(ctx, ev, st)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// testEnv is Env without the 'set' helper, so Test cannot mutate the
// scope.
func testEnv(ev *Event, st *MatchState) map[string]interface{} {
	return map[string]interface{}{
		"event":   ev.Values(),
		"context": st.Scope.Values(),
		"set": func(key string, value interface{}) bool {
			return true
		},
	}
}
