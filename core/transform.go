package core

import (
	"context"

	"github.com/mitchellh/mapstructure"
)

// DefaultOutboundType is the type given to outbound Events whose
// Transform doesn't set one.
var DefaultOutboundType = "thred.notify"

// Transform produces the payload of the next outbound Event.
//
// Either EventData (a templated object whose string leaves may embed
// ${...} expressions) or Expr (a single expression producing the
// whole payload) must be given.  Re optionally computes a correlation
// id for the outbound Event; when absent, the outbound Event responds
// to the triggering Event.
type Transform struct {
	EventData interface{} `json:"eventDataTemplate,omitempty" yaml:"eventDataTemplate,omitempty" mapstructure:"eventDataTemplate"`
	Expr      string      `json:"expr,omitempty" yaml:",omitempty"`
	EventType string      `json:"eventType,omitempty" yaml:"eventType,omitempty" mapstructure:"eventType"`
	Re        string      `json:"re,omitempty" yaml:",omitempty"`

	tmpl    *Template
	exprSrc *ExprSource
	reSrc   *ExprSource
}

func (t *Transform) compile(ctx context.Context, interpreter string, interpreters Interpreters) error {
	if t.EventData == nil && t.Expr == "" {
		return &Validation{"transform", "requires eventDataTemplate or expr"}
	}
	if t.EventData != nil {
		tmpl, err := NewTemplate(ctx, t.EventData, interpreter, interpreters)
		if err != nil {
			return err
		}
		t.tmpl = tmpl
	}
	if t.Expr != "" {
		t.exprSrc = NewExprSource(interpreter, t.Expr)
		if err := t.exprSrc.Compile(ctx, interpreters); err != nil {
			return err
		}
	}
	if t.Re != "" {
		t.reSrc = NewExprSource(interpreter, t.Re)
		if err := t.reSrc.Compile(ctx, interpreters); err != nil {
			return err
		}
	}
	return nil
}

// Apply computes the outbound Event's data and correlation id from
// the triggering Event and the Thred's scope.
func (t *Transform) Apply(ctx context.Context, ev *Event, st *MatchState) (*EventData, string, error) {
	env := st.Env(ev)

	var raw interface{}
	var err error
	switch {
	case t.exprSrc != nil:
		raw, err = t.exprSrc.Eval(ctx, env)
	case t.tmpl != nil:
		raw, err = t.tmpl.Execute(ctx, env)
	}
	if err != nil {
		return nil, "", err
	}

	data, err := asEventData(raw)
	if err != nil {
		return nil, "", err
	}

	re := ev.Id
	if t.reSrc != nil {
		v, err := t.reSrc.Eval(ctx, env)
		if err != nil {
			return nil, "", err
		}
		if s, is := v.(string); is {
			re = s
		} else if v == nil {
			re = ""
		} else {
			return nil, "", &Validation{"transform.re", "did not produce a string"}
		}
	}

	return data, re, nil
}

// OutboundType gives the Event type for the outbound Event.
func (t *Transform) OutboundType() string {
	if t.EventType != "" {
		return t.EventType
	}
	return DefaultOutboundType
}

func asEventData(raw interface{}) (*EventData, error) {
	switch v := raw.(type) {
	case nil:
		return &EventData{}, nil
	case *EventData:
		return v, nil
	case string:
		return &EventData{Title: v}, nil
	case map[string]interface{}:
		var data EventData
		if err := mapstructure.Decode(v, &data); err != nil {
			return nil, &Validation{"transform.eventDataTemplate", err.Error()}
		}
		return &data, nil
	default:
		return nil, &Validation{"transform", "result is not an event data object"}
	}
}
