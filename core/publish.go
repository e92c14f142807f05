package core

import (
	"context"
)

// Publish resolves the destination addresses for an outbound Event.
//
// Addresses can be given literally (To), computed by an expression
// evaluated against the triggering Event and scope (Expr), or both.
// Address strings are opaque here; the routing layer decides whether
// an address names a service, a group, or a participant.
//
// OnPublish is an optional side-effect expression that runs against
// the outbound Event once it has been computed.
type Publish struct {
	To        []string `json:"to,omitempty" yaml:",omitempty"`
	Expr      string   `json:"expr,omitempty" yaml:",omitempty"`
	OnPublish string   `json:"onPublish,omitempty" yaml:"onPublish,omitempty"`

	src   *ExprSource
	onSrc *ExprSource
}

func (p *Publish) compile(ctx context.Context, interpreter string, interpreters Interpreters) error {
	if len(p.To) == 0 && p.Expr == "" {
		return &Validation{"publish", "requires to or expr"}
	}
	if p.Expr != "" {
		p.src = NewExprSource(interpreter, p.Expr)
		if err := p.src.Compile(ctx, interpreters); err != nil {
			return err
		}
	}
	if p.OnPublish != "" {
		p.onSrc = NewExprSource(interpreter, p.OnPublish)
		if err := p.onSrc.Compile(ctx, interpreters); err != nil {
			return err
		}
	}
	return nil
}

// Resolve computes the outbound addresses for the triggering Event.
// An empty result is a validation error: a Publish that resolves to
// nothing is malformed.
func (p *Publish) Resolve(ctx context.Context, ev *Event, st *MatchState) ([]string, error) {
	acc := make([]string, 0, len(p.To)+1)
	seen := make(map[string]bool, len(p.To)+1)
	add := func(a string) {
		if a != "" && !seen[a] {
			seen[a] = true
			acc = append(acc, a)
		}
	}
	for _, a := range p.To {
		add(a)
	}

	if p.src != nil {
		v, err := p.src.Eval(ctx, st.Env(ev))
		if err != nil {
			return nil, err
		}
		switch addrs := v.(type) {
		case string:
			add(addrs)
		case []string:
			for _, a := range addrs {
				add(a)
			}
		case []interface{}:
			for _, x := range addrs {
				if a, is := x.(string); is {
					add(a)
				} else {
					return nil, &Validation{"publish.expr", "address is not a string"}
				}
			}
		case nil:
			// Nothing to add.
		default:
			return nil, &Validation{"publish.expr", "did not produce addresses"}
		}
	}

	if len(acc) == 0 {
		return nil, &Validation{"publish.to", "no addresses resolved"}
	}
	return acc, nil
}

// SideEffect runs OnPublish (if any) against the outbound Event.
func (p *Publish) SideEffect(ctx context.Context, outbound *Event, st *MatchState) error {
	if p.onSrc == nil {
		return nil
	}
	_, err := p.onSrc.Eval(ctx, st.Env(outbound))
	return err
}
