package core

// TransitionInput says how the next Reaction receives its first
// input.
type TransitionInput string

const (
	// InputDefault waits for the next naturally-matching Event.
	InputDefault TransitionInput = "default"

	// InputForward immediately feeds the triggering Event to the
	// next Reaction.
	InputForward TransitionInput = "forward"

	// InputLocal feeds a value previously stored in the Thred's
	// scope (under LocalName) to the next Reaction.
	InputLocal TransitionInput = "local"
)

// TerminateReaction is the transition target that ends a Thred
// explicitly.
const TerminateReaction = "$terminate"

// Transition names the next Reaction.  An empty Name means "advance
// to the following Reaction in declaration order, or finish the Thred
// if there is none".
type Transition struct {
	Name      string          `json:"name,omitempty" yaml:",omitempty"`
	Input     TransitionInput `json:"input,omitempty" yaml:",omitempty"`
	LocalName string          `json:"localName,omitempty" yaml:"localName,omitempty"`
}

// DefaultTransition is the policy used when a match carries no
// Transition directive.
var DefaultTransition = Transition{Input: InputDefault}

func (t Transition) normalized() Transition {
	if t.Input == "" {
		t.Input = InputDefault
	}
	return t
}

// Validate checks the Transition's shape (not its target, which is
// resolved against a Pattern at transition time).
func (t *Transition) Validate() error {
	switch t.normalized().Input {
	case InputDefault, InputForward:
		return nil
	case InputLocal:
		if t.LocalName == "" {
			return &Validation{"transition.localName", "required for local input"}
		}
		return nil
	default:
		return &Validation{"transition.input", "unknown input '" + string(t.Input) + "'"}
	}
}
