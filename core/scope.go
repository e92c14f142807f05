package core

// Scope is a Thred-scoped key/value context.  Expressions can read it
// (as 'context') and write it (via the 'set' helper exposed to onTrue
// and onPublish side effects).
//
// A Scope travels with its Thred record, so it is only ever mutated
// under the Thred's lock.
type Scope map[string]interface{}

// NewScope creates an empty Scope.
func NewScope() Scope {
	return make(Scope)
}

// Copy makes a shallow copy of the Scope.
//
// Values are shared, which is fine: the engine treats stored values
// as immutable and replaces them wholesale.
func (s Scope) Copy() Scope {
	acc := make(Scope, len(s))
	for k, v := range s {
		acc[k] = v
	}
	return acc
}

// Extend binds key to value, returning the Scope for chaining.
func (s Scope) Extend(key string, value interface{}) Scope {
	s[key] = value
	return s
}

// Values renders the Scope as a plain map for expression
// environments.
func (s Scope) Values() map[string]interface{} {
	if s == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}(s)
}

// Progress is the side table of Condition match state for one Thred's
// current Reaction: condition id to operand match vector.
//
// Condition nodes never store progress on themselves.  They read and
// write it here, keyed by their ids, and the engine persists the
// whole table with the Thred record only after an evaluation
// completes without error.
type Progress struct {
	Vectors map[string][]bool `json:"vectors,omitempty" yaml:",omitempty"`
}

// NewProgress creates an empty Progress table.
func NewProgress() *Progress {
	return &Progress{Vectors: make(map[string][]bool)}
}

// Vector returns the match vector for the given condition id,
// creating (but not storing) a length-n vector if absent.
func (p *Progress) Vector(conditionId string, n int) []bool {
	if p.Vectors != nil {
		if v, have := p.Vectors[conditionId]; have && len(v) == n {
			return v
		}
	}
	return make([]bool, n)
}

// Set stores the match vector for the given condition id.
func (p *Progress) Set(conditionId string, v []bool) {
	if p.Vectors == nil {
		p.Vectors = make(map[string][]bool)
	}
	p.Vectors[conditionId] = v
}

// Copy makes a deep copy of the Progress table.
func (p *Progress) Copy() *Progress {
	acc := NewProgress()
	if p == nil {
		return acc
	}
	for id, v := range p.Vectors {
		w := make([]bool, len(v))
		copy(w, v)
		acc.Vectors[id] = w
	}
	return acc
}

// Reset discards all match state (used when a Reaction changes).
func (p *Progress) Reset() {
	p.Vectors = make(map[string][]bool)
}

// MatchState carries the mutable state that a Condition tree needs
// while evaluating one Event for one Thred.
//
// The engine populates a MatchState with copies of the Thred's Scope
// and Progress, lets the Condition tree mutate those copies, and
// writes them back only if the whole evaluation succeeds.  A failed
// evaluation therefore leaves the Thred exactly as it was.
type MatchState struct {
	ThredId  string
	Scope    Scope
	Progress *Progress
}

// NewMatchState creates a fresh MatchState for the given Thred id.
func NewMatchState(thredId string) *MatchState {
	return &MatchState{
		ThredId:  thredId,
		Scope:    NewScope(),
		Progress: NewProgress(),
	}
}

// Env builds the expression environment for the given Event.
//
// The environment exposes 'event', 'context', and a 'set' function
// that writes into the Thred's scope.
func (st *MatchState) Env(ev *Event) map[string]interface{} {
	env := map[string]interface{}{
		"event":   ev.Values(),
		"context": st.Scope.Values(),
	}
	env["set"] = func(key string, value interface{}) bool {
		st.Scope.Extend(key, value)
		return true
	}
	return env
}
