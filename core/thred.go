package core

// ThredStatus is the lifecycle state of a Thred.
type ThredStatus string

const (
	// ThredActive threds react to Events.
	ThredActive ThredStatus = "active"

	// ThredFinished threds ran out of Reactions.
	ThredFinished ThredStatus = "finished"

	// ThredTerminated threds were stopped explicitly.
	ThredTerminated ThredStatus = "terminated"
)

// Thred is a running instance of a Pattern: one conversation.
//
// The Thred record is the unit of persistence and of locking.  It
// carries everything mutable about the conversation -- current
// Reaction, scope, condition progress -- so writing the record under
// the Thred's lock is all the coordination the engine needs.
type Thred struct {
	Id          string `json:"id"`
	PatternId   string `json:"patternId"`
	PatternName string `json:"patternName,omitempty" yaml:",omitempty"`

	// Reaction is the name of the current Reaction.
	Reaction string `json:"reaction"`

	// ExpiresAt is when the current Reaction's expiry fires, in
	// milliseconds since the epoch.  Zero means no expiry.
	ExpiresAt int64 `json:"expiresAt,omitempty" yaml:",omitempty"`

	Status ThredStatus `json:"status"`

	StartedAt int64 `json:"startedAt"`
	UpdatedAt int64 `json:"updatedAt"`
	EndedAt   int64 `json:"endedAt,omitempty" yaml:",omitempty"`

	Scope    Scope     `json:"scope,omitempty" yaml:",omitempty"`
	Progress *Progress `json:"progress,omitempty" yaml:",omitempty"`
}

// NewThred creates an active Thred positioned at the Pattern's first
// Reaction.
func NewThred(p *Pattern) *Thred {
	now := Now()
	return &Thred{
		Id:          Gen(),
		PatternId:   p.Id,
		PatternName: p.Name,
		Reaction:    p.First().Name,
		Status:      ThredActive,
		StartedAt:   now,
		UpdatedAt:   now,
		Scope:       NewScope(),
		Progress:    NewProgress(),
	}
}

// Active reports whether the Thred still reacts to Events.
func (t *Thred) Active() bool {
	return t.Status == ThredActive
}

// MatchState makes a MatchState seeded with copies of the Thred's
// scope and progress.  The engine writes the copies back only after a
// successful evaluation.
func (t *Thred) MatchState() *MatchState {
	return &MatchState{
		ThredId:  t.Id,
		Scope:    t.Scope.Copy(),
		Progress: t.Progress.Copy(),
	}
}

// adopt writes a MatchState's (possibly mutated) copies back onto the
// Thred.
func (t *Thred) adopt(st *MatchState) {
	t.Scope = st.Scope
	t.Progress = st.Progress
	t.UpdatedAt = Now()
}

// end marks the Thred inactive.
func (t *Thred) end(status ThredStatus) {
	t.Status = status
	t.ExpiresAt = 0
	now := Now()
	t.UpdatedAt = now
	t.EndedAt = now
}
