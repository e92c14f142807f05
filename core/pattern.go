package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

// Expiry forces a transition when a Reaction has been waiting too
// long.  Interval is a Go duration ("90s") or a cron expression
// ("0 */5 * * * * *").  Transition is the fallback; nil means the
// default advance-or-finish policy.
type Expiry struct {
	Interval   string      `json:"interval"`
	Transition *Transition `json:"transition,omitempty" yaml:",omitempty"`
}

// ParseInterval parses an Expiry interval: first as a Go duration,
// then as a cron expression giving the delay until the next firing.
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, &Validation{"expiry.interval", "not positive"}
		}
		return d, nil
	}
	c, err := cronexpr.Parse(s)
	if err != nil {
		return 0, &Validation{"expiry.interval", "neither a duration nor a cron expression"}
	}
	next := c.Next(time.Now())
	if next.IsZero() {
		return 0, &Validation{"expiry.interval", "cron expression never fires"}
	}
	return time.Until(next), nil
}

// Reaction is one named state of a Pattern's state machine.
type Reaction struct {
	Name string `json:"name,omitempty" yaml:",omitempty"`
	Doc  string `json:"doc,omitempty" yaml:",omitempty"`

	// Condition gates this Reaction's activation.
	Condition *ConditionModel `json:"condition"`

	// AllowedSources, when non-empty, restricts which Event
	// sources this Reaction accepts.
	AllowedSources []string `json:"allowedSources,omitempty" yaml:"allowedSources,omitempty"`

	Expiry *Expiry `json:"expiry,omitempty" yaml:",omitempty"`

	cond Condition
}

// Cond returns the compiled Condition tree.
func (r *Reaction) Cond() Condition {
	return r.cond
}

// AllowsSource reports whether an Event from the given source may
// activate this Reaction.  An empty AllowedSources allows everyone.
func (r *Reaction) AllowsSource(src *EventSource) bool {
	if len(r.AllowedSources) == 0 {
		return true
	}
	if src == nil {
		return false
	}
	for _, allowed := range r.AllowedSources {
		if allowed == src.Id {
			return true
		}
	}
	return false
}

// Pattern is an immutable template for a conversation: an ordered
// list of Reactions plus instance-throttling policy.  Loaded from
// data, compiled once, and shared read-only afterwards.
type Pattern struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Doc  string `json:"doc,omitempty" yaml:",omitempty"`

	// InstanceInterval is the minimum time, in milliseconds,
	// between new instances of this Pattern.
	InstanceInterval int64 `json:"instanceInterval,omitempty" yaml:"instanceInterval,omitempty" mapstructure:"instanceInterval"`

	// MaxInstances caps concurrently active instances.  Zero
	// means unlimited.
	MaxInstances int `json:"maxInstances,omitempty" yaml:"maxInstances,omitempty" mapstructure:"maxInstances"`

	// BroadcastAllowed permits publishing to broadcast addresses.
	BroadcastAllowed bool `json:"broadcastAllowed,omitempty" yaml:"broadcastAllowed,omitempty" mapstructure:"broadcastAllowed"`

	// AllowUnbound permits unbound Events to start new instances.
	AllowUnbound bool `json:"allowUnbound,omitempty" yaml:"allowUnbound,omitempty" mapstructure:"allowUnbound"`

	Reactions []*Reaction `json:"reactions"`

	// Loaded is a staleness timestamp set by the PatternStore.
	Loaded time.Time `json:"-" yaml:"-"`

	byName   map[string]int
	compiled bool
}

// Compile compiles every Reaction's Condition tree and validates the
// Pattern.  Must be called before the Pattern is used.
func (p *Pattern) Compile(ctx context.Context, interpreters Interpreters) error {
	if p.Id == "" {
		return &Validation{"pattern.id", "missing"}
	}
	if p.Name == "" {
		p.Name = p.Id
	}
	if len(p.Reactions) == 0 {
		return &Validation{"pattern.reactions", "missing"}
	}

	p.byName = make(map[string]int, len(p.Reactions))
	for i, r := range p.Reactions {
		if r == nil {
			return &Validation{"pattern.reactions", "nil reaction"}
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("reaction-%d", i)
		}
		if r.Name == TerminateReaction {
			return &Validation{"reaction.name", "'" + TerminateReaction + "' is reserved"}
		}
		if _, dup := p.byName[r.Name]; dup {
			return &Validation{"reaction.name", "duplicate '" + r.Name + "'"}
		}
		p.byName[r.Name] = i

		cond, err := NewCondition(ctx, r.Condition, "0", interpreters)
		if err != nil {
			return fmt.Errorf("pattern %q reaction %q: %w", p.Name, r.Name, err)
		}
		r.cond = cond

		if r.Expiry != nil {
			if _, err := ParseInterval(r.Expiry.Interval); err != nil {
				return fmt.Errorf("pattern %q reaction %q: %w", p.Name, r.Name, err)
			}
			if r.Expiry.Transition != nil {
				if err := r.Expiry.Transition.Validate(); err != nil {
					return err
				}
			}
		}
	}

	p.compiled = true
	return nil
}

// Reaction finds a Reaction by name.
func (p *Pattern) Reaction(name string) (*Reaction, error) {
	if !p.compiled {
		return nil, &NotCompiled{p.Name}
	}
	i, have := p.byName[name]
	if !have {
		return nil, &UnknownReaction{p.Name, name}
	}
	return p.Reactions[i], nil
}

// First returns the Pattern's first Reaction.
func (p *Pattern) First() *Reaction {
	return p.Reactions[0]
}

// Next resolves a Transition from the named current Reaction.  It
// returns the next Reaction, or nil when the Thred should finish.
func (p *Pattern) Next(current string, t *Transition) (*Reaction, error) {
	if t != nil && t.Name == TerminateReaction {
		return nil, nil
	}
	if t != nil && t.Name != "" {
		return p.Reaction(t.Name)
	}
	i, have := p.byName[current]
	if !have {
		return nil, &UnknownReaction{p.Name, current}
	}
	if i+1 < len(p.Reactions) {
		return p.Reactions[i+1], nil
	}
	return nil, nil
}

// PatternStore is a reloadable registry of compiled Patterns.
//
// Handles are passed in explicitly wherever they're needed; there is
// no process-wide registry.
type PatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
	loaded   time.Time
}

// NewPatternStore creates an empty PatternStore.
func NewPatternStore() *PatternStore {
	return &PatternStore{
		patterns: make(map[string]*Pattern),
	}
}

// Add registers a compiled Pattern, replacing any Pattern with the
// same id.
func (ps *PatternStore) Add(p *Pattern) error {
	if !p.compiled {
		return &NotCompiled{p.Name}
	}
	ps.mu.Lock()
	p.Loaded = time.Now()
	ps.patterns[p.Id] = p
	ps.loaded = p.Loaded
	ps.mu.Unlock()
	return nil
}

// Reload replaces the whole registry at once.
func (ps *PatternStore) Reload(patterns []*Pattern) error {
	for _, p := range patterns {
		if !p.compiled {
			return &NotCompiled{p.Name}
		}
	}
	now := time.Now()
	acc := make(map[string]*Pattern, len(patterns))
	for _, p := range patterns {
		p.Loaded = now
		acc[p.Id] = p
	}
	ps.mu.Lock()
	ps.patterns = acc
	ps.loaded = now
	ps.mu.Unlock()
	return nil
}

// Find returns the Pattern with the given id, or an UnknownPattern
// error.
func (ps *PatternStore) Find(id string) (*Pattern, error) {
	ps.mu.RLock()
	p, have := ps.patterns[id]
	ps.mu.RUnlock()
	if !have {
		return nil, &UnknownPattern{id}
	}
	return p, nil
}

// List returns all Patterns (in no particular order).
func (ps *PatternStore) List() []*Pattern {
	ps.mu.RLock()
	acc := make([]*Pattern, 0, len(ps.patterns))
	for _, p := range ps.patterns {
		acc = append(acc, p)
	}
	ps.mu.RUnlock()
	return acc
}

// Loaded reports when the store last changed, for staleness checks.
func (ps *PatternStore) Loaded() time.Time {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.loaded
}
