package core

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/rburson-acme/new-rules-sub003/storage"
)

var (
	// DefaultStepLimit bounds how many Reactions one Event can
	// drive a Thred through (via forward/local transitions).
	DefaultStepLimit = 32

	// DefaultLockTTL bounds how long a Thred or Pattern lock can
	// be held before it expires on its own.
	DefaultLockTTL = 5 * time.Second

	// DefaultEngineSource is the source attached to outbound
	// Events.
	DefaultEngineSource = &EventSource{Id: "engine", Name: "engine"}
)

// Router delivers an outbound Event to its resolved addresses.  The
// routing package provides the real one.
type Router interface {
	Route(ctx context.Context, ev *Event, addresses []string) error
}

// Timers arms and cancels per-Thred expiry timers.  The expiry
// package provides the real one.
//
// Arm replaces any pending timer for the Thred; there is never more
// than one.
type Timers interface {
	Arm(ctx context.Context, thredId, reaction string, at time.Time) error
	Cancel(thredId string)
}

// Recorder is the append-only audit sink for processed Events and
// Thred snapshots.  The matching and routing logic never reads it.
type Recorder interface {
	Event(ctx context.Context, ev *Event, thredId string, matched bool) error
	Snapshot(ctx context.Context, t *Thred) error
}

// Outcome reports what one Reaction attempt did.
type Outcome struct {
	ThredId   string      `json:"thredId"`
	PatternId string      `json:"patternId"`
	Created   bool        `json:"created,omitempty" yaml:",omitempty"`
	Matched   bool        `json:"matched,omitempty" yaml:",omitempty"`
	Expired   bool        `json:"expired,omitempty" yaml:",omitempty"`
	Reaction  string      `json:"reaction,omitempty" yaml:",omitempty"`
	Next      string      `json:"next,omitempty" yaml:",omitempty"`
	Status    ThredStatus `json:"status,omitempty" yaml:",omitempty"`
	Outbound  *Event      `json:"outbound,omitempty" yaml:",omitempty"`
	To        []string    `json:"to,omitempty" yaml:",omitempty"`
}

// Engine routes inbound Events through Patterns and their Threds.
//
// All collaborators are passed in explicitly.  Patterns, Store, and
// Locks are required; Router, Timers, and Recorder are optional (a
// nil Router computes outcomes without delivering them, which is
// handy in tests).
type Engine struct {
	Patterns *PatternStore
	Store    storage.Storage
	Locks    *storage.LockManager

	Router   Router
	Timers   Timers
	Recorder Recorder

	// Source is stamped on outbound Events
	// (DefaultEngineSource when nil).
	Source *EventSource

	StepLimit int
	LockTTL   time.Duration

	Logf func(format string, args ...interface{})
}

// NewEngine makes an Engine with the required collaborators.
func NewEngine(patterns *PatternStore, store storage.Storage, locks *storage.LockManager) *Engine {
	return &Engine{
		Patterns: patterns,
		Store:    store,
		Locks:    locks,
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

func (e *Engine) lockTTL() time.Duration {
	if e.LockTTL <= 0 {
		return DefaultLockTTL
	}
	return e.LockTTL
}

func (e *Engine) source() *EventSource {
	if e.Source != nil {
		return e.Source
	}
	return DefaultEngineSource
}

// Storage keys.

const activeSet = "threds.active"

func thredKey(id string) string {
	return "thred." + id
}

func patternSet(patternId string) string {
	return "pattern.threds." + patternId
}

func patternLastKey(patternId string) string {
	return "pattern.last." + patternId
}

// Consider is the engine's entry point.
//
// An Event bound to a Thred (via ThredId) is evaluated against that
// Thred's current Reaction, under the Thred's lock.  An unbound Event
// is tested against the first Reaction of every Pattern that allows
// unbound activation, and each match (subject to throttling) starts a
// new Thred.
//
// A lock-acquisition timeout surfaces as *storage.LockTimeout; the
// caller should requeue the Event.
func (e *Engine) Consider(ctx context.Context, ev *Event) ([]*Outcome, error) {
	if ev == nil || ev.Id == "" {
		return nil, &Validation{"event.id", "missing"}
	}

	var (
		outs []*Outcome
		err  error
	)
	if ev.ThredId != "" {
		outs, err = e.considerBound(ctx, ev)
	} else {
		outs, err = e.considerUnbound(ctx, ev)
	}

	e.record(ctx, ev, outs)
	return outs, err
}

func (e *Engine) record(ctx context.Context, ev *Event, outs []*Outcome) {
	if e.Recorder == nil {
		return
	}
	thredId := ev.ThredId
	matched := false
	for _, o := range outs {
		if thredId == "" {
			thredId = o.ThredId
		}
		matched = matched || o.Matched
	}
	if err := e.Recorder.Event(ctx, ev, thredId, matched); err != nil {
		e.logf("engine: record error %v event=%s", err, ev.Id)
	}
}

func (e *Engine) snapshot(ctx context.Context, t *Thred) {
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.Snapshot(ctx, t); err != nil {
		e.logf("engine: snapshot error %v thred=%s", err, t.Id)
	}
}

func (e *Engine) considerBound(ctx context.Context, ev *Event) ([]*Outcome, error) {
	var outs []*Outcome
	err := e.Locks.WithLock(ctx, "thred", ev.ThredId, e.lockTTL(), func(ctx context.Context) error {
		t, err := e.loadThred(ctx, ev.ThredId)
		if err != nil {
			return err
		}
		if !t.Active() {
			outs = []*Outcome{{ThredId: t.Id, PatternId: t.PatternId, Status: t.Status}}
			return nil
		}
		p, err := e.Patterns.Find(t.PatternId)
		if err != nil {
			return err
		}
		outs, err = e.runThred(ctx, p, t, ev)
		return err
	})
	return outs, err
}

func (e *Engine) considerUnbound(ctx context.Context, ev *Event) ([]*Outcome, error) {
	patterns := e.Patterns.List()
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Id < patterns[j].Id })

	acc := make([]*Outcome, 0, 1)
	var timedOut error
	for _, p := range patterns {
		if !p.AllowUnbound {
			continue
		}
		first := p.First()
		if !first.AllowsSource(ev.Source) {
			continue
		}
		ok, err := first.Cond().Test(ctx, ev, NewMatchState(""))
		if err != nil {
			e.logf("engine: test error %v pattern=%s event=%s", err, p.Id, ev.Id)
			continue
		}
		if !ok {
			continue
		}
		outs, err := e.startThred(ctx, p, ev)
		if err != nil {
			var (
				throttled *Throttled
				timeout   *storage.LockTimeout
			)
			switch {
			case errors.As(err, &throttled):
				e.logf("engine: %v event=%s", err, ev.Id)
			case errors.As(err, &timeout):
				// Surface to the caller so the event gets
				// requeued; other patterns still run first.
				timedOut = err
			default:
				e.logf("engine: start error %v pattern=%s event=%s", err, p.Id, ev.Id)
			}
			continue
		}
		acc = append(acc, outs...)
	}
	return acc, timedOut
}

func (e *Engine) startThred(ctx context.Context, p *Pattern, ev *Event) ([]*Outcome, error) {
	var outs []*Outcome
	err := e.Locks.WithLock(ctx, "pattern", p.Id, e.lockTTL(), func(ctx context.Context) error {
		now := Now()

		if 0 < p.MaxInstances {
			ids, err := e.Store.SetGet(ctx, patternSet(p.Id))
			if err != nil {
				return err
			}
			if p.MaxInstances <= len(ids) {
				return &Throttled{p.Id, "maxInstances reached"}
			}
		}
		if 0 < p.InstanceInterval {
			bs, err := e.Store.Get(ctx, patternLastKey(p.Id))
			switch {
			case err == nil:
				if last, perr := strconv.ParseInt(string(bs), 10, 64); perr == nil && now-last < p.InstanceInterval {
					return &Throttled{p.Id, "instanceInterval not elapsed"}
				}
			case errors.Is(err, storage.NotFound):
				// First instance.
			default:
				return err
			}
		}

		t := NewThred(p)
		if r := p.First(); r.Expiry != nil {
			if d, err := ParseInterval(r.Expiry.Interval); err == nil {
				t.ExpiresAt = now + d.Milliseconds()
			}
		}

		if err := e.Store.Put(ctx, patternLastKey(p.Id), []byte(strconv.FormatInt(now, 10)), 0); err != nil {
			return err
		}
		if err := e.Store.SetAdd(ctx, activeSet, t.Id); err != nil {
			return err
		}
		if err := e.Store.SetAdd(ctx, patternSet(p.Id), t.Id); err != nil {
			return err
		}

		os, err := e.runThred(ctx, p, t, ev)
		if err != nil {
			e.unregister(ctx, t)
			return err
		}
		for _, o := range os {
			o.Created = true
		}
		outs = os
		return nil
	})
	return outs, err
}

// runThred drives the Thred with the Event, following forward/local
// transitions up to StepLimit, then settles bookkeeping (expiry
// timer, active sets, snapshot).  Caller must hold the Thred's lock
// (or own the Thred exclusively, as at creation).
func (e *Engine) runThred(ctx context.Context, p *Pattern, t *Thred, ev *Event) ([]*Outcome, error) {
	limit := e.StepLimit
	if limit <= 0 {
		limit = DefaultStepLimit
	}

	outs := make([]*Outcome, 0, 1)
	pending := ev
	for i := 0; i < limit && pending != nil; i++ {
		o, follow, err := e.step(ctx, p, t, pending)
		if err != nil {
			if len(outs) == 0 {
				return nil, err
			}
			// Earlier steps are already persisted; this
			// one failed cleanly before persisting
			// anything.
			e.logf("engine: step error %v thred=%s", err, t.Id)
			break
		}
		outs = append(outs, o)
		if !o.Matched || !t.Active() {
			break
		}
		pending = follow
	}

	e.rearm(ctx, t)
	if !t.Active() {
		e.unregister(ctx, t)
	}
	e.snapshot(ctx, t)
	return outs, nil
}

// step evaluates the current Reaction's Condition against one Event.
//
// All directives are computed before any state is written, so an
// expression failure or malformed directive aborts the step with the
// Thred untouched.  Routing happens after the new state is persisted;
// routing failures are logged, never propagated.
func (e *Engine) step(ctx context.Context, p *Pattern, t *Thred, ev *Event) (*Outcome, *Event, error) {
	r, err := p.Reaction(t.Reaction)
	if err != nil {
		return nil, nil, err
	}
	if !r.AllowsSource(ev.Source) {
		sourceId := ""
		if ev.Source != nil {
			sourceId = ev.Source.Id
		}
		return nil, nil, &Unauthorized{sourceId, r.Name}
	}

	st := t.MatchState()
	ds, err := r.Cond().Apply(ctx, ev, st)
	if err != nil {
		return nil, nil, err
	}

	o := &Outcome{ThredId: t.Id, PatternId: p.Id, Reaction: r.Name}

	if ds == nil {
		// No overall match, but partial and-progress (and any
		// onTrue side effects of matched operands) persists.
		t.adopt(st)
		if err := e.saveThred(ctx, t); err != nil {
			return nil, nil, err
		}
		o.Status = t.Status
		return o, nil, nil
	}
	o.Matched = true

	var (
		out *Event
		to  []string
	)
	switch {
	case ds.Transform != nil && ds.Publish != nil:
		data, re, err := ds.Transform.Apply(ctx, ev, st)
		if err != nil {
			return nil, nil, err
		}
		out = NewEvent(ds.Transform.OutboundType(), e.source(), data)
		out.Re = re
		out.ThredId = t.Id
		if to, err = ds.Publish.Resolve(ctx, ev, st); err != nil {
			return nil, nil, err
		}
		if err := ds.Publish.SideEffect(ctx, out, st); err != nil {
			return nil, nil, err
		}
	case ds.Transform != nil:
		return nil, nil, &Validation{"transform", "transform without publish"}
	case ds.Publish != nil:
		return nil, nil, &Validation{"publish", "publish without transform"}
	}

	tr := DefaultTransition
	if ds.Transition != nil {
		tr = ds.Transition.normalized()
	}
	if err := tr.Validate(); err != nil {
		return nil, nil, err
	}
	next, err := p.Next(r.Name, &tr)
	if err != nil {
		return nil, nil, err
	}

	var follow *Event
	if next != nil {
		switch tr.Input {
		case InputForward:
			follow = ev
		case InputLocal:
			v, have := st.Scope[tr.LocalName]
			if !have {
				return nil, nil, &Validation{"transition.localName", "'" + tr.LocalName + "' not in scope"}
			}
			fe, err := EventFromValue(v)
			if err != nil {
				return nil, nil, err
			}
			follow = fe
		}
	}

	// Every directive computed; now mutate and persist.
	t.adopt(st)
	t.Progress.Reset()
	if next == nil {
		t.end(ThredFinished)
	} else {
		t.Reaction = next.Name
		t.ExpiresAt = 0
		if next.Expiry != nil {
			if d, err := ParseInterval(next.Expiry.Interval); err == nil {
				t.ExpiresAt = Now() + d.Milliseconds()
			}
		}
		o.Next = next.Name
	}
	if err := e.saveThred(ctx, t); err != nil {
		return nil, nil, err
	}
	o.Status = t.Status

	if out != nil {
		o.Outbound = out
		o.To = to
		if e.Router != nil {
			if err := e.Router.Route(ctx, out, to); err != nil {
				e.logf("engine: route error %v thred=%s", err, t.Id)
			}
		}
	}

	return o, follow, nil
}

// rearm synchronizes the Thred's expiry timer with its persisted
// state.  Called once per Consider/Expire, after all steps.
func (e *Engine) rearm(ctx context.Context, t *Thred) {
	if e.Timers == nil {
		return
	}
	if !t.Active() || t.ExpiresAt == 0 {
		e.Timers.Cancel(t.Id)
		return
	}
	if err := e.Timers.Arm(ctx, t.Id, t.Reaction, time.UnixMilli(t.ExpiresAt)); err != nil {
		e.logf("engine: arm error %v thred=%s", err, t.Id)
	}
}

func (e *Engine) unregister(ctx context.Context, t *Thred) {
	if err := e.Store.SetRem(ctx, activeSet, t.Id); err != nil {
		e.logf("engine: unregister error %v thred=%s", err, t.Id)
	}
	if err := e.Store.SetRem(ctx, patternSet(t.PatternId), t.Id); err != nil {
		e.logf("engine: unregister error %v thred=%s", err, t.Id)
	}
}

// Expire applies the expiry fallback Transition for the named
// Reaction, exactly as if a matching Event had arrived.
//
// Expire is idempotent: if the Thred has already advanced past (or
// ended), the call is a no-op with a nil Outcome.  The expiry monitor
// calls this from its timers; both paths serialize on the Thred's
// lock, so a timer and an Event can never evaluate concurrently.
func (e *Engine) Expire(ctx context.Context, thredId, reaction string) (*Outcome, error) {
	var o *Outcome
	err := e.Locks.WithLock(ctx, "thred", thredId, e.lockTTL(), func(ctx context.Context) error {
		t, err := e.loadThred(ctx, thredId)
		if err != nil {
			var notFound *ThredNotFound
			if errors.As(err, &notFound) {
				return nil
			}
			return err
		}
		if !t.Active() || t.Reaction != reaction {
			return nil // Stale timer.
		}
		p, err := e.Patterns.Find(t.PatternId)
		if err != nil {
			return err
		}
		r, err := p.Reaction(t.Reaction)
		if err != nil {
			return err
		}

		var tr *Transition
		if r.Expiry != nil {
			tr = r.Expiry.Transition
		}
		next, err := p.Next(t.Reaction, tr)
		if err != nil {
			return err
		}

		// No triggering Event, so forward/local inputs don't
		// apply here.
		t.Progress.Reset()
		t.UpdatedAt = Now()
		if next == nil {
			t.end(ThredFinished)
		} else {
			t.Reaction = next.Name
			t.ExpiresAt = 0
			if next.Expiry != nil {
				if d, err := ParseInterval(next.Expiry.Interval); err == nil {
					t.ExpiresAt = Now() + d.Milliseconds()
				}
			}
		}
		if err := e.saveThred(ctx, t); err != nil {
			return err
		}

		e.rearm(ctx, t)
		if !t.Active() {
			e.unregister(ctx, t)
		}
		e.snapshot(ctx, t)

		o = &Outcome{
			ThredId:   t.Id,
			PatternId: p.Id,
			Reaction:  reaction,
			Expired:   true,
			Status:    t.Status,
		}
		if next != nil {
			o.Next = next.Name
		}
		return nil
	})
	return o, err
}

// Terminate stops a Thred explicitly, cancelling any pending expiry
// timer.
func (e *Engine) Terminate(ctx context.Context, thredId string) error {
	return e.Locks.WithLock(ctx, "thred", thredId, e.lockTTL(), func(ctx context.Context) error {
		t, err := e.loadThred(ctx, thredId)
		if err != nil {
			return err
		}
		if !t.Active() {
			return nil
		}
		t.end(ThredTerminated)
		if err := e.saveThred(ctx, t); err != nil {
			return err
		}
		if e.Timers != nil {
			e.Timers.Cancel(t.Id)
		}
		e.unregister(ctx, t)
		e.snapshot(ctx, t)
		return nil
	})
}

// TerminateAll stops every active Thred.  Per-Thred failures are
// logged; the sweep continues.
func (e *Engine) TerminateAll(ctx context.Context) error {
	ids, err := e.Store.SetGet(ctx, activeSet)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.Terminate(ctx, id); err != nil {
			e.logf("engine: terminate error %v thred=%s", err, id)
		}
	}
	return nil
}

// ActiveThreds returns the ids of all active Threds.
func (e *Engine) ActiveThreds(ctx context.Context) ([]string, error) {
	return e.Store.SetGet(ctx, activeSet)
}

// GetThred reads a Thred record without locking it.  The result is a
// point-in-time snapshot for inspection only.
func (e *Engine) GetThred(ctx context.Context, thredId string) (*Thred, error) {
	return e.loadThred(ctx, thredId)
}

func (e *Engine) loadThred(ctx context.Context, id string) (*Thred, error) {
	bs, err := e.Store.Get(ctx, thredKey(id))
	if err != nil {
		if errors.Is(err, storage.NotFound) {
			return nil, &ThredNotFound{id}
		}
		return nil, err
	}
	var t Thred
	if err := json.Unmarshal(bs, &t); err != nil {
		return nil, err
	}
	if t.Scope == nil {
		t.Scope = NewScope()
	}
	if t.Progress == nil {
		t.Progress = NewProgress()
	}
	return &t, nil
}

func (e *Engine) saveThred(ctx context.Context, t *Thred) error {
	bs, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return e.Store.Put(ctx, thredKey(t.Id), bs, 0)
}
