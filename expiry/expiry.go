/* Copyright 2025 RBurson Acme, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package expiry runs the per-Thred expiry timers.
//
// The Monitor keeps at most one pending timer per Thred.  A firing
// timer calls Emit, which should go through Engine.Expire; since
// Expire rechecks the Thred's state under its lock, a stale fire is
// harmless.
package expiry

import (
	"context"
	"sync"
	"time"
)

// entry is one pending timer.
type entry struct {
	thredId  string
	reaction string
	at       time.Time
	ctl      chan bool
}

// Monitor owns the timer goroutines.
type Monitor struct {
	// Emit is called when a timer fires.
	Emit func(ctx context.Context, thredId, reaction string)

	Logf func(format string, args ...interface{})

	sync.Mutex
	timers map[string]*entry
}

func NewMonitor(emit func(ctx context.Context, thredId, reaction string)) *Monitor {
	return &Monitor{
		Emit:   emit,
		timers: make(map[string]*entry, 8),
	}
}

func (m *Monitor) logf(format string, args ...interface{}) {
	if m.Logf != nil {
		m.Logf(format, args...)
	}
}

// Arm schedules a fire for the Thred's current Reaction, replacing
// any pending timer for that Thred.
func (m *Monitor) Arm(ctx context.Context, thredId, reaction string, at time.Time) error {
	m.Lock()
	if old, have := m.timers[thredId]; have {
		close(old.ctl)
	}
	e := &entry{
		thredId:  thredId,
		reaction: reaction,
		at:       at,
		ctl:      make(chan bool),
	}
	m.timers[thredId] = e
	m.Unlock()

	go m.run(ctx, e)
	return nil
}

func (m *Monitor) run(ctx context.Context, e *entry) {
	t := time.NewTimer(time.Until(e.at))
	defer t.Stop()
	select {
	case <-t.C:
		m.logf("expiry: firing thred=%s reaction=%s", e.thredId, e.reaction)
		m.remove(e)
		m.Emit(ctx, e.thredId, e.reaction)
	case <-e.ctl:
		m.logf("expiry: cancelled thred=%s", e.thredId)
	case <-ctx.Done():
	}
}

// remove drops the entry if it is still the current one for its
// Thred.  Arm may already have replaced it.
func (m *Monitor) remove(e *entry) {
	m.Lock()
	if cur, have := m.timers[e.thredId]; have && cur == e {
		delete(m.timers, e.thredId)
	}
	m.Unlock()
}

// Cancel stops the Thred's pending timer, if any.
func (m *Monitor) Cancel(thredId string) {
	m.Lock()
	if e, have := m.timers[thredId]; have {
		delete(m.timers, thredId)
		close(e.ctl)
	}
	m.Unlock()
}

// Pending returns the number of armed timers.
func (m *Monitor) Pending() int {
	m.Lock()
	n := len(m.timers)
	m.Unlock()
	return n
}

// Shutdown cancels every pending timer.
func (m *Monitor) Shutdown() {
	m.Lock()
	for id, e := range m.timers {
		delete(m.timers, id)
		close(e.ctl)
	}
	m.Unlock()
}
