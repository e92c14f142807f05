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

package routing

import (
	"context"
	"sync"
)

// Registry is an in-memory SessionResolver.
//
// Addresses resolve in this order: group, service, remote service,
// participant.  An address that is none of the first three is taken
// to be a participant id.
type Registry struct {
	mu       sync.RWMutex
	services map[string]bool
	remote   map[string]bool
	groups   map[string][]string
	sessions map[string][]Session // by participant id
	byId     map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]bool),
		remote:   make(map[string]bool),
		groups:   make(map[string][]string),
		sessions: make(map[string][]Session),
		byId:     make(map[string]Session),
	}
}

func (r *Registry) AddService(name string) {
	r.mu.Lock()
	r.services[name] = true
	r.mu.Unlock()
}

func (r *Registry) AddRemoteService(name string) {
	r.mu.Lock()
	r.remote[name] = true
	r.mu.Unlock()
}

// AddGroup defines (or replaces) a group.  Members are addresses
// themselves, so a group can contain services and participants, but
// not other groups.
func (r *Registry) AddGroup(name string, members []string) {
	r.mu.Lock()
	r.groups[name] = append([]string{}, members...)
	r.mu.Unlock()
}

func (r *Registry) AddSession(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, have := r.byId[s.Id]; have {
		r.drop(old)
	}
	r.byId[s.Id] = s
	r.sessions[s.ParticipantId] = append(r.sessions[s.ParticipantId], s)
}

func (r *Registry) RemoveSession(sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, have := r.byId[sessionId]; have {
		r.drop(s)
		delete(r.byId, sessionId)
	}
}

// drop removes the session from the per-participant index.  Caller
// holds the lock.
func (r *Registry) drop(s Session) {
	ss := r.sessions[s.ParticipantId]
	acc := ss[:0]
	for _, x := range ss {
		if x.Id != s.Id {
			acc = append(acc, x)
		}
	}
	if len(acc) == 0 {
		delete(r.sessions, s.ParticipantId)
	} else {
		r.sessions[s.ParticipantId] = acc
	}
}

func (r *Registry) FilterServiceAddresses(ctx context.Context, addresses []string) (services, remote, participants []string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var classify func(a string)
	classify = func(a string) {
		switch {
		case len(r.groups[a]) != 0:
			for _, member := range r.groups[a] {
				classify(member)
			}
		case r.services[a]:
			services = append(services, a)
		case r.remote[a]:
			remote = append(remote, a)
		default:
			participants = append(participants, a)
		}
	}
	for _, a := range addresses {
		classify(a)
	}
	return services, remote, participants, nil
}

func (r *Registry) SessionsFor(ctx context.Context, participantIds []string) (map[string][]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc := make(map[string][]Session, len(participantIds))
	for _, pid := range participantIds {
		if ss := r.sessions[pid]; 0 < len(ss) {
			acc[pid] = append([]Session{}, ss...)
		}
	}
	return acc, nil
}
