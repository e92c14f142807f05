/* Copyright 2025 RBurson Acme, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package inmem is an in-process storage.Storage and storage.Locks,
// for tests and single-process deployments.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rburson-acme/new-rules-sub003/storage"
)

type entry struct {
	val []byte
	exp time.Time // zero means no expiry
}

type lease struct {
	owner uint64
	exp   time.Time
}

// Storage implements storage.Storage and storage.Locks with plain
// maps under one mutex.
type Storage struct {
	mu     sync.Mutex
	kv     map[string]entry
	sets   map[string]map[string]bool
	leases map[string]lease
	owner  uint64
}

// NewStorage creates an empty Storage.
func NewStorage() *Storage {
	return &Storage{
		kv:     make(map[string]entry),
		sets:   make(map[string]map[string]bool),
		leases: make(map[string]lease),
	}
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, have := s.kv[key]
	if !have {
		return nil, storage.NotFound
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.kv, key)
		return nil, storage.NotFound
	}
	val := make([]byte, len(e.val))
	copy(val, e.val)
	return val, nil
}

func (s *Storage) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	cp := make([]byte, len(val))
	copy(cp, val)
	e := entry{val: cp}
	if 0 < ttl {
		e.exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.kv[key] = e
	s.mu.Unlock()
	return nil
}

func (s *Storage) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.kv, key)
	s.mu.Unlock()
	return nil
}

func (s *Storage) SetAdd(ctx context.Context, set, member string) error {
	s.mu.Lock()
	members, have := s.sets[set]
	if !have {
		members = make(map[string]bool)
		s.sets[set] = members
	}
	members[member] = true
	s.mu.Unlock()
	return nil
}

func (s *Storage) SetRem(ctx context.Context, set, member string) error {
	s.mu.Lock()
	if members, have := s.sets[set]; have {
		delete(members, member)
		if len(members) == 0 {
			delete(s.sets, set)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Storage) SetGet(ctx context.Context, set string) ([]string, error) {
	s.mu.Lock()
	members := s.sets[set]
	acc := make([]string, 0, len(members))
	for m := range members {
		acc = append(acc, m)
	}
	s.mu.Unlock()
	sort.Strings(acc)
	return acc, nil
}

func (s *Storage) Close() error {
	return nil
}

// TryAcquire implements storage.Locks.  A lease that is never
// released expires after ttl.
func (s *Storage) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if l, held := s.leases[key]; held && now.Before(l.exp) {
		return nil, false, nil
	}

	s.owner++
	owner := s.owner
	s.leases[key] = lease{owner: owner, exp: now.Add(ttl)}

	release := func() {
		s.mu.Lock()
		if l, held := s.leases[key]; held && l.owner == owner {
			delete(s.leases, key)
		}
		s.mu.Unlock()
	}
	return release, true, nil
}
