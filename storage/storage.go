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

// Package storage defines the externalized-state contracts the engine
// runs on: a key/value-and-sets store and resource-scoped locked
// execution.
//
// Any number of processes may share one Storage and one Locks
// implementation; per-resource locks are what give the engine its
// at-most-one-evaluation-per-Thred guarantee.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// NotFound is returned by Get for missing (or expired) keys.
var NotFound = errors.New("not found")

// Storage is the key/value and set store for externalized engine
// state.
type Storage interface {
	// Get returns the value at key, or NotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the value at key.  A positive ttl expires the
	// key.
	Put(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Del removes the key (no error if absent).
	Del(ctx context.Context, key string) error

	// SetAdd adds a member to the named set.
	SetAdd(ctx context.Context, set, member string) error

	// SetRem removes a member from the named set.
	SetRem(ctx context.Context, set, member string) error

	// SetGet returns the named set's members.
	SetGet(ctx context.Context, set string) ([]string, error)

	Close() error
}

// Locks grants TTL-bounded leases on resource keys.
//
// TryAcquire returns a release function and true on success, and
// (nil, false, nil) when the resource is already held.  A lease that
// is never released expires on its own after ttl.
type Locks interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// LockTimeout occurs when a lock could not be acquired within the
// manager's retry budget.  It is transient: the caller should requeue
// the work, not drop it.
type LockTimeout struct {
	Resource string
	Attempts int
}

func (e *LockTimeout) Error() string {
	return fmt.Sprintf("lock on %q not acquired after %d attempts", e.Resource, e.Attempts)
}

// Resource names one lockable thing.
type Resource struct {
	Type string
	Id   string
}

// Key renders the lock key for the Resource.
func (r Resource) Key() string {
	return r.Type + "." + r.Id
}

// LockManager runs operations under distributed, TTL-bounded locks,
// retrying acquisition with a linear backoff.
type LockManager struct {
	Locks Locks

	// Retries is the number of acquisition attempts before
	// giving up with a LockTimeout.
	Retries int

	// Backoff is the base delay between attempts; attempt n waits
	// n times this long.
	Backoff time.Duration
}

// NewLockManager makes a LockManager with modest defaults.
func NewLockManager(locks Locks) *LockManager {
	return &LockManager{
		Locks:   locks,
		Retries: 10,
		Backoff: 25 * time.Millisecond,
	}
}

// WithLock runs op while holding a lock on the given resource.
func (m *LockManager) WithLock(ctx context.Context, resourceType, resourceId string, ttl time.Duration, op func(ctx context.Context) error) error {
	return m.WithLocks(ctx, []Resource{{resourceType, resourceId}}, ttl, op)
}

// WithLocks runs op while holding locks on all the given resources.
//
// Resources are acquired in sorted key order so that two contending
// callers can't deadlock each other.
func (m *LockManager) WithLocks(ctx context.Context, resources []Resource, ttl time.Duration, op func(ctx context.Context) error) error {
	keys := make([]string, len(resources))
	for i, r := range resources {
		keys[i] = r.Key()
	}
	sort.Strings(keys)

	releases := make([]func(), 0, len(keys))
	defer func() {
		for i := len(releases) - 1; 0 <= i; i-- {
			releases[i]()
		}
	}()

	for _, key := range keys {
		release, err := m.acquire(ctx, key, ttl)
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}

	return op(ctx)
}

func (m *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	retries := m.Retries
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		release, ok, err := m.Locks.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * m.Backoff):
		}
	}
	return nil, &LockTimeout{Resource: key, Attempts: retries}
}
