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

package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rburson-acme/new-rules-sub003/storage"
	"github.com/rburson-acme/new-rules-sub003/storage/inmem"
)

func TestWithLock(t *testing.T) {
	s := inmem.NewStorage()
	m := storage.NewLockManager(s)
	ctx := context.Background()

	ran := false
	err := m.WithLock(ctx, "thred", "t1", time.Minute, func(ctx context.Context) error {
		ran = true
		// The lock is held while op runs.
		_, ok, err := s.TryAcquire(ctx, storage.Resource{Type: "thred", Id: "t1"}.Key(), time.Minute)
		if err != nil {
			return err
		}
		if ok {
			t.Fatal("lock not held during op")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatal(err, ran)
	}

	// Released afterwards.
	release, ok, err := s.TryAcquire(ctx, "thred.t1", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}
	release()
}

func TestWithLockTimeout(t *testing.T) {
	s := inmem.NewStorage()
	m := storage.NewLockManager(s)
	m.Retries = 2
	m.Backoff = time.Millisecond
	ctx := context.Background()

	release, ok, err := s.TryAcquire(ctx, "thred.t1", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}
	defer release()

	err = m.WithLock(ctx, "thred", "t1", time.Minute, func(ctx context.Context) error {
		t.Fatal("op must not run")
		return nil
	})
	var timeout *storage.LockTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("got %v, wanted LockTimeout", err)
	}
	if timeout.Attempts != 2 {
		t.Fatal(timeout.Attempts)
	}
}

func TestWithLocksMany(t *testing.T) {
	s := inmem.NewStorage()
	m := storage.NewLockManager(s)
	ctx := context.Background()

	// Same resources in different orders must not deadlock: keys
	// are acquired in sorted order either way.
	a := []storage.Resource{{Type: "thred", Id: "x"}, {Type: "pattern", Id: "p"}}
	b := []storage.Resource{{Type: "pattern", Id: "p"}, {Type: "thred", Id: "x"}}

	err := m.WithLocks(ctx, a, time.Minute, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	err = m.WithLocks(ctx, b, time.Minute, func(ctx context.Context) error {
		// Both released after the first call.
		for _, r := range a {
			if _, ok, err := s.TryAcquire(ctx, r.Key(), time.Minute); err != nil || ok {
				t.Fatal(err, ok, r.Key())
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWithLockError(t *testing.T) {
	s := inmem.NewStorage()
	m := storage.NewLockManager(s)
	ctx := context.Background()

	oops := errors.New("oops")
	if err := m.WithLock(ctx, "thred", "t1", time.Minute, func(ctx context.Context) error {
		return oops
	}); !errors.Is(err, oops) {
		t.Fatal(err)
	}

	// Still released after an op error.
	release, ok, err := s.TryAcquire(ctx, "thred.t1", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}
	release()
}
