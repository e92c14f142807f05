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

package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rburson-acme/new-rules-sub003/storage"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestKV(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, storage.NotFound) {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatal(err, got)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.NotFound) {
		t.Fatal(err)
	}
}

func TestKVTTL(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.NotFound) {
		t.Fatal(err)
	}
}

func TestKVTTLReap(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	if err := s.Put(ctx, "gone", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "kept", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := s.Get(ctx, "gone"); !errors.Is(err, storage.NotFound) {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "kept"); err != nil {
		t.Fatal(err)
	}

	// The expired row is deleted, not just hidden; the live one
	// stays.
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		if bs := b.Get([]byte("gone")); bs != nil {
			t.Fatal("expired row still present")
		}
		if bs := b.Get([]byte("kept")); bs == nil {
			t.Fatal("live row reaped")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSets(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	for _, m := range []string{"b", "a", "a"} {
		if err := s.SetAdd(ctx, "s", m); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.SetGet(ctx, "s")
	if err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatal(err, got)
	}
	if err := s.SetRem(ctx, "s", "a"); err != nil {
		t.Fatal(err)
	}
	if got, err = s.SetGet(ctx, "s"); err != nil || !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatal(err, got)
	}
}

func TestTryAcquire(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	release, ok, err := s.TryAcquire(ctx, "r", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}
	if _, ok, err = s.TryAcquire(ctx, "r", time.Minute); err != nil || ok {
		t.Fatal(err, ok)
	}
	release()
	release2, ok, err := s.TryAcquire(ctx, "r", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}
	release2()
}

func TestLeaseSteal(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	release, ok, err := s.TryAcquire(ctx, "r", 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}
	time.Sleep(20 * time.Millisecond)

	release2, ok, err := s.TryAcquire(ctx, "r", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}

	// A stale release must not free the new lease.
	release()
	if _, ok, err = s.TryAcquire(ctx, "r", time.Minute); err != nil || ok {
		t.Fatal(err, ok)
	}
	release2()
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s := NewStorage(filename)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = NewStorage(filename)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatal(err, got)
	}
}
