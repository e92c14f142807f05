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

package inmem

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rburson-acme/new-rules-sub003/storage"
)

func TestKV(t *testing.T) {
	s := NewStorage()
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
	s := NewStorage()
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.NotFound) {
		t.Fatal(err)
	}
}

func TestSets(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	for _, m := range []string{"b", "a", "c", "a"} {
		if err := s.SetAdd(ctx, "s", m); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.SetGet(ctx, "s")
	if err != nil || !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatal(err, got)
	}

	if err := s.SetRem(ctx, "s", "b"); err != nil {
		t.Fatal(err)
	}
	if got, err = s.SetGet(ctx, "s"); err != nil || !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatal(err, got)
	}

	// A missing set is just empty.
	if got, err = s.SetGet(ctx, "missing"); err != nil || len(got) != 0 {
		t.Fatal(err, got)
	}
}

func TestTryAcquire(t *testing.T) {
	s := NewStorage()
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

func TestLeaseExpiry(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	release, ok, err := s.TryAcquire(ctx, "r", 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}

	time.Sleep(20 * time.Millisecond)

	// The lease expired, so another caller can claim it.
	release2, ok, err := s.TryAcquire(ctx, "r", time.Minute)
	if err != nil || !ok {
		t.Fatal(err, ok)
	}

	// A stale release must not free the new owner's lease.
	release()
	if _, ok, err = s.TryAcquire(ctx, "r", time.Minute); err != nil || ok {
		t.Fatal(err, ok)
	}
	release2()
}
