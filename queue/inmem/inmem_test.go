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
	"testing"
	"time"

	"github.com/rburson-acme/new-rules-sub003/core"
	"github.com/rburson-acme/new-rules-sub003/queue"
)

func testEvent() *core.Event {
	return core.NewEvent("test", &core.EventSource{Id: "s1"}, nil)
}

func TestPushPop(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()

	m := queue.NewMessage("t1", testEvent())
	if err := q.Push(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := q.Pop(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Id != m.Id || got.Attempts != 1 {
		t.Fatalf("%#v", got)
	}
	if err := q.Delete(ctx, got); err != nil {
		t.Fatal(err)
	}
}

func TestPopBlocks(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx, "empty"); err != context.DeadlineExceeded {
		t.Fatal(err)
	}
}

func TestRequeue(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()

	m := queue.NewMessage("t1", testEvent())
	if err := q.Push(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := q.Pop(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Requeue(ctx, got); err != nil {
		t.Fatal(err)
	}
	if got, err = q.Pop(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if got.Attempts != 2 {
		t.Fatal(got.Attempts)
	}
}

func TestReject(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()

	m := queue.NewMessage("t1", testEvent())
	if err := q.Push(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := q.Pop(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Reject(ctx, got); err != nil {
		t.Fatal(err)
	}

	dead, err := q.Pop(ctx, queue.DeadTopic+"t1")
	if err != nil {
		t.Fatal(err)
	}
	if dead.Id != m.Id {
		t.Fatal(dead.Id)
	}
}

func TestTopicsIndependent(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()

	a := queue.NewMessage("a", testEvent())
	b := queue.NewMessage("b", testEvent())
	if err := q.Push(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := q.Pop(ctx, "b")
	if err != nil || got.Id != b.Id {
		t.Fatal(err, got)
	}
	if got, err = q.Pop(ctx, "a"); err != nil || got.Id != a.Id {
		t.Fatal(err, got)
	}
}
