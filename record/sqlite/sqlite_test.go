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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rburson-acme/new-rules-sub003/core"
)

func TestRecord(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()

	ev := core.NewEvent("e1", &core.EventSource{Id: "s1"}, nil)
	if err := s.Event(ctx, ev, "t1", true); err != nil {
		t.Fatal(err)
	}

	th := &core.Thred{
		Id:        "t1",
		PatternId: "p1",
		Reaction:  "r1",
		Status:    core.ThredActive,
	}
	if err := s.Snapshot(ctx, th); err != nil {
		t.Fatal(err)
	}
	th.Status = core.ThredFinished
	if err := s.Snapshot(ctx, th); err != nil {
		t.Fatal(err)
	}

	got, err := s.History(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatal(len(got))
	}
	if got[0].Status != core.ThredActive || got[1].Status != core.ThredFinished {
		t.Fatal(got[0].Status, got[1].Status)
	}

	if got, err = s.History(ctx, "other"); err != nil || len(got) != 0 {
		t.Fatal(err, got)
	}
}
