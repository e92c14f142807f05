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

// Package record is the append-only audit trail: Events as processed
// and Thred snapshots as they change.  Nothing in matching or routing
// ever reads it back.
package record

import (
	"context"

	"github.com/rburson-acme/new-rules-sub003/core"
)

// Discard drops everything.  The zero value is ready to use.
type Discard struct{}

func (d Discard) Event(ctx context.Context, ev *core.Event, thredId string, matched bool) error {
	return nil
}

func (d Discard) Snapshot(ctx context.Context, t *core.Thred) error {
	return nil
}
