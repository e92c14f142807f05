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

// Package sqlite records the audit trail in a SQLite database in WAL
// mode.  Rows are only ever appended.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rburson-acme/new-rules-sub003/core"
)

type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database and initializes the
// schema.
func NewStore(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		thred_id   TEXT,
		matched    INTEGER NOT NULL,
		recorded   INTEGER NOT NULL,
		body       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS events_thred ON events(thred_id);

	CREATE TABLE IF NOT EXISTS threds (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		thred_id   TEXT NOT NULL,
		pattern_id TEXT NOT NULL,
		reaction   TEXT,
		status     TEXT NOT NULL,
		recorded   INTEGER NOT NULL,
		body       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS threds_thred ON threds(thred_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Event(ctx context.Context, ev *core.Event, thredId string, matched bool) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	m := 0
	if matched {
		m = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, event_type, thred_id, matched, recorded, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Id, ev.Type, thredId, m, time.Now().UnixMilli(), string(body))
	return err
}

func (s *Store) Snapshot(ctx context.Context, t *core.Thred) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threds (thred_id, pattern_id, reaction, status, recorded, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.Id, t.PatternId, t.Reaction, string(t.Status), time.Now().UnixMilli(), string(body))
	return err
}

// History returns the recorded snapshots for a Thred in order.
func (s *Store) History(ctx context.Context, thredId string) ([]*core.Thred, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM threds WHERE thred_id = ? ORDER BY seq`, thredId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acc []*core.Thred
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t core.Thred
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, err
		}
		acc = append(acc, &t)
	}
	return acc, rows.Err()
}
