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

// Package bolt is a bbolt-backed storage.Storage and storage.Locks
// for single-node deployments that need durability.
//
// Leases live in their own bucket as {owner, deadline} records;
// TryAcquire claims or steals an expired lease inside one update
// transaction, which is what makes the lock safe across processes
// sharing the file.
package bolt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/rburson-acme/new-rules-sub003/storage"
)

var (
	kvBucket    = []byte("kv")
	setsBucket  = []byte("sets")
	locksBucket = []byte("locks")
)

type envelope struct {
	V   []byte `json:"v"`
	Exp int64  `json:"exp,omitempty"` // ms since epoch; 0 means none
}

type lease struct {
	Owner string `json:"owner"`
	Exp   int64  `json:"exp"`
}

// Storage implements storage.Storage and storage.Locks on a bbolt
// file.
type Storage struct {
	filename string
	db       *bolt.DB
}

// NewStorage makes a Storage for the given file.  Call Open before
// use.
func NewStorage(filename string) *Storage {
	return &Storage{filename: filename}
}

// Open opens the bbolt file and creates the buckets.
func (s *Storage) Open() error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{kvBucket, setsBucket, locksBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		val     []byte
		expired bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(kvBucket).Get([]byte(key))
		if bs == nil {
			return storage.NotFound
		}
		var e envelope
		if err := json.Unmarshal(bs, &e); err != nil {
			return err
		}
		if e.Exp != 0 && e.Exp <= nowMs() {
			expired = true
			return storage.NotFound
		}
		val = make([]byte, len(e.V))
		copy(val, e.V)
		return nil
	})
	if expired {
		s.reap(key)
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// reap deletes an expired row.  The expiry is rechecked inside the
// update transaction so a concurrent Put is never lost.
func (s *Storage) reap(key string) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		bs := b.Get([]byte(key))
		if bs == nil {
			return nil
		}
		var e envelope
		if err := json.Unmarshal(bs, &e); err != nil {
			return nil
		}
		if e.Exp == 0 || nowMs() < e.Exp {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Storage) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	e := envelope{V: val}
	if 0 < ttl {
		e.Exp = nowMs() + ttl.Milliseconds()
	}
	bs, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), bs)
	})
}

func (s *Storage) Del(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

func (s *Storage) SetAdd(ctx context.Context, set, member string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(setsBucket).CreateBucketIfNotExists([]byte(set))
		if err != nil {
			return err
		}
		return b.Put([]byte(member), []byte{1})
	})
}

func (s *Storage) SetRem(ctx context.Context, set, member string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(setsBucket).Bucket([]byte(set))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(member))
	})
}

func (s *Storage) SetGet(ctx context.Context, set string) ([]string, error) {
	acc := make([]string, 0, 8)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(setsBucket).Bucket([]byte(set))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			acc = append(acc, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// TryAcquire implements storage.Locks.
func (s *Storage) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	owner := newOwner()
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(locksBucket)
		if bs := b.Get([]byte(key)); bs != nil {
			var l lease
			if err := json.Unmarshal(bs, &l); err == nil && nowMs() < l.Exp {
				return nil // Held by someone else.
			}
		}
		bs, err := json.Marshal(&lease{Owner: owner, Exp: nowMs() + ttl.Milliseconds()})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), bs); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		_ = s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(locksBucket)
			bs := b.Get([]byte(key))
			if bs == nil {
				return nil
			}
			var l lease
			if err := json.Unmarshal(bs, &l); err != nil || l.Owner != owner {
				return nil
			}
			return b.Delete([]byte(key))
		})
	}
	return release, true, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func newOwner() string {
	id, err := uuid.NewV4()
	if err != nil {
		panic(err)
	}
	return id.String()
}
