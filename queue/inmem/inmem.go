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

// Package inmem is a process-local queue.Queue backed by per-topic
// channels.  Good for tests and single-process deployments.
package inmem

import (
	"context"
	"errors"
	"sync"

	"github.com/rburson-acme/new-rules-sub003/queue"
)

// DefaultCapacity is the per-topic buffer size.
var DefaultCapacity = 1024

var Closed = errors.New("queue closed")

type Queue struct {
	mu       sync.Mutex
	topics   map[string]chan *queue.Message
	capacity int
	closed   bool
}

func NewQueue() *Queue {
	return &Queue{
		topics:   make(map[string]chan *queue.Message),
		capacity: DefaultCapacity,
	}
}

func (q *Queue) topic(name string) (chan *queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, Closed
	}
	c, have := q.topics[name]
	if !have {
		c = make(chan *queue.Message, q.capacity)
		q.topics[name] = c
	}
	return c, nil
}

func (q *Queue) Push(ctx context.Context, m *queue.Message) error {
	c, err := q.topic(m.Topic)
	if err != nil {
		return err
	}
	m.Attempts++
	select {
	case c <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context, topic string) (*queue.Message, error) {
	c, err := q.topic(topic)
	if err != nil {
		return nil, err
	}
	select {
	case m := <-c:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete is a no-op: a popped message is already out of the channel.
func (q *Queue) Delete(ctx context.Context, m *queue.Message) error {
	return nil
}

func (q *Queue) Requeue(ctx context.Context, m *queue.Message) error {
	return q.Push(ctx, m)
}

func (q *Queue) Reject(ctx context.Context, m *queue.Message) error {
	dead := *m
	dead.Topic = queue.DeadTopic + m.Topic
	return q.Push(ctx, &dead)
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
