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

// Package queue defines the message queues that feed Events into the
// engine and carry outbound Events to their destinations.
//
// Subpackage inmem is a process-local implementation; subpackage mq
// couples to an MQTT broker.
package queue

import (
	"context"

	"github.com/rburson-acme/new-rules-sub003/core"
)

// Message wraps an Event for transport on a topic.
type Message struct {
	Id    string      `json:"id"`
	Topic string      `json:"topic,omitempty" yaml:",omitempty"`
	To    []string    `json:"to,omitempty" yaml:",omitempty"`
	Event *core.Event `json:"event"`

	// Attempts counts deliveries of this message, including
	// requeues.
	Attempts int `json:"attempts,omitempty" yaml:",omitempty"`
}

// DeadTopic prefixes the topic of a rejected message.
const DeadTopic = "dead."

// NewMessage wraps an Event, generating a message id.
func NewMessage(topic string, ev *core.Event) *Message {
	return &Message{
		Id:    core.Gen(),
		Topic: topic,
		Event: ev,
	}
}

// Queue is a topic-addressed message queue.
//
// A consumer that cannot process a message right now (say because the
// target Thred's lock timed out) Requeues it; a consumer that has
// processed a message Deletes it.
type Queue interface {
	// Push enqueues the message on its topic.
	Push(ctx context.Context, m *Message) error

	// Pop blocks for the next message on the topic, or until the
	// context is done.
	Pop(ctx context.Context, topic string) (*Message, error)

	// Delete acknowledges a popped message.
	Delete(ctx context.Context, m *Message) error

	// Requeue returns a popped message to its topic for another
	// attempt.
	Requeue(ctx context.Context, m *Message) error

	// Reject gives up on a message.  Implementations put it on a
	// dead-letter topic (DeadTopic + the original topic).
	Reject(ctx context.Context, m *Message) error

	Close() error
}
