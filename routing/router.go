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

package routing

import (
	"context"

	"github.com/rburson-acme/new-rules-sub003/core"
	"github.com/rburson-acme/new-rules-sub003/queue"
)

// Topics maps destinations to queue topics.
type Topics struct {
	// ServicePrefix + service name is a service's topic.
	ServicePrefix string
	// NodePrefix + node id is a node's topic.
	NodePrefix string
	// Default is the topic for the AnyNode group.
	Default string
}

var DefaultTopics = Topics{
	ServicePrefix: "org.wt.svc.",
	NodePrefix:    "org.wt.node.",
	Default:       "org.wt.session.broadcast",
}

// Router dispatches an outbound Event: one message per service
// address and one message per node that hosts addressed participants.
type Router struct {
	Resolver SessionResolver
	Queue    queue.Queue
	Topics   Topics

	Logf func(format string, args ...interface{})
}

func NewRouter(resolver SessionResolver, q queue.Queue) *Router {
	return &Router{
		Resolver: resolver,
		Queue:    q,
		Topics:   DefaultTopics,
	}
}

func (r *Router) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Route resolves the addresses and pushes the resulting messages.
//
// Failure to deliver to one destination doesn't block the others.
// Those failures are logged; Route only returns an error when
// resolution itself fails, which means nothing was dispatched.
func (r *Router) Route(ctx context.Context, ev *core.Event, addresses []string) error {
	p, err := Partitioned(ctx, r.Resolver, addresses)
	if err != nil {
		return err
	}

	for _, svc := range p.Services {
		m := queue.NewMessage(r.Topics.ServicePrefix+svc, ev)
		m.To = []string{svc}
		if err := r.Queue.Push(ctx, m); err != nil {
			r.logf("routing: push error %v topic=%s event=%s", err, m.Topic, ev.Id)
		}
	}

	if len(p.Participants) == 0 {
		return nil
	}

	sessions, err := r.Resolver.SessionsFor(ctx, p.Participants)
	if err != nil {
		return err
	}

	for _, g := range GroupByNode(sessions, p.Participants) {
		topic := r.Topics.Default
		if g.NodeId != AnyNode {
			topic = r.Topics.NodePrefix + g.NodeId
		}
		m := queue.NewMessage(topic, ev)
		m.To = g.ParticipantIds
		if err := r.Queue.Push(ctx, m); err != nil {
			r.logf("routing: push error %v topic=%s event=%s", err, m.Topic, ev.Id)
		}
	}

	return nil
}
