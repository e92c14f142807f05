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

// Package routing resolves the addresses on an outbound Event into
// concrete destinations and dispatches one message per destination.
//
// An address can name a service, a remote service, a group, or a
// participant.  Services get one message each.  Participant addresses
// resolve to sessions, which are grouped by node so each node gets a
// single message covering all of its participants.
package routing

import (
	"context"
	"sort"
)

// AnyNode is the synthetic node id for participants that have no
// session.  Messages for the AnyNode group go to the default topic,
// where any node can pick them up.
const AnyNode = "ANY_NODE"

// Session is one participant's presence on one node.
type Session struct {
	Id            string `json:"id"`
	ParticipantId string `json:"participantId"`
	NodeId        string `json:"nodeId"`
}

// SessionResolver answers the two address-resolution questions:
// which addresses are services, and where are the participants.
type SessionResolver interface {
	// FilterServiceAddresses splits addresses into local service
	// names, remote service names, and participant ids, expanding
	// group addresses into their members.
	FilterServiceAddresses(ctx context.Context, addresses []string) (services, remote, participants []string, err error)

	// SessionsFor returns the sessions of each participant.  A
	// participant with no sessions may be absent from the result.
	SessionsFor(ctx context.Context, participantIds []string) (map[string][]Session, error)
}

// Partition is the service/participant split of an address list.
// Remote services are folded into participants: from the router's
// point of view a remote service is just another addressee whose
// location must be resolved.
type Partition struct {
	Services     []string
	Participants []string
}

// Partitioned resolves addresses through the resolver and folds
// remote services into the participant list.
func Partitioned(ctx context.Context, r SessionResolver, addresses []string) (*Partition, error) {
	services, remote, participants, err := r.FilterServiceAddresses(ctx, addresses)
	if err != nil {
		return nil, err
	}
	return &Partition{
		Services:     dedupe(services),
		Participants: dedupe(append(participants, remote...)),
	}, nil
}

// Group is the set of participants reachable via one node.
type Group struct {
	NodeId         string
	ParticipantIds []string
	SessionIds     []string
}

// GroupByNode buckets participants by the nodes their sessions live
// on.  A participant with no session lands in the AnyNode group.
// Groups come back sorted by node id for deterministic dispatch.
func GroupByNode(sessions map[string][]Session, participantIds []string) []*Group {
	byNode := make(map[string]*Group)
	get := func(nodeId string) *Group {
		g, have := byNode[nodeId]
		if !have {
			g = &Group{NodeId: nodeId}
			byNode[nodeId] = g
		}
		return g
	}

	for _, pid := range participantIds {
		ss := sessions[pid]
		if len(ss) == 0 {
			g := get(AnyNode)
			g.ParticipantIds = append(g.ParticipantIds, pid)
			continue
		}
		for _, s := range ss {
			g := get(s.NodeId)
			g.ParticipantIds = append(g.ParticipantIds, pid)
			g.SessionIds = append(g.SessionIds, s.Id)
		}
	}

	acc := make([]*Group, 0, len(byNode))
	for _, g := range byNode {
		g.ParticipantIds = dedupe(g.ParticipantIds)
		acc = append(acc, g)
	}
	sort.Slice(acc, func(i, j int) bool { return acc[i].NodeId < acc[j].NodeId })
	return acc
}

func dedupe(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	acc := make([]string, 0, len(xs))
	for _, x := range xs {
		if x == "" || seen[x] {
			continue
		}
		seen[x] = true
		acc = append(acc, x)
	}
	return acc
}
