// Package core implements the pattern-matching and routing engine.
//
// A Pattern is a data-defined template for a multi-step conversation.
// Each of its Reactions is one state of that conversation's state
// machine, gated by a Condition tree that is evaluated against
// inbound Events.  A Thred is a running instance of a Pattern.
//
// The Condition/Reaction/Pattern object graph is immutable once
// compiled and is shared freely across goroutines and processes.  All
// mutable per-instance state (the and-node match vectors, the Thred's
// key/value scope, the current Reaction) lives on the Thred record,
// which is persisted through a storage abstraction and mutated only
// while holding a per-Thred lock.
//
// The Engine's Consider method is the single entry point: give it an
// Event, and it finds or creates the Thred(s) the Event belongs to,
// runs the current Reaction's Condition, and -- on a match -- computes
// an outbound Event, its recipients, and the next Reaction.
package core
