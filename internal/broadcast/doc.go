// Package broadcast implements the admin broadcast dispatch engine.
//
// A broadcast targets (course, faculty) pairs. The engine resolves the
// sender's authorization, expands the requested scope into concrete pairs,
// fans the message out to every registered group of every pair, and records
// one delivery receipt per group in the ledger.
//
// Delivery semantics
//
// Best-effort, per-recipient. Pairs run concurrently; within a pair, groups
// are sent to strictly sequentially, in directory order, so the aggregate
// outbound rate stays bounded and per-recipient failures stay simple. A
// failed send is recorded and reported, never retried. A permanent rejection
// (bot blocked, chat gone) additionally deregisters the group. The report
// lists pair results in deterministic pair order, not completion order.
package broadcast
