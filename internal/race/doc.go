// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package race fans a query out to several providers in parallel and merges
// whatever arrives before the deadline.
//
// Each non-skipped provider runs as one task on a shared bounded ants pool.
// The racer waits on a completion queue bounded by the remaining budget,
// merges arrivals in completion order with URL-key dedup, and stops as soon
// as enough unique snippets are in hand. When the deadline passes with no
// arrivals at all, one short grace window is granted.
//
// Provider calls are never interrupted. Their contexts are detached from the
// caller and bounded only by the per-provider timeout; tasks that have not
// started when the race ends see a stop flag and never call their provider,
// and late results are discarded. Every call goes through Guard, which
// recovers panics, classifies errors and records the outcome in the backoff
// coordinator.
package race
