// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package respcache stores provider responses keyed by provider and
// normalized query.
//
// The cache backs two paths: live provider calls answer from a fresh entry
// instead of spending quota, and the fallback ladder's cache-only rescue
// probes it without touching the network. Entries expire after a TTL. The
// backing store is chosen by configuration: memory, sqlite, badger or bbolt.
package respcache
