// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine is the entry point of citesearch. An Engine composes the
// backoff coordinator, the provider racer, the stage classifier, the
// selection engine and the fallback ladder around plain search providers:
//
//	race -> classify -> select -> ladder -> SearchResult
//
// Only contract violations (empty query, out-of-range topK, no providers)
// return errors. Provider failures, timeouts and starvation degrade the
// result and are reported through its Status, the Trace and the
// observability sink.
package engine
