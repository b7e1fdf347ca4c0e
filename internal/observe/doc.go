// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package observe provides the write-only observability sink the engine
// records degradations and diagnostics to.
//
// A Recorder accepts key/value settings and named events. Components write
// to it and never read back; Memory exists so tests can inspect what was
// written after the fact.
package observe
