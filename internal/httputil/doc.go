// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the provider adapters.
//
// Adapters never retry on their own. A rate-limited response is turned into a
// *RateLimitError carrying the server's Retry-After hint, and the caller hands
// it to the backoff coordinator.
package httputil
