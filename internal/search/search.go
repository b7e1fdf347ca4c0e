// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search adapts web-search APIs to the provider contract the engine
// races.
//
// A Backend performs one HTTP search and parses its response into snippets.
// CachingProvider wraps a Backend with a response cache, singleflight
// collapsing of identical in-flight queries and a client-side minimum call
// interval. Backends never retry; rate limits surface as
// *httputil.RateLimitError and local throttling as *LocalLimitError.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/pdiddy/citesearch/pkg/types"
)

// Provider is one raceable search source.
type Provider interface {
	// Name is the stable provider key used for backoff state and traces.
	Name() string

	// Enabled reports whether the provider may be called at all.
	Enabled() bool

	// CoolingDown returns the remaining self-imposed throttle, zero when the
	// provider may be called now.
	CoolingDown() time.Duration

	// Search performs a live query.
	Search(ctx context.Context, query string, topK int) ([]types.Snippet, error)

	// SearchCached answers from previously stored responses only. ok is false
	// on a miss. It never touches the network.
	SearchCached(ctx context.Context, query string, topK int) (snippets []types.Snippet, ok bool, err error)
}

// Backend searches a single web-search API.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, topK int) ([]types.Snippet, error)
}

// LocalLimitError reports a call refused by the client-side throttle.
type LocalLimitError struct {
	Provider string
	Wait     time.Duration
}

func (e *LocalLimitError) Error() string {
	return fmt.Sprintf("%s: local rate limit, retry in %v", e.Provider, e.Wait)
}

// positionScore maps a result's rank to a score in [0.1, 1].
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

// defaultTopK is used when a caller passes a non-positive topK.
const defaultTopK = 10

func limit(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	return topK
}
