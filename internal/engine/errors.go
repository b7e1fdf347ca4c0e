// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import "errors"

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("empty query")

	// ErrInvalidTopK is returned for a negative or oversized topK.
	ErrInvalidTopK = errors.New("invalid topK")

	// ErrInvalidPolicy is returned for a negative citation floor.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrNoProviders is returned by New when no provider is given.
	ErrNoProviders = errors.New("no providers")
)
