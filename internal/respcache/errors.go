// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package respcache

import "errors"

var (
	// ErrCacheMiss is returned by Get when no fresh entry exists.
	ErrCacheMiss = errors.New("respcache: miss")

	// ErrDisabled is returned by Open for the "none" backend.
	ErrDisabled = errors.New("respcache: disabled")

	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("respcache: unknown backend")
)
