// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/pkg/types"
)

// store is the byte-level contract every backend implements.
type store interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	put(ctx context.Context, key string, value []byte) error
	purge(ctx context.Context) (int, error)
	close() error
}

// Cache is a TTL cache of provider responses. It is safe for concurrent use.
type Cache struct {
	st      store
	backend string
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Open creates a cache for the configured backend. The "none" backend
// returns ErrDisabled.
func Open(cfg types.CacheConfig, opts ...Option) (*Cache, error) {
	var (
		st  store
		err error
	)
	switch cfg.Backend {
	case "", "memory":
		st = newMemoryStore()
	case "sqlite":
		st, err = openSQLite(cfg.Path)
	case "badger":
		st, err = openBadger(cfg.Path)
	case "bbolt":
		st, err = openBolt(cfg.Path)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", cfg.Backend, err)
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	return newCache(st, backend, cfg.TTL, opts...), nil
}

func newCache(st store, backend string, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		st:      st,
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("respcache").With(zap.String("backend", backend))
	return c
}

// Backend names the backing store.
func (c *Cache) Backend() string { return c.backend }

type record struct {
	StoredAt  time.Time       `json:"stored_at"`
	Requested int             `json:"requested,omitempty"`
	Snippets  []types.Snippet `json:"snippets"`
}

// Entry is a stored response. Requested is the result count the live call
// asked for; zero when unknown.
type Entry struct {
	Snippets  []types.Snippet
	Requested int
}

// Covers reports whether the entry answers a request for topK results:
// either it holds that many or the backend ran dry at a depth of at least
// topK.
func (e Entry) Covers(topK int) bool {
	return topK <= 0 || len(e.Snippets) >= topK || e.Requested >= topK
}

// Get returns the snippets stored under key, or ErrCacheMiss when the key is
// absent or its entry has expired.
func (c *Cache) Get(ctx context.Context, key string) ([]types.Snippet, error) {
	e, err := c.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Snippets, nil
}

// Lookup is Get with the stored request depth.
func (c *Cache) Lookup(ctx context.Context, key string) (Entry, error) {
	data, ok, err := c.st.get(ctx, key)
	if err != nil {
		return Entry{}, fmt.Errorf("reading cache entry: %w", err)
	}
	if !ok {
		return Entry{}, ErrCacheMiss
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return Entry{}, ErrCacheMiss
	}
	if c.ttl > 0 && c.now().Sub(rec.StoredAt) > c.ttl {
		return Entry{}, ErrCacheMiss
	}
	out := make([]types.Snippet, len(rec.Snippets))
	for i, s := range rec.Snippets {
		out[i] = s.Rederived()
	}
	return Entry{Snippets: out, Requested: rec.Requested}, nil
}

// Put stores snippets under key.
func (c *Cache) Put(ctx context.Context, key string, snippets []types.Snippet) error {
	return c.Store(ctx, key, Entry{Snippets: snippets})
}

// Store writes e under key.
func (c *Cache) Store(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(record{StoredAt: c.now().UTC(), Requested: e.Requested, Snippets: e.Snippets})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.st.put(ctx, key, data); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Purge removes every entry and reports how many were removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	n, err := c.st.purge(ctx)
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	c.logger.Info("cache purged", zap.Int("entries", n))
	return n, nil
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.st.close()
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool { return errors.Is(err, ErrCacheMiss) }

// Key builds the cache key for a provider and query. Queries are lowercased,
// stripped of surrounding punctuation and whitespace-collapsed, so trivially
// different phrasings share an entry.
func Key(provider, query string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "|" + NormalizeQuery(query)
}

// NormalizeQuery lowercases q and collapses runs of whitespace.
func NormalizeQuery(q string) string {
	q = strings.TrimFunc(strings.ToLower(q), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.Join(strings.Fields(q), " ")
}
