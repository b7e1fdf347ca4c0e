// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/citesearch/internal/respcache"
	"github.com/pdiddy/citesearch/pkg/types"
)

// CachingProvider implements Provider over a Backend.
type CachingProvider struct {
	backend     Backend
	cache       *respcache.Cache
	enabled     bool
	minInterval time.Duration
	now         func() time.Time
	logger      *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	lastCall time.Time
}

// ProviderOption configures a CachingProvider.
type ProviderOption func(*CachingProvider)

// WithCache attaches a response cache. A nil cache disables caching.
func WithCache(c *respcache.Cache) ProviderOption {
	return func(p *CachingProvider) { p.cache = c }
}

// WithMinInterval sets the minimum spacing between live backend calls.
func WithMinInterval(d time.Duration) ProviderOption {
	return func(p *CachingProvider) { p.minInterval = d }
}

// WithEnabled sets the enabled flag. Providers are enabled by default.
func WithEnabled(enabled bool) ProviderOption {
	return func(p *CachingProvider) { p.enabled = enabled }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *CachingProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *CachingProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider wraps b.
func NewProvider(b Backend, opts ...ProviderOption) *CachingProvider {
	p := &CachingProvider{
		backend: b,
		enabled: true,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("provider").With(zap.String("provider", b.Name()))
	return p
}

// Name returns the backend name.
func (p *CachingProvider) Name() string { return p.backend.Name() }

// Enabled reports the enabled flag.
func (p *CachingProvider) Enabled() bool { return p.enabled }

// CoolingDown returns how long until the minimum interval allows another
// live call.
func (p *CachingProvider) CoolingDown() time.Duration {
	if p.minInterval <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitLocked(p.now())
}

func (p *CachingProvider) waitLocked(now time.Time) time.Duration {
	if p.lastCall.IsZero() {
		return 0
	}
	if wait := p.lastCall.Add(p.minInterval).Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// reserve claims a live call slot or reports the remaining wait.
func (p *CachingProvider) reserve() error {
	if p.minInterval <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if wait := p.waitLocked(now); wait > 0 {
		return &LocalLimitError{Provider: p.Name(), Wait: wait}
	}
	p.lastCall = now
	return nil
}

// Search answers from a fresh cache entry when one covers topK, otherwise
// calls the backend. Concurrent identical queries with the same topK share one
// backend call.
func (p *CachingProvider) Search(ctx context.Context, query string, topK int) ([]types.Snippet, error) {
	key := respcache.Key(p.Name(), query)
	if hit, ok, _ := p.lookup(ctx, key); ok {
		if hit.Covers(topK) {
			p.logger.Debug("cache hit", zap.String("query", query))
			return truncate(hit.Snippets, topK), nil
		}
		p.logger.Debug("cache entry too shallow",
			zap.String("query", query), zap.Int("cached", len(hit.Snippets)), zap.Int("top_k", topK))
	}

	v, err, shared := p.group.Do(key+"#"+strconv.Itoa(topK), func() (any, error) {
		if err := p.reserve(); err != nil {
			return nil, err
		}
		snippets, err := p.backend.Search(ctx, query, topK)
		if err != nil {
			return nil, err
		}
		if p.cache != nil && len(snippets) > 0 {
			entry := respcache.Entry{Snippets: snippets, Requested: topK}
			if err := p.cache.Store(context.WithoutCancel(ctx), key, entry); err != nil {
				p.logger.Warn("cache write failed", zap.Error(err))
			}
		}
		return snippets, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.logger.Debug("shared in-flight query", zap.String("query", query))
	}
	return truncate(v.([]types.Snippet), topK), nil
}

// SearchCached answers from the cache only, however shallow the entry.
func (p *CachingProvider) SearchCached(ctx context.Context, query string, topK int) ([]types.Snippet, bool, error) {
	hit, ok, err := p.lookup(ctx, respcache.Key(p.Name(), query))
	if !ok || err != nil {
		return nil, false, err
	}
	return truncate(hit.Snippets, topK), true, nil
}

func (p *CachingProvider) lookup(ctx context.Context, key string) (respcache.Entry, bool, error) {
	if p.cache == nil {
		return respcache.Entry{}, false, nil
	}
	hit, err := p.cache.Lookup(ctx, key)
	if respcache.IsMiss(err) {
		return respcache.Entry{}, false, nil
	}
	if err != nil {
		return respcache.Entry{}, false, fmt.Errorf("%s cache: %w", p.Name(), err)
	}
	return hit, true, nil
}

func truncate(snippets []types.Snippet, topK int) []types.Snippet {
	if topK > 0 && len(snippets) > topK {
		return snippets[:topK:topK]
	}
	return snippets
}

// IsLocalLimit reports whether err is a client-side throttle refusal.
func IsLocalLimit(err error) (*LocalLimitError, bool) {
	var le *LocalLimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
