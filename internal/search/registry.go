// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/internal/respcache"
	"github.com/pdiddy/citesearch/pkg/types"
)

const defaultHTTPTimeout = 10 * time.Second

// NewBackend builds the backend named by cfg.Kind. apiKey is the resolved
// credential, if the backend needs one.
func NewBackend(cfg types.ProviderConfig, apiKey string) (Backend, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Kind {
	case "serpapi":
		return &SerpAPIBackend{Client: client, APIKey: apiKey, BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent, ProviderName: cfg.Name}, nil
	case "searxng":
		return &SearXNGBackend{Client: client, BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent, ProviderName: cfg.Name}, nil
	case "duckduckgo":
		return &DuckDuckGoBackend{Client: client, BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent, ProviderName: cfg.Name}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// Build constructs one CachingProvider per configured provider. keys maps a
// provider name to its resolved API key.
func Build(cfgs []types.ProviderConfig, keys map[string]string, cache *respcache.Cache, logger *zap.Logger) ([]Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]Provider, 0, len(cfgs))
	seen := make(map[string]bool)
	for _, cfg := range cfgs {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate provider name %q", cfg.Name)
		}
		seen[cfg.Name] = true

		b, err := NewBackend(cfg, keys[cfg.Name])
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		if !cfg.IsEnabled() {
			logger.Warn("provider disabled by configuration", zap.String("provider", cfg.Name))
		}
		out = append(out, NewProvider(b,
			WithCache(cache),
			WithEnabled(cfg.IsEnabled()),
			WithMinInterval(cfg.MinInterval),
			WithLogger(logger)))
	}
	return out, nil
}
