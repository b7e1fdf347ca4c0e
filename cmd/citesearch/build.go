// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/internal/engine"
	"github.com/pdiddy/citesearch/internal/observe"
	"github.com/pdiddy/citesearch/internal/respcache"
	"github.com/pdiddy/citesearch/internal/search"
	"github.com/pdiddy/citesearch/internal/secrets"
)

// openCache opens the configured response cache. It returns nil when the
// cache is disabled.
func openCache() (*respcache.Cache, error) {
	c, err := respcache.Open(cfg.Cache, respcache.WithLogger(logger))
	if errors.Is(err, respcache.ErrDisabled) {
		return nil, nil
	}
	return c, err
}

// session bundles an engine with the resources it was built over.
type session struct {
	engine *engine.Engine
	cache  *respcache.Cache
}

func (s *session) Close() {
	s.engine.Close()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			logger.Warn("closing cache", zap.Error(err))
		}
	}
}

// openSession builds providers from the configuration and an engine over
// them. Provider issues and ladder events go to the log.
func openSession() (*session, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured: add a providers list to citesearch.yaml")
	}
	cache, err := openCache()
	if err != nil {
		return nil, err
	}
	keys := secrets.Resolve(cfg.Providers, loadedSecrets)
	providers, err := search.Build(cfg.Providers, keys, cache, logger)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}
	eng, err := engine.New(providers,
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithRecorder(observe.NewZap(logger)))
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}
	return &session{engine: eng, cache: cache}, nil
}
