package types

import "time"

// DefaultConfig returns the settings used when nothing is configured. The
// thresholds were tuned empirically and are kept configurable.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			Budget:  4 * time.Second,
			MaxTopK: 50,
		},
		Backoff: BackoffConfig{
			Base:              time.Second,
			MaxCooldown:       60 * time.Second,
			JitterFraction:    0.2,
			AwaitBase:         250 * time.Millisecond,
			AwaitMaxCooldown:  2 * time.Second,
			LocalMaxCooldown:  5 * time.Second,
			JustStartedWindow: time.Second,
		},
		Race: RaceConfig{
			PoolSize:        8,
			ProviderTimeout: 8 * time.Second,
			MinLiveBudget:   300 * time.Millisecond,
			MinSyncTimeout:  500 * time.Millisecond,
		},
		Classifier: ClassifierConfig{
			Boost:       BoostConservative,
			SpamPenalty: 0.5,
			Rules:       DefaultDomainRules(),
		},
		Selection: SelectionConfig{
			TopUpMaxAdd:              2,
			TopUpAnchor:              AnchorAfterCiteablePrefix,
			TopUpAllowHostDuplicates: true,
			SmallTopKThreshold:       2,
		},
		Fallback: FallbackConfig{
			Relax:            true,
			ExtraQueries:     true,
			CacheRescue:      true,
			PoolRescue:       true,
			Demotion:         true,
			QualityGate:      true,
			ExtraQueryLimit:  2,
			ExtraQueryBudget: 1500 * time.Millisecond,
			CacheProbeLimit:  6,
			CacheProbeBudget: 500 * time.Millisecond,
			LowTrustMaxRatio: 0.5,
			QualityGateRatio: 0.8,
			SensitiveTerms:   []string{"medical", "dosage", "legal advice", "diagnosis", "tax", "lawsuit"},
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultDomainRules returns a small built-in rule set. Deployments are
// expected to extend it through a rules file.
func DefaultDomainRules() DomainRules {
	return DomainRules{
		Official: []string{"gov", "gov.uk", "europa.eu", "who.int", "w3.org", "ietf.org"},
		Docs: []string{
			"docs.python.org", "developer.mozilla.org", "go.dev", "pkg.go.dev",
			"kubernetes.io", "docs.github.com", "learn.microsoft.com", "readthedocs.io",
		},
		DevCommunity:     []string{"stackoverflow.com", "stackexchange.com", "github.com", "dev.to"},
		DevCommunityDeny: []string{"gist.github.com"},
		Spam: map[string]SpamRules{
			"default": {
				Keywords: []string{"casino", "viagra", "free money", "crack download", "keygen"},
				Domains:  []string{"spam.example", "clickfarm.example"},
			},
			"shopping": {
				Keywords: []string{"coupon", "promo code"},
			},
		},
		Intents: map[string][]string{
			"technical": {"api", "docs", "documentation", "error", "install", "library", "sdk"},
			"shopping":  {"buy", "price", "cheap", "deal"},
		},
	}
}
