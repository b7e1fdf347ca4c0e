package types

import "time"

// Config groups all settings for the engine, its providers and the CLI.
type Config struct {
	Engine     EngineConfig     `json:"engine" yaml:"engine" mapstructure:"engine"`
	Backoff    BackoffConfig    `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	Race       RaceConfig       `json:"race" yaml:"race" mapstructure:"race"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier" mapstructure:"classifier"`
	Selection  SelectionConfig  `json:"selection" yaml:"selection" mapstructure:"selection"`
	Fallback   FallbackConfig   `json:"fallback" yaml:"fallback" mapstructure:"fallback"`
	Providers  []ProviderConfig `json:"providers" yaml:"providers" mapstructure:"providers" validate:"dive"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" mapstructure:"cache"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
}

// EngineConfig holds request-level limits.
type EngineConfig struct {
	// Budget is the total live race budget for one search (default 4s).
	Budget time.Duration `json:"budget" yaml:"budget" mapstructure:"budget" validate:"gte=0"`

	// MaxTopK rejects larger topK values as contract violations (default 50).
	MaxTopK int `json:"max_top_k" yaml:"max_top_k" mapstructure:"max_top_k" validate:"gte=1"`
}

// BackoffConfig tunes the per-provider cooldown tracks.
type BackoffConfig struct {
	// Base is the first step of the exponential track (default 1s).
	Base time.Duration `json:"base" yaml:"base" mapstructure:"base" validate:"gt=0"`

	// MaxCooldown caps the exponential track (default 60s).
	MaxCooldown time.Duration `json:"max_cooldown" yaml:"max_cooldown" mapstructure:"max_cooldown" validate:"gtefield=Base"`

	// JitterFraction adds up to this fraction of the computed cooldown (default 0.2).
	JitterFraction float64 `json:"jitter_fraction" yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`

	// AwaitBase is the step of the shallow local-await track (default 250ms).
	AwaitBase time.Duration `json:"await_base" yaml:"await_base" mapstructure:"await_base" validate:"gt=0"`

	// AwaitMaxCooldown caps the local-await track (default 2s).
	AwaitMaxCooldown time.Duration `json:"await_max_cooldown" yaml:"await_max_cooldown" mapstructure:"await_max_cooldown" validate:"gtefield=AwaitBase"`

	// LocalMaxCooldown caps self-imposed client-side throttles (default 5s).
	LocalMaxCooldown time.Duration `json:"local_max_cooldown" yaml:"local_max_cooldown" mapstructure:"local_max_cooldown" validate:"gt=0"`

	// JustStartedWindow marks a skip verdict as just started (default 1s).
	JustStartedWindow time.Duration `json:"just_started_window" yaml:"just_started_window" mapstructure:"just_started_window" validate:"gte=0"`
}

// RaceConfig tunes the provider fan-out.
type RaceConfig struct {
	// PoolSize is the shared worker pool capacity; 0 disables the pool and
	// providers are called synchronously (default 8).
	PoolSize int `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`

	// ProviderTimeout bounds a single provider call, including calls that
	// keep running after the race gave up on them (default 8s).
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout" mapstructure:"provider_timeout" validate:"gt=0"`

	// MinLiveBudget is the one-time grace window granted when the deadline is
	// exhausted with zero completions (default 300ms).
	MinLiveBudget time.Duration `json:"min_live_budget" yaml:"min_live_budget" mapstructure:"min_live_budget" validate:"gte=0"`

	// MinSyncTimeout is the floor of the shrunk per-provider timeout used
	// without a pool (default 500ms).
	MinSyncTimeout time.Duration `json:"min_sync_timeout" yaml:"min_sync_timeout" mapstructure:"min_sync_timeout" validate:"gt=0"`
}

// BoostMode controls the stage-based credibility boost.
type BoostMode string

const (
	BoostOff          BoostMode = "off"
	BoostConservative BoostMode = "conservative"
	BoostAggressive   BoostMode = "aggressive"
)

// ClassifierConfig holds classifier switches and inline domain rules.
type ClassifierConfig struct {
	// RulesFile is an optional YAML file merged over the inline rules.
	RulesFile string `json:"rules_file,omitempty" yaml:"rules_file,omitempty" mapstructure:"rules_file"`

	// Boost selects the stage-based credibility boost (default conservative).
	Boost BoostMode `json:"boost" yaml:"boost" mapstructure:"boost" validate:"omitempty,oneof=off conservative aggressive"`

	// NoFilterEnabled retains spam matches in the NOFILTER stage instead of
	// dropping them.
	NoFilterEnabled bool `json:"nofilter_enabled" yaml:"nofilter_enabled" mapstructure:"nofilter_enabled"`

	// TrustedSpamExempt lets OFFICIAL and DOCS results through keyword spam
	// matches. Spam domains still apply.
	TrustedSpamExempt bool `json:"trusted_spam_exempt,omitempty" yaml:"trusted_spam_exempt,omitempty" mapstructure:"trusted_spam_exempt"`

	// SpamPenalty is subtracted from the score of retained spam (default 0.5).
	SpamPenalty float64 `json:"spam_penalty" yaml:"spam_penalty" mapstructure:"spam_penalty" validate:"gte=0"`

	Rules DomainRules `json:"rules" yaml:"rules" mapstructure:"rules"`
}

// DomainRules are the static domain lists the classifier falls back to.
type DomainRules struct {
	Official         []string                 `json:"official,omitempty" yaml:"official,omitempty" mapstructure:"official"`
	Docs             []string                 `json:"docs,omitempty" yaml:"docs,omitempty" mapstructure:"docs"`
	DevCommunity     []string                 `json:"dev_community,omitempty" yaml:"dev_community,omitempty" mapstructure:"dev_community"`
	Deny             []string                 `json:"deny,omitempty" yaml:"deny,omitempty" mapstructure:"deny"`
	DevCommunityDeny []string                 `json:"dev_community_deny,omitempty" yaml:"dev_community_deny,omitempty" mapstructure:"dev_community_deny"`
	Profiles         map[string]DomainProfile `json:"profiles,omitempty" yaml:"profiles,omitempty" mapstructure:"profiles"`
	Spam             map[string]SpamRules     `json:"spam,omitempty" yaml:"spam,omitempty" mapstructure:"spam"`
	Intents          map[string][]string      `json:"intents,omitempty" yaml:"intents,omitempty" mapstructure:"intents"`

	// Authority maps a host suffix to a credibility name. It backs the
	// static scorer used when no external authority model is injected.
	Authority map[string]string `json:"authority,omitempty" yaml:"authority,omitempty" mapstructure:"authority"`
}

// DomainProfile is a named set of domain lists (e.g. "python", "kubernetes").
type DomainProfile struct {
	Official     []string `json:"official,omitempty" yaml:"official,omitempty" mapstructure:"official"`
	Docs         []string `json:"docs,omitempty" yaml:"docs,omitempty" mapstructure:"docs"`
	DevCommunity []string `json:"dev_community,omitempty" yaml:"dev_community,omitempty" mapstructure:"dev_community"`
	Whitelist    []string `json:"whitelist,omitempty" yaml:"whitelist,omitempty" mapstructure:"whitelist"`
}

// SpamRules are the blocklists for one query intent.
type SpamRules struct {
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty" mapstructure:"keywords"`
	Domains  []string `json:"domains,omitempty" yaml:"domains,omitempty" mapstructure:"domains"`
}

// TopUpAnchor selects where CiteableTopUp inserts entries.
type TopUpAnchor string

const (
	AnchorHead                TopUpAnchor = "head"
	AnchorAfterCiteablePrefix TopUpAnchor = "after_citeable_prefix"
)

// SelectionConfig tunes ordered selection and the citeable top-up.
type SelectionConfig struct {
	// StageOrder overrides the default stage preference order.
	StageOrder []string `json:"stage_order,omitempty" yaml:"stage_order,omitempty" mapstructure:"stage_order"`

	// TopUpMaxAdd caps entries added by CiteableTopUp (default 2).
	TopUpMaxAdd int `json:"topup_max_add" yaml:"topup_max_add" mapstructure:"topup_max_add" validate:"gte=0"`

	// TopUpAnchor is head or after_citeable_prefix (default after_citeable_prefix).
	TopUpAnchor TopUpAnchor `json:"topup_anchor" yaml:"topup_anchor" mapstructure:"topup_anchor" validate:"omitempty,oneof=head after_citeable_prefix"`

	// TopUpAllowHostDuplicates enables the second, host-duplicates-allowed
	// top-up pass (default true).
	TopUpAllowHostDuplicates bool `json:"topup_allow_host_duplicates" yaml:"topup_allow_host_duplicates" mapstructure:"topup_allow_host_duplicates"`

	// SmallTopKThreshold forces a one-entry top-up when topK is at most this
	// value and no citeable entry was picked (default 2, 0 disables).
	SmallTopKThreshold int `json:"small_topk_threshold" yaml:"small_topk_threshold" mapstructure:"small_topk_threshold" validate:"gte=0"`
}

// FallbackConfig switches and tunes the fallback ladder steps.
type FallbackConfig struct {
	Relax        bool `json:"relax" yaml:"relax" mapstructure:"relax"`
	ExtraQueries bool `json:"extra_queries" yaml:"extra_queries" mapstructure:"extra_queries"`
	CacheRescue  bool `json:"cache_rescue" yaml:"cache_rescue" mapstructure:"cache_rescue"`
	PoolRescue   bool `json:"pool_rescue" yaml:"pool_rescue" mapstructure:"pool_rescue"`
	Demotion     bool `json:"demotion" yaml:"demotion" mapstructure:"demotion"`
	QualityGate  bool `json:"quality_gate" yaml:"quality_gate" mapstructure:"quality_gate"`

	// ExtraQueryLimit caps alternate-phrasing live queries (default 2).
	ExtraQueryLimit int `json:"extra_query_limit" yaml:"extra_query_limit" mapstructure:"extra_query_limit" validate:"gte=0"`

	// ExtraQueryBudget is the race budget of each extra live query (default 1.5s).
	ExtraQueryBudget time.Duration `json:"extra_query_budget" yaml:"extra_query_budget" mapstructure:"extra_query_budget" validate:"gte=0"`

	// CacheProbeLimit caps cache-only probe variants (default 6).
	CacheProbeLimit int `json:"cache_probe_limit" yaml:"cache_probe_limit" mapstructure:"cache_probe_limit" validate:"gte=0"`

	// CacheProbeBudget is the race budget of each cache-only probe (default 500ms).
	CacheProbeBudget time.Duration `json:"cache_probe_budget" yaml:"cache_probe_budget" mapstructure:"cache_probe_budget" validate:"gte=0"`

	// LowTrustMaxRatio caps the share of UNVERIFIED entries admitted by
	// relaxation; 0 disables the cap (default 0.5).
	LowTrustMaxRatio float64 `json:"low_trust_max_ratio" yaml:"low_trust_max_ratio" mapstructure:"low_trust_max_ratio" validate:"gte=0,lte=1"`

	// QualityGateRatio is the UNVERIFIED share at which the quality gate
	// fires (default 0.8).
	QualityGateRatio float64 `json:"quality_gate_ratio" yaml:"quality_gate_ratio" mapstructure:"quality_gate_ratio" validate:"gte=0,lte=1"`

	// SensitiveTerms mark queries whose OfficialOnly is never relaxed.
	SensitiveTerms []string `json:"sensitive_terms,omitempty" yaml:"sensitive_terms,omitempty" mapstructure:"sensitive_terms"`
}

// ProviderConfig configures one reference provider adapter.
type ProviderConfig struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Kind    string `json:"kind" yaml:"kind" mapstructure:"kind" validate:"required,oneof=serpapi searxng duckduckgo"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey is used directly; APIKeySecret names a .secrets/ file instead.
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	APIKeySecret string `json:"api_key_secret,omitempty" yaml:"api_key_secret,omitempty" mapstructure:"api_key_secret"`

	// Enabled defaults to true when unset.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`

	// MinInterval is the client-side minimum spacing between live calls.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval" validate:"gte=0"`

	// Timeout is the HTTP client timeout (default 10s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`

	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty" mapstructure:"user_agent"`
}

// IsEnabled reports the Enabled flag, true when unset.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// CacheConfig selects the provider response cache backend.
type CacheConfig struct {
	// Backend is memory, sqlite, badger or bbolt (default memory).
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite badger bbolt none"`

	// Path is the database file (sqlite, bbolt) or directory (badger).
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`

	// TTL is how long a cached response stays usable (default 24h).
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

// LogConfig configures the zap logger built by the CLI.
type LogConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}
