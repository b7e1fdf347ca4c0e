// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/pkg/types"
)

// Scorer is an external authority model.
type Scorer interface {
	// Credibility returns the authority credibility of a URL. ok is false when
	// the scorer has no data for it.
	Credibility(rawURL string) (cred types.Credibility, ok bool)
}

// ProfileMatcher decides domain-profile allowance outside the static lists.
type ProfileMatcher interface {
	AllowedByProfile(rawURL, profile string) bool
}

type profileSets struct {
	official, docs, devCommunity, whitelist domainSet
}

// Classifier labels snippets. It is immutable after New and safe for
// concurrent use.
type Classifier struct {
	official     domainSet
	docs         domainSet
	devCommunity domainSet
	deny         domainSet
	devDeny      domainSet
	profiles     map[string]profileSets
	spam         spamFilter
	intents      intentDetector

	boost         types.BoostMode
	noFilter      bool
	trustedExempt bool
	penalty       float64

	scorer  Scorer
	matcher ProfileMatcher
	logger  *zap.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithScorer injects an authority scorer.
func WithScorer(s Scorer) Option {
	return func(c *Classifier) { c.scorer = s }
}

// WithProfileMatcher injects a profile matcher.
func WithProfileMatcher(m ProfileMatcher) Option {
	return func(c *Classifier) { c.matcher = m }
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New compiles the configured rules. When cfg.RulesFile is set its rules are
// merged over cfg.Rules. Without WithScorer, a non-empty authority table
// backs a StaticAuthority scorer.
func New(cfg types.ClassifierConfig, opts ...Option) (*Classifier, error) {
	rules := cfg.Rules
	if cfg.RulesFile != "" {
		extra, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = MergeRules(rules, extra)
	}

	boost := cfg.Boost
	switch boost {
	case "":
		boost = types.BoostConservative
	case types.BoostOff, types.BoostConservative, types.BoostAggressive:
	default:
		return nil, fmt.Errorf("classify: unknown boost mode %q", boost)
	}

	c := &Classifier{
		official:      newDomainSet(rules.Official),
		docs:          newDomainSet(rules.Docs),
		devCommunity:  newDomainSet(rules.DevCommunity),
		deny:          newDomainSet(rules.Deny),
		devDeny:       newDomainSet(rules.DevCommunityDeny),
		profiles:      make(map[string]profileSets, len(rules.Profiles)),
		spam:          newSpamFilter(rules.Spam),
		intents:       newIntentDetector(rules.Intents),
		boost:         boost,
		noFilter:      cfg.NoFilterEnabled,
		trustedExempt: cfg.TrustedSpamExempt,
		penalty:       cfg.SpamPenalty,
		logger:        zap.NewNop(),
	}
	for name, p := range rules.Profiles {
		c.profiles[strings.ToLower(name)] = profileSets{
			official:     newDomainSet(p.Official),
			docs:         newDomainSet(p.Docs),
			devCommunity: newDomainSet(p.DevCommunity),
			whitelist:    newDomainSet(p.Whitelist),
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scorer == nil && len(rules.Authority) > 0 {
		c.scorer = NewStaticAuthority(rules)
	}
	c.logger = c.logger.Named("classify")
	return c, nil
}

// NoFilterEnabled reports whether spam matches are kept in NOFILTER.
func (c *Classifier) NoFilterEnabled() bool { return c.noFilter }

// DetectIntent maps a query to a configured intent, or "default".
func (c *Classifier) DetectIntent(query string) string {
	return c.intents.detect(query)
}

// Classify returns the decision for one snippet.
func (c *Classifier) Classify(s types.Snippet, policy types.SelectionPolicy, intent string) types.Decision {
	cred, scored := types.CredUnverified, false
	if c.scorer != nil && s.URL != "" {
		cred, scored = c.scorer.Credibility(s.URL)
		if !scored {
			cred = types.CredUnverified
		}
	}

	d := c.rules(s, policy, cred, scored)
	d.CitationCredibility = d.Credibility
	if up, ok := boostCredibility(c.boost, d.Stage, d.Credibility); ok {
		d.CitationCredibility = up
		d.Evidence |= types.EvStageBoost
	}

	words := stems(s.Lower)
	keyword, domain := c.spam.check(s, words, intent)
	if keyword && c.trustedExempt && (d.Stage == types.StageOfficial || d.Stage == types.StageDocs) {
		keyword = false
	}
	if keyword {
		d.Evidence |= types.EvSpamKeyword
	}
	if domain {
		d.Evidence |= types.EvSpamDomain
	}
	if keyword || domain {
		c.reject(&d, types.RuleSpam)
	}
	if d.Dropped {
		c.logger.Debug("snippet dropped",
			zap.String("key", s.Key()),
			zap.String("rule", string(d.DecidedBy)),
			zap.Stringer("evidence", d.Evidence))
	}
	return d
}

// reject drops the decision, or parks it in NOFILTER when enabled.
func (c *Classifier) reject(d *types.Decision, rule types.Rule) {
	d.DecidedBy = rule
	if c.noFilter {
		d.Stage = types.StageNoFilter
		d.Penalty = c.penalty
		d.Dropped = false
		return
	}
	d.Dropped = true
}

func (c *Classifier) rules(s types.Snippet, policy types.SelectionPolicy, cred types.Credibility, scored bool) types.Decision {
	var ev types.Evidence
	if scored {
		ev |= types.EvAuthorityScore
	}

	// 1. Declared upstream tag.
	if s.DeclaredStage != nil && s.DeclaredStage.Valid() {
		denied := *s.DeclaredStage == types.StageDevCommunity && s.Host != "" && hostIn(c.devDeny, s.Host)
		if !denied {
			dc := cred
			if s.DeclaredCred != nil {
				dc = *s.DeclaredCred
			}
			return types.Decision{Stage: *s.DeclaredStage, Credibility: dc, DecidedBy: types.RuleDeclared, Evidence: ev | types.EvDeclaredTag}
		}
		ev |= types.EvDeclaredTag | types.EvDeclaredDenied
	}

	// 2. Authority score.
	if scored {
		switch cred {
		case types.CredOfficial:
			return types.Decision{Stage: types.StageOfficial, Credibility: cred, DecidedBy: types.RuleAuthority, Evidence: ev}
		case types.CredTrusted:
			return types.Decision{Stage: types.StageDocs, Credibility: cred, DecidedBy: types.RuleAuthority, Evidence: ev}
		}
	}

	if s.Host == "" {
		return types.Decision{Stage: types.StageNoFilterSafe, Credibility: cred, DecidedBy: types.RuleDefault, Evidence: ev}
	}

	// 3. Domain profile.
	if policy.DomainProfile != "" {
		if stage, ok := c.profileStage(s, policy.DomainProfile); ok {
			flag := types.EvProfileMember
			if stage == types.StageProfileBoost && !c.inProfileLists(s.Host, policy.DomainProfile) {
				flag = types.EvProfileAllowed
			}
			return types.Decision{Stage: stage, Credibility: cred, DecidedBy: types.RuleProfile, Evidence: ev | flag}
		}
	}

	// 4. Suffix lists, most specific suffix first.
	for d := range suffixes(s.Host) {
		var stage types.Stage
		switch {
		case c.deny.has(d):
			dec := types.Decision{Stage: types.StageNoFilterSafe, Credibility: cred, Evidence: ev | types.EvDenyList | types.EvSuffixMatch}
			c.reject(&dec, types.RuleDeny)
			return dec
		case c.official.has(d):
			stage = types.StageOfficial
		case c.docs.has(d):
			stage = types.StageDocs
		case c.devCommunity.has(d) && !hostIn(c.devDeny, s.Host):
			stage = types.StageDevCommunity
		default:
			continue
		}
		flags := ev | types.EvSuffixMatch
		if isPublicSuffix(d) {
			flags |= types.EvPublicSuffix
		}
		return types.Decision{Stage: stage, Credibility: cred, DecidedBy: types.RuleSuffix, Evidence: flags}
	}

	// 5. Default.
	return types.Decision{Stage: types.StageNoFilterSafe, Credibility: cred, DecidedBy: types.RuleDefault, Evidence: ev}
}

func hostIn(set domainSet, host string) bool {
	_, ok := set.match(host)
	return ok
}

func (c *Classifier) profileStage(s types.Snippet, profile string) (types.Stage, bool) {
	if p, ok := c.profiles[strings.ToLower(profile)]; ok {
		switch {
		case hostIn(p.official, s.Host):
			return types.StageOfficial, true
		case hostIn(p.docs, s.Host):
			return types.StageDocs, true
		case hostIn(p.devCommunity, s.Host) && !hostIn(c.devDeny, s.Host):
			return types.StageDevCommunity, true
		case hostIn(p.whitelist, s.Host):
			return types.StageProfileBoost, true
		}
	}
	if c.matcher != nil && c.matcher.AllowedByProfile(s.URL, profile) {
		return types.StageProfileBoost, true
	}
	return 0, false
}

func (c *Classifier) inProfileLists(host, profile string) bool {
	p, ok := c.profiles[strings.ToLower(profile)]
	return ok && hostIn(p.whitelist, host)
}

// boostCredibility applies the stage-based boost to an UNVERIFIED
// credibility.
func boostCredibility(mode types.BoostMode, stage types.Stage, cred types.Credibility) (types.Credibility, bool) {
	if cred != types.CredUnverified || mode == types.BoostOff {
		return cred, false
	}
	switch stage {
	case types.StageOfficial, types.StageDocs:
		return types.CredTrusted, true
	case types.StageDevCommunity:
		if mode == types.BoostAggressive {
			return types.CredCommunity, true
		}
	}
	return cred, false
}
