// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// Rule names the classifier rule that produced a Decision.
type Rule string

const (
	RuleDeclared  Rule = "declared"
	RuleAuthority Rule = "authority"
	RuleProfile   Rule = "profile"
	RuleSuffix    Rule = "suffix"
	RuleDefault   Rule = "default"
	RuleSpam      Rule = "spam"
	RuleDeny      Rule = "deny"
)

// Evidence is a set of signals observed while classifying a snippet.
type Evidence uint16

const (
	EvDeclaredTag Evidence = 1 << iota
	EvDeclaredDenied
	EvAuthorityScore
	EvProfileMember
	EvProfileAllowed
	EvSuffixMatch
	EvPublicSuffix
	EvSpamKeyword
	EvSpamDomain
	EvStageBoost
	EvDenyList
)

var evidenceNames = []struct {
	flag Evidence
	name string
}{
	{EvDeclaredTag, "declared_tag"},
	{EvDeclaredDenied, "declared_denied"},
	{EvAuthorityScore, "authority_score"},
	{EvProfileMember, "profile_member"},
	{EvProfileAllowed, "profile_allowed"},
	{EvSuffixMatch, "suffix_match"},
	{EvPublicSuffix, "public_suffix"},
	{EvSpamKeyword, "spam_keyword"},
	{EvSpamDomain, "spam_domain"},
	{EvStageBoost, "stage_boost"},
	{EvDenyList, "deny_list"},
}

// Has reports whether all flags in f are set.
func (e Evidence) Has(f Evidence) bool { return e&f == f }

// Names lists the set flags in declaration order.
func (e Evidence) Names() []string {
	var out []string
	for _, n := range evidenceNames {
		if e.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return out
}

func (e Evidence) String() string {
	return strings.Join(e.Names(), ",")
}

// MarshalText implements encoding.TextMarshaler.
func (e Evidence) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Decision is the classifier verdict for one snippet.
type Decision struct {
	Stage       Stage       `json:"stage" yaml:"stage"`
	Credibility Credibility `json:"credibility" yaml:"credibility"`

	// CitationCredibility is Credibility after the stage-based boost. It is
	// used for citation accounting only.
	CitationCredibility Credibility `json:"citation_credibility" yaml:"citation_credibility"`

	DecidedBy Rule     `json:"decided_by" yaml:"decided_by"`
	Evidence  Evidence `json:"evidence" yaml:"evidence"`

	// Dropped is set when the spam filter or deny list removed the snippet.
	Dropped bool `json:"dropped,omitempty" yaml:"dropped,omitempty"`

	// Penalty is subtracted from the snippet score (spam retained in NOFILTER).
	Penalty float64 `json:"penalty,omitempty" yaml:"penalty,omitempty"`
}

// Citeable reports whether this decision may satisfy a citation requirement.
func (d Decision) Citeable() bool {
	return !d.Dropped && d.Stage.Citeable() && d.CitationCredibility != CredUnverified
}
