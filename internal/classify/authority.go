// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"strings"

	"github.com/pdiddy/citesearch/pkg/types"
)

// StaticAuthority is a Scorer and ProfileMatcher backed by configuration. It
// stands in when no external authority model is wired.
type StaticAuthority struct {
	creds    map[string]types.Credibility
	profiles map[string]domainSet
}

// NewStaticAuthority builds a scorer from rules.Authority (host suffix to
// credibility name) and a matcher from the union of every profile's lists.
// Unknown credibility names are ignored.
func NewStaticAuthority(rules types.DomainRules) *StaticAuthority {
	a := &StaticAuthority{
		creds:    make(map[string]types.Credibility, len(rules.Authority)),
		profiles: make(map[string]domainSet, len(rules.Profiles)),
	}
	for suffix, name := range rules.Authority {
		if cred, ok := types.ParseCredibility(name); ok {
			for d := range newDomainSet([]string{suffix}) {
				a.creds[d] = cred
			}
		}
	}
	for name, p := range rules.Profiles {
		var all []string
		all = append(all, p.Official...)
		all = append(all, p.Docs...)
		all = append(all, p.DevCommunity...)
		all = append(all, p.Whitelist...)
		a.profiles[strings.ToLower(name)] = newDomainSet(all)
	}
	return a
}

// Credibility implements Scorer with a most-specific-suffix lookup.
func (a *StaticAuthority) Credibility(rawURL string) (types.Credibility, bool) {
	host := types.HostOf(rawURL)
	if host == "" {
		return types.CredUnverified, false
	}
	for d := range suffixes(host) {
		if cred, ok := a.creds[d]; ok {
			return cred, true
		}
	}
	return types.CredUnverified, false
}

// AllowedByProfile implements ProfileMatcher.
func (a *StaticAuthority) AllowedByProfile(rawURL, profile string) bool {
	set, ok := a.profiles[strings.ToLower(profile)]
	if !ok {
		return false
	}
	return hostIn(set, types.HostOf(rawURL))
}
