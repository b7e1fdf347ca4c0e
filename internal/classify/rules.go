// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"
	"golang.org/x/net/publicsuffix"

	"github.com/pdiddy/citesearch/pkg/types"
)

// LoadRules reads domain rules from a YAML file.
func LoadRules(path string) (types.DomainRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.DomainRules{}, fmt.Errorf("%w: reading %s: %v", ErrRulesFile, path, err)
	}
	var rules types.DomainRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return types.DomainRules{}, fmt.Errorf("%w: parsing %s: %v", ErrRulesFile, path, err)
	}
	return rules, nil
}

// MergeRules returns base extended by over. Lists are concatenated; map
// entries in over replace those in base.
func MergeRules(base, over types.DomainRules) types.DomainRules {
	out := types.DomainRules{
		Official:         concat(base.Official, over.Official),
		Docs:             concat(base.Docs, over.Docs),
		DevCommunity:     concat(base.DevCommunity, over.DevCommunity),
		Deny:             concat(base.Deny, over.Deny),
		DevCommunityDeny: concat(base.DevCommunityDeny, over.DevCommunityDeny),
		Profiles:         overlay(base.Profiles, over.Profiles),
		Spam:             overlay(base.Spam, over.Spam),
		Intents:          overlay(base.Intents, over.Intents),
		Authority:        overlay(base.Authority, over.Authority),
	}
	return out
}

func concat(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	return append(slices.Clone(a), b...)
}

func overlay[V any](a, b map[string]V) map[string]V {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make(map[string]V, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}

// domainSet matches hosts against domain suffixes.
type domainSet map[string]bool

func newDomainSet(entries []string) domainSet {
	s := make(domainSet, len(entries))
	for _, e := range entries {
		e = strings.Trim(strings.ToLower(strings.TrimSpace(e)), ".")
		e = strings.TrimPrefix(e, "www.")
		if e != "" {
			s[e] = true
		}
	}
	return s
}

// has reports whether host equals d.
func (s domainSet) has(d string) bool { return s[d] }

// match returns the most specific entry host falls under.
func (s domainSet) match(host string) (string, bool) {
	for d := range suffixes(host) {
		if s[d] {
			return d, true
		}
	}
	return "", false
}

// suffixes yields host and each parent domain, most specific first.
func suffixes(host string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for h := host; h != ""; {
			if !yield(h) {
				return
			}
			i := strings.IndexByte(h, '.')
			if i < 0 {
				return
			}
			h = h[i+1:]
		}
	}
}

// isPublicSuffix reports whether d is itself an ICANN public suffix such as
// "gov" or "gov.uk".
func isPublicSuffix(d string) bool {
	ps, icann := publicsuffix.PublicSuffix(d)
	return icann && ps == d
}
