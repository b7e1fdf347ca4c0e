// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"slices"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"

	"github.com/pdiddy/citesearch/pkg/types"
)

// defaultIntent names the intent used when no trigger matches. Its spam rules
// apply to every query.
const defaultIntent = "default"

func stemWord(word string) string {
	stem, err := snowball.Stem(word, "english", true)
	if err != nil {
		return word
	}
	return stem
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stems(text string) []string {
	toks := tokenize(text)
	for i, t := range toks {
		toks[i] = stemWord(t)
	}
	return toks
}

// phrase is a stemmed keyword, possibly several words long.
type phrase []string

func (p phrase) in(words []string) bool {
	if len(p) == 0 || len(p) > len(words) {
		return false
	}
	for i := 0; i+len(p) <= len(words); i++ {
		if slices.Equal(words[i:i+len(p)], p) {
			return true
		}
	}
	return false
}

type spamRules struct {
	keywords []phrase
	domains  domainSet
}

// spamFilter holds compiled spam rules per intent.
type spamFilter struct {
	byIntent map[string]spamRules
}

func newSpamFilter(rules map[string]types.SpamRules) spamFilter {
	f := spamFilter{byIntent: make(map[string]spamRules, len(rules))}
	for intent, r := range rules {
		sr := spamRules{domains: newDomainSet(r.Domains)}
		for _, kw := range r.Keywords {
			if p := phrase(stems(kw)); len(p) > 0 {
				sr.keywords = append(sr.keywords, p)
			}
		}
		f.byIntent[strings.ToLower(intent)] = sr
	}
	return f
}

// check reports keyword and domain matches for a snippet under intent. The
// default intent's rules always apply.
func (f spamFilter) check(s types.Snippet, words []string, intent string) (keyword, domain bool) {
	for _, name := range []string{defaultIntent, strings.ToLower(intent)} {
		r, ok := f.byIntent[name]
		if !ok {
			continue
		}
		if !domain && s.Host != "" {
			_, domain = r.domains.match(s.Host)
		}
		if !keyword {
			for _, p := range r.keywords {
				if p.in(words) {
					keyword = true
					break
				}
			}
		}
		if name == strings.ToLower(intent) {
			break
		}
	}
	return keyword, domain
}

// intentDetector maps trigger words to query intents.
type intentDetector struct {
	names    []string
	triggers map[string][]phrase
}

func newIntentDetector(intents map[string][]string) intentDetector {
	d := intentDetector{triggers: make(map[string][]phrase, len(intents))}
	for name, words := range intents {
		name = strings.ToLower(name)
		d.names = append(d.names, name)
		for _, w := range words {
			if p := phrase(stems(w)); len(p) > 0 {
				d.triggers[name] = append(d.triggers[name], p)
			}
		}
	}
	slices.Sort(d.names)
	return d
}

func (d intentDetector) detect(query string) string {
	words := stems(query)
	for _, name := range d.names {
		for _, p := range d.triggers[name] {
			if p.in(words) {
				return name
			}
		}
	}
	return defaultIntent
}
