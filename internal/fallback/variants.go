// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fallback

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

// intentSuffixes are trailing words that narrow a query toward a source type
// rather than a topic. They are stripped when probing caches.
var intentSuffixes = []string{
	"official documentation", "official docs", "official site", "official website",
	"documentation", "docs", "official", "reference", "tutorial", "tutorials",
	"guide", "examples", "example", "api",
}

// phrasings are appended to the topic for extra live queries.
var phrasings = []string{"official documentation", "official site", "reference"}

var (
	bracketRe = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)
	quoteRe   = regexp.MustCompile("[\"'`“”‘’]")
)

// queryHash identifies a query for per-request dedup. Case and whitespace
// differences collapse to the same hash.
func queryHash(q string) string {
	sum := sha256.Sum256([]byte(collapse(strings.ToLower(q))))
	return hex.EncodeToString(sum[:8])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripQuotes(q string) string { return collapse(quoteRe.ReplaceAllString(q, "")) }

func stripBrackets(q string) string { return collapse(bracketRe.ReplaceAllString(q, " ")) }

func normalizePunct(q string) string {
	return collapse(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, q))
}

// stripIntentSuffix removes trailing intent words, repeatedly, keeping at
// least one token.
func stripIntentSuffix(q string) string {
	q = collapse(q)
	for {
		lower := strings.ToLower(q)
		trimmed := false
		for _, suf := range intentSuffixes {
			if strings.HasSuffix(lower, " "+suf) {
				q = strings.TrimSpace(q[:len(q)-len(suf)])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return q
		}
	}
}

// ProbeVariants returns cache probe forms of query, most faithful first:
// the query itself, without quotes, without bracketed parts, with
// punctuation normalized, without trailing intent words, and with up to two
// tail tokens chopped. Duplicates (by query hash) are removed and the list is
// capped at limit.
func ProbeVariants(query string, limit int) []string {
	base := collapse(query)
	cleaned := normalizePunct(stripBrackets(stripQuotes(base)))
	topic := stripIntentSuffix(cleaned)
	candidates := []string{
		base,
		stripQuotes(base),
		stripBrackets(base),
		normalizePunct(base),
		cleaned,
		topic,
	}
	toks := strings.Fields(topic)
	for chop := 1; chop <= 2 && len(toks)-chop >= 2; chop++ {
		candidates = append(candidates, strings.Join(toks[:len(toks)-chop], " "))
	}
	return dedupe(candidates, limit, "")
}

// Phrasings returns alternate live phrasings favoring official and
// documentation sources. The original query is never repeated.
func Phrasings(query string, limit int) []string {
	topic := stripIntentSuffix(normalizePunct(stripQuotes(query)))
	if topic == "" {
		return nil
	}
	var out []string
	for _, p := range phrasings {
		out = append(out, topic+" "+p)
	}
	return dedupe(out, limit, query)
}

func dedupe(qs []string, limit int, exclude string) []string {
	seen := map[string]bool{}
	if exclude != "" {
		seen[queryHash(exclude)] = true
	}
	var out []string
	for _, q := range qs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.TrimSpace(q) == "" {
			continue
		}
		h := queryHash(q)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, q)
	}
	return out
}
