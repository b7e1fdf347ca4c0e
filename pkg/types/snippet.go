// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Snippet is one parsed search result. Snippets are values; once built by
// NewSnippet or ParseSnippet none of their fields change.
type Snippet struct {
	// Source is the provider that returned this snippet.
	Source string `json:"source" yaml:"source"`

	// Title is the result title, if the provider supplied one.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// URL is the result link as returned by the provider.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Text is the snippet body without any classification header.
	Text string `json:"text" yaml:"text"`

	// Raw is the rendered body (title, text and URL line).
	Raw string `json:"raw" yaml:"raw"`

	// DeclaredStage and DeclaredCred are set when an upstream producer already
	// tagged the snippet with a [STAGE|CRED:X] header.
	DeclaredStage *Stage       `json:"declared_stage,omitempty" yaml:"declared_stage,omitempty"`
	DeclaredCred  *Credibility `json:"declared_cred,omitempty" yaml:"declared_cred,omitempty"`

	// Host is the lowercased hostname without port or leading "www.".
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Lower is the lowercased Raw body, used by keyword matching.
	Lower string `json:"-" yaml:"-"`

	// Score is the provider position score in [0, 1].
	Score float64 `json:"score" yaml:"score"`
}

var (
	tagHeaderRe = regexp.MustCompile(`^\s*\[([A-Za-z_\-]+)(?:\|CRED:([A-Za-z_]+))?\]\s*`)
	urlRe       = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// NewSnippet builds a snippet from structured provider fields.
func NewSnippet(source, title, rawURL, text string) Snippet {
	s := Snippet{
		Source: source,
		Title:  strings.TrimSpace(title),
		URL:    strings.TrimSpace(rawURL),
		Text:   strings.TrimSpace(text),
	}
	s.Raw = renderBody(s.Title, s.Text, s.URL)
	s.derive()
	return s
}

// ParseSnippet builds a snippet from a plain string entry. A leading
// [STAGE|CRED:X] header is stripped and recorded as the declared
// classification; the first http(s) URL in the body becomes the snippet URL.
func ParseSnippet(source, raw string) Snippet {
	s := Snippet{Source: source}
	body := raw
	if m := tagHeaderRe.FindStringSubmatchIndex(raw); m != nil {
		stageName := raw[m[2]:m[3]]
		if st, ok := ParseStage(stageName); ok {
			s.DeclaredStage = &st
			if m[4] >= 0 {
				if c, ok := ParseCredibility(raw[m[4]:m[5]]); ok {
					s.DeclaredCred = &c
				}
			}
			body = raw[m[1]:]
		}
	}
	body = strings.TrimSpace(body)
	s.Text = body
	s.Raw = body
	if u := urlRe.FindString(body); u != "" {
		s.URL = strings.TrimRight(u, ").,;:]")
	}
	s.derive()
	return s
}

// WithScore returns a copy of s carrying the given position score.
func (s Snippet) WithScore(score float64) Snippet {
	s.Score = score
	return s
}

// WithDeclared returns a copy of s carrying an upstream classification.
func (s Snippet) WithDeclared(stage Stage, cred *Credibility) Snippet {
	s.DeclaredStage = &stage
	s.DeclaredCred = cred
	return s
}

// Rederived returns a copy of s with Host and Lower recomputed. Decoders use
// it after restoring a snippet from storage, where derived fields are absent.
func (s Snippet) Rederived() Snippet {
	s.derive()
	return s
}

func (s *Snippet) derive() {
	s.Host = HostOf(s.URL)
	s.Lower = strings.ToLower(s.Raw)
}

func renderBody(title, text, rawURL string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if text != "" {
		parts = append(parts, text)
	}
	if rawURL != "" {
		parts = append(parts, "URL: "+rawURL)
	}
	return strings.Join(parts, "\n")
}

// Key returns the dedup key: the normalized URL when one exists, otherwise a
// hash of the normalized body.
func (s Snippet) Key() string {
	if k := NormalizeURL(s.URL); k != "" {
		return k
	}
	sum := sha1.Sum([]byte(strings.Join(strings.Fields(s.Lower), " ")))
	return "body:" + hex.EncodeToString(sum[:8])
}

// Site returns the registrable domain (eTLD+1) of the snippet host.
func (s Snippet) Site() string {
	return RegistrableDomain(s.Host)
}

// Tagged renders the snippet body with a machine-parseable classification
// header so downstream consumers can recover it without recomputation.
func (s Snippet) Tagged(stage Stage, cred Credibility) string {
	return FormatTag(stage, cred) + " " + s.Raw
}

// FormatTag renders a [STAGE|CRED:X] header.
func FormatTag(stage Stage, cred Credibility) string {
	return fmt.Sprintf("[%s|CRED:%s]", stage, cred)
}

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"ref":     true,
	"ref_src": true,
}

// NormalizeURL reduces a URL to a comparison key: lowercased host without
// "www.", path without trailing slash, tracking parameters removed and the
// remaining query sorted. Scheme and fragment are dropped. It returns "" when
// the URL has no host.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := HostOf(raw)
	path := strings.TrimRight(u.EscapedPath(), "/")
	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(k)
		}
	}
	key := host + path
	if enc := q.Encode(); enc != "" {
		key += "?" + enc
	}
	return key
}

// HostOf returns the lowercased hostname of raw without port or a leading
// "www.". It returns "" when raw does not parse or has no host.
func HostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	h := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(h, "www.")
}

// RegistrableDomain returns the eTLD+1 of host, or host itself when the
// public suffix list cannot place it (IP addresses, bare suffixes).
func RegistrableDomain(host string) string {
	if host == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
