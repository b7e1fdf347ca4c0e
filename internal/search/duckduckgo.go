// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/citesearch/internal/httputil"
	"github.com/pdiddy/citesearch/pkg/types"
)

// duckduckgoHTMLBase is the DuckDuckGo HTML endpoint.
var duckduckgoHTMLBase = "https://html.duckduckgo.com/html/"

const defaultUserAgent = "Mozilla/5.0 (compatible; citesearch/1.0)"

// DuckDuckGoBackend scrapes the DuckDuckGo HTML results page.
type DuckDuckGoBackend struct {
	Client    *http.Client
	BaseURL   string
	UserAgent string

	ProviderName string
}

// Name returns the backend identifier.
func (b *DuckDuckGoBackend) Name() string {
	if b.ProviderName != "" {
		return b.ProviderName
	}
	return "duckduckgo"
}

// Search fetches the results page and parses result blocks.
func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, topK int) ([]types.Snippet, error) {
	base := duckduckgoHTMLBase
	if b.BaseURL != "" {
		base = b.BaseURL
	}
	reqURL := base + "?" + url.Values{"q": {query}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	ua := b.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := httputil.Do(ctx, b.Client, req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing duckduckgo page: %w", err)
	}

	type hit struct{ title, link, text string }
	var hits []hit
	n := limit(topK)
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		a := s.Find("a.result__a").First()
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		link := resolveDDGLink(href)
		if link == "" {
			return true
		}
		hits = append(hits, hit{
			title: strings.TrimSpace(a.Text()),
			link:  link,
			text:  strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(hits) < n
	})

	out := make([]types.Snippet, 0, len(hits))
	for i, h := range hits {
		out = append(out, types.NewSnippet(b.Name(), h.title, h.link, h.text).WithScore(positionScore(i, len(hits))))
	}
	return out, nil
}

// resolveDDGLink unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveDDGLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
