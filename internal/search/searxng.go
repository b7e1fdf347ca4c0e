// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/citesearch/internal/httputil"
	"github.com/pdiddy/citesearch/pkg/types"
)

// searxngAPIBase is the default SearXNG instance.
var searxngAPIBase = "http://localhost:8888"

// SearXNGBackend queries a SearXNG metasearch instance through its JSON API.
type SearXNGBackend struct {
	Client    *http.Client
	BaseURL   string
	UserAgent string

	ProviderName string
}

// Name returns the backend identifier.
func (b *SearXNGBackend) Name() string {
	if b.ProviderName != "" {
		return b.ProviderName
	}
	return "searxng"
}

// Search queries the instance and returns at most topK snippets.
func (b *SearXNGBackend) Search(ctx context.Context, query string, topK int) ([]types.Snippet, error) {
	base := searxngAPIBase
	if b.BaseURL != "" {
		base = b.BaseURL
	}
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	reqURL := strings.TrimRight(base, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.Do(ctx, b.Client, req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close()

	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing searxng response: %w", err)
	}

	results := sr.Results
	if n := limit(topK); len(results) > n {
		results = results[:n]
	}
	total := len(results)
	out := make([]types.Snippet, 0, total)
	for i, r := range results {
		if r.URL == "" {
			continue
		}
		out = append(out, types.NewSnippet(b.Name(), r.Title, r.URL, r.Content).WithScore(positionScore(i, total)))
	}
	return out, nil
}

// SearXNG JSON structures.
type searxResponse struct {
	Query   string        `json:"query"`
	Results []searxResult `json:"results"`
}

type searxResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Engine  string  `json:"engine"`
	Score   float64 `json:"score"`
}
