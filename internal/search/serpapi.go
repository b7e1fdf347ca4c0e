// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pdiddy/citesearch/internal/httputil"
	"github.com/pdiddy/citesearch/pkg/types"
)

// serpAPIBase is the SerpAPI search endpoint. Declared as a var so tests
// can substitute an httptest server.
var serpAPIBase = "https://serpapi.com/search.json"

// SerpAPIBackend queries Google results through SerpAPI.
type SerpAPIBackend struct {
	Client    *http.Client
	APIKey    string
	BaseURL   string
	UserAgent string

	// ProviderName overrides the default "serpapi" key.
	ProviderName string
}

// Name returns the backend identifier.
func (b *SerpAPIBackend) Name() string {
	if b.ProviderName != "" {
		return b.ProviderName
	}
	return "serpapi"
}

// Search queries SerpAPI and returns snippets in result order.
func (b *SerpAPIBackend) Search(ctx context.Context, query string, topK int) ([]types.Snippet, error) {
	if b.APIKey == "" {
		return nil, fmt.Errorf("serpapi: missing API key")
	}
	base := serpAPIBase
	if b.BaseURL != "" {
		base = b.BaseURL
	}
	params := url.Values{
		"engine":  {"google"},
		"q":       {query},
		"num":     {strconv.Itoa(limit(topK))},
		"api_key": {b.APIKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.Do(ctx, b.Client, req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %w", err)
	}
	defer resp.Body.Close()

	var sr serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing serpapi response: %w", err)
	}
	if sr.Error != "" && len(sr.OrganicResults) == 0 {
		// SerpAPI reports "no results" as an error string with HTTP 200.
		if sr.SearchInformation.OrganicResultsState == "Fully empty" {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi: %s", sr.Error)
	}

	total := len(sr.OrganicResults)
	out := make([]types.Snippet, 0, total)
	for i, r := range sr.OrganicResults {
		if r.Link == "" {
			continue
		}
		out = append(out, types.NewSnippet(b.Name(), r.Title, r.Link, r.Snippet).WithScore(positionScore(i, total)))
	}
	return out, nil
}

// SerpAPI JSON structures.
type serpResponse struct {
	Error             string           `json:"error"`
	OrganicResults    []serpOrganic    `json:"organic_results"`
	SearchInformation serpSearchStatus `json:"search_information"`
}

type serpOrganic struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

type serpSearchStatus struct {
	OrganicResultsState string `json:"organic_results_state"`
}
