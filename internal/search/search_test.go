// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/citesearch/internal/httputil"
	"github.com/pdiddy/citesearch/internal/respcache"
	"github.com/pdiddy/citesearch/pkg/types"
)

// --- SerpAPI ---

func TestSerpAPISearch(t *testing.T) {
	var captured *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"organic_results":[
			{"position":1,"title":"Go","link":"https://go.dev/","snippet":"The Go language."},
			{"position":2,"title":"No link"},
			{"position":3,"title":"Tour","link":"https://go.dev/tour","snippet":"A tour."}
		]}`)
	}))
	defer ts.Close()

	old := serpAPIBase
	serpAPIBase = ts.URL
	defer func() { serpAPIBase = old }()

	b := &SerpAPIBackend{Client: ts.Client(), APIKey: "k123"}
	got, err := b.Search(context.Background(), "golang", 5)
	require.NoError(t, err)

	q := captured.URL.Query()
	assert.Equal(t, "golang", q.Get("q"))
	assert.Equal(t, "5", q.Get("num"))
	assert.Equal(t, "k123", q.Get("api_key"))

	require.Len(t, got, 2)
	assert.Equal(t, "serpapi", got[0].Source)
	assert.Equal(t, "go.dev", got[0].Host)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, "https://go.dev/tour", got[1].URL)
	assert.InDelta(t, 0.1, got[1].Score, 1e-9)
}

func TestSerpAPIMissingKey(t *testing.T) {
	b := &SerpAPIBackend{}
	_, err := b.Search(context.Background(), "q", 3)
	assert.ErrorContains(t, err, "missing API key")
}

func TestSerpAPIEmptyAndError(t *testing.T) {
	body := `{"error":"Google hasn't returned any results for this query.","search_information":{"organic_results_state":"Fully empty"}}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer ts.Close()

	b := &SerpAPIBackend{Client: ts.Client(), APIKey: "k", BaseURL: ts.URL}
	got, err := b.Search(context.Background(), "nothing", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	body = `{"error":"Invalid API key."}`
	_, err = b.Search(context.Background(), "q", 3)
	assert.ErrorContains(t, err, "Invalid API key")
}

func TestSerpAPIRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	b := &SerpAPIBackend{Client: ts.Client(), APIKey: "k", BaseURL: ts.URL}
	_, err := b.Search(context.Background(), "q", 3)
	rl, ok := httputil.AsRateLimit(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, 12*time.Second, rl.RetryAfter)
}

// --- SearXNG ---

func TestSearXNGSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"query":"k8s","results":[
			{"url":"https://kubernetes.io/docs/","title":"Docs","content":"Kubernetes docs"},
			{"url":"https://stackoverflow.com/q/1","title":"Q","content":"question"},
			{"url":"https://example.com/3","title":"3","content":"third"}
		]}`)
	}))
	defer ts.Close()

	b := &SearXNGBackend{Client: ts.Client(), BaseURL: ts.URL + "/", ProviderName: "searx-local"}
	got, err := b.Search(context.Background(), "k8s", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "searx-local", got[0].Source)
	assert.Equal(t, "kubernetes.io", got[0].Host)
	assert.Equal(t, "stackoverflow.com", got[1].Host)
}

func TestSearXNGBadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>`)
	}))
	defer ts.Close()

	b := &SearXNGBackend{Client: ts.Client(), BaseURL: ts.URL}
	_, err := b.Search(context.Background(), "q", 2)
	assert.ErrorContains(t, err, "parsing searxng response")
}

// --- DuckDuckGo ---

const ddgPage = `<html><body>
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example/buy">Ad</a>
</div>
<div class="result results_links">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fdocs.python.org%2F3%2F&amp;rut=x">Python docs</a>
  <a class="result__snippet">The official Python documentation.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://www.w3.org/TR/html52/">HTML 5.2</a>
  <div class="result__snippet">W3C Recommendation.</div>
</div>
<div class="result results_links">
  <a class="result__a" href="javascript:void(0)">bad</a>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "python docs", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, ddgPage)
	}))
	defer ts.Close()

	old := duckduckgoHTMLBase
	duckduckgoHTMLBase = ts.URL
	defer func() { duckduckgoHTMLBase = old }()

	b := &DuckDuckGoBackend{Client: ts.Client()}
	got, err := b.Search(context.Background(), "python docs", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://docs.python.org/3/", got[0].URL)
	assert.Equal(t, "Python docs", got[0].Title)
	assert.Equal(t, "The official Python documentation.", got[0].Text)
	assert.Equal(t, "w3.org", got[1].Host)
}

func TestDuckDuckGoRespectsTopK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ddgPage)
	}))
	defer ts.Close()

	b := &DuckDuckGoBackend{Client: ts.Client(), BaseURL: ts.URL}
	got, err := b.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestResolveDDGLink(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F", "https://go.dev/"},
		{"https://example.com/a", "https://example.com/a"},
		{"javascript:void(0)", ""},
		{"/relative", ""},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveDDGLink(tt.href))
		})
	}
}

// --- CachingProvider ---

type countingBackend struct {
	name  string
	calls atomic.Int32
	delay time.Duration
	err   error
	out   []types.Snippet
}

func (b *countingBackend) Name() string { return b.name }

func (b *countingBackend) Search(ctx context.Context, query string, topK int) ([]types.Snippet, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.out, nil
}

func fixtureSnippets(source string) []types.Snippet {
	return []types.Snippet{
		types.NewSnippet(source, "A", "https://a.example/1", "alpha"),
		types.NewSnippet(source, "B", "https://b.example/2", "beta"),
		types.NewSnippet(source, "C", "https://c.example/3", "gamma"),
	}
}

func memCache(t *testing.T) *respcache.Cache {
	t.Helper()
	c, err := respcache.Open(types.CacheConfig{Backend: "memory", TTL: time.Hour})
	require.NoError(t, err)
	return c
}

func TestCachingProviderCachesLiveResults(t *testing.T) {
	b := &countingBackend{name: "fake", out: fixtureSnippets("fake")}
	p := NewProvider(b, WithCache(memCache(t)))

	_, ok, err := p.SearchCached(context.Background(), "golang", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := p.Search(context.Background(), "golang", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	cached, ok, err := p.SearchCached(context.Background(), "  GOLANG ", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached, 3)

	_, err = p.Search(context.Background(), "golang", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.calls.Load(), "second live search is served from cache")
}

func TestCachingProviderWithoutCache(t *testing.T) {
	b := &countingBackend{name: "fake", out: fixtureSnippets("fake")}
	p := NewProvider(b)
	_, ok, err := p.SearchCached(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, p.Enabled())
	assert.Equal(t, "fake", p.Name())
}

func TestCachingProviderMinInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &countingBackend{name: "fake", out: fixtureSnippets("fake")}
	p := NewProvider(b,
		WithMinInterval(2*time.Second),
		WithClock(func() time.Time { return now }))

	assert.Zero(t, p.CoolingDown())
	_, err := p.Search(context.Background(), "one", 3)
	require.NoError(t, err)

	now = now.Add(500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, p.CoolingDown())

	_, err = p.Search(context.Background(), "two", 3)
	le, ok := IsLocalLimit(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "fake", le.Provider)
	assert.Equal(t, 1500*time.Millisecond, le.Wait)

	now = now.Add(2 * time.Second)
	_, err = p.Search(context.Background(), "two", 3)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, b.calls.Load())
}

func TestCachingProviderCollapsesConcurrentQueries(t *testing.T) {
	b := &countingBackend{name: "fake", out: fixtureSnippets("fake"), delay: 50 * time.Millisecond}
	p := NewProvider(b)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Search(context.Background(), "same", 3)
			assert.NoError(t, err)
			assert.Len(t, got, 3)
		}()
	}
	wg.Wait()
	assert.Less(t, b.calls.Load(), int32(8))
}

// depthBackend honors topK and holds at most total results.
type depthBackend struct {
	total int
	delay time.Duration

	mu        sync.Mutex
	requested []int
}

func (b *depthBackend) Name() string { return "depth" }

func (b *depthBackend) Search(_ context.Context, _ string, topK int) ([]types.Snippet, error) {
	b.mu.Lock()
	b.requested = append(b.requested, topK)
	b.mu.Unlock()
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	var out []types.Snippet
	for i := range min(topK, b.total) {
		out = append(out, types.NewSnippet("depth", "t", fmt.Sprintf("https://r%d.example/", i), "body"))
	}
	return out, nil
}

func (b *depthBackend) calls() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.requested...)
}

func TestCachingProviderRefetchesShallowEntry(t *testing.T) {
	b := &depthBackend{total: 10}
	p := NewProvider(b, WithCache(memCache(t)))
	ctx := context.Background()

	got, err := p.Search(ctx, "golang", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = p.Search(ctx, "golang", 8)
	require.NoError(t, err)
	assert.Len(t, got, 8, "a two-result entry must not starve a larger request")

	got, err = p.Search(ctx, "golang", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, []int{2, 8}, b.calls())

	cached, ok, err := p.SearchCached(ctx, "golang", 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached, 8)
}

func TestCachingProviderTrustsExhaustedEntry(t *testing.T) {
	b := &depthBackend{total: 3}
	p := NewProvider(b, WithCache(memCache(t)))
	ctx := context.Background()

	got, err := p.Search(ctx, "rare", 8)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = p.Search(ctx, "rare", 6)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, []int{8}, b.calls(), "backend already ran dry at a deeper request")
}

func TestCachingProviderDoesNotShareFlightsAcrossTopK(t *testing.T) {
	b := &depthBackend{total: 10, delay: 50 * time.Millisecond}
	p := NewProvider(b)

	var wg sync.WaitGroup
	lens := make([]int, 2)
	for i, k := range []int{2, 8} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Search(context.Background(), "same", k)
			assert.NoError(t, err)
			lens[i] = len(got)
		}()
	}
	wg.Wait()
	assert.Equal(t, []int{2, 8}, lens)
	assert.ElementsMatch(t, []int{2, 8}, b.calls())
}

func TestCachingProviderPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	b := &countingBackend{name: "fake", err: boom}
	p := NewProvider(b, WithCache(memCache(t)), WithEnabled(false))
	_, err := p.Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, boom)
	assert.False(t, p.Enabled())
}

// --- registry ---

func TestBuild(t *testing.T) {
	on, off := true, false
	cfgs := []types.ProviderConfig{
		{Name: "google", Kind: "serpapi", Enabled: &on},
		{Name: "searx", Kind: "searxng", BaseURL: "http://searx.local", MinInterval: time.Second},
		{Name: "ddg", Kind: "duckduckgo", Enabled: &off},
	}
	core, logs := observer.New(zap.WarnLevel)
	ps, err := Build(cfgs, map[string]string{"google": "key"}, nil, zap.New(core))
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, "google", ps[0].Name())
	assert.True(t, ps[0].Enabled())
	assert.Equal(t, "searx", ps[1].Name())
	assert.True(t, ps[1].Enabled(), "an unset enabled flag means enabled")
	assert.False(t, ps[2].Enabled())

	warned := logs.FilterMessage("provider disabled by configuration").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "ddg", warned[0].ContextMap()["provider"])

	_, err = Build([]types.ProviderConfig{{Name: "x", Kind: "bing"}}, nil, nil, nil)
	assert.ErrorContains(t, err, "unknown provider kind")

	_, err = Build([]types.ProviderConfig{{Name: "x", Kind: "searxng"}, {Name: "x", Kind: "searxng"}}, nil, nil, nil)
	assert.ErrorContains(t, err, "duplicate provider name")
}
