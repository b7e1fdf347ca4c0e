// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/citesearch/internal/backoff"
	"github.com/pdiddy/citesearch/internal/httputil"
	"github.com/pdiddy/citesearch/internal/observe"
	"github.com/pdiddy/citesearch/internal/search"
	"github.com/pdiddy/citesearch/pkg/types"
)

type fakeProvider struct {
	name   string
	out    []types.Snippet
	err    error
	cached []types.Snippet
	calls  atomic.Int32
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Enabled() bool              { return true }
func (f *fakeProvider) CoolingDown() time.Duration { return 0 }

func (f *fakeProvider) Search(context.Context, string, int) ([]types.Snippet, error) {
	f.calls.Add(1)
	return f.out, f.err
}

func (f *fakeProvider) SearchCached(context.Context, string, int) ([]types.Snippet, bool, error) {
	return f.cached, len(f.cached) > 0, nil
}

func result(source, rawURL, text string) types.Snippet {
	return types.NewSnippet(source, "Title", rawURL, text)
}

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.Engine.Budget = 2 * time.Second
	cfg.Race.PoolSize = 4
	cfg.Race.ProviderTimeout = time.Second
	return cfg
}

func newEngine(t *testing.T, providers []search.Provider, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig()), WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := New(providers, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestContractViolations(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoProviders)

	e := newEngine(t, []search.Provider{&fakeProvider{name: "a"}})
	ctx := context.Background()

	_, err = e.Search(ctx, "   ", 3, types.SelectionPolicy{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = e.Search(ctx, "q", -1, types.SelectionPolicy{})
	assert.ErrorIs(t, err, ErrInvalidTopK)
	_, err = e.Search(ctx, "q", 51, types.SelectionPolicy{})
	assert.ErrorIs(t, err, ErrInvalidTopK)
	_, err = e.Search(ctx, "q", 3, types.SelectionPolicy{MinCitations: -1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestSearchOK(t *testing.T) {
	a := &fakeProvider{name: "a", out: []types.Snippet{
		result("a", "https://docs.python.org/3/library/os.html", "os module"),
		result("a", "https://blog.example.com/os", "a post"),
	}}
	b := &fakeProvider{name: "b", out: []types.Snippet{
		result("b", "https://www.irs.gov/forms", "forms"),
	}}
	e := newEngine(t, []search.Provider{a, b}, WithIDGenerator(func() string { return "req-1" }))

	res, tr, err := e.SearchWithTrace(context.Background(), "python os module", 3, types.SelectionPolicy{MinCitations: 2})
	require.NoError(t, err)
	assert.Equal(t, types.ResultOK, res.Status)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "req-1", tr.RequestID)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, types.StageOfficial, res.Entries[0].Stage)
	assert.Equal(t, types.StageDocs, res.Entries[1].Stage)
	assert.Equal(t, types.StageNoFilterSafe, res.Entries[2].Stage)
	assert.Equal(t, 2, res.CiteableHosts)
	assert.True(t, res.FloorMet)
	assert.Empty(t, res.LadderStep)
	assert.Equal(t, "[DOCS|CRED:TRUSTED] Title\nos module\nURL: https://docs.python.org/3/library/os.html", res.Strings()[1])

	require.Len(t, tr.Providers, 2)
	for _, p := range tr.Providers {
		assert.Equal(t, PhasePrimary, p.Phase)
		assert.Equal(t, types.StatusOK, p.Status)
	}
	assert.NotEmpty(t, tr.Trail)
}

func TestOfficialOnlyStarvationIsReported(t *testing.T) {
	a := &fakeProvider{name: "a", out: []types.Snippet{result("a", "https://x.gov/docs", "X reference")}}
	b := &fakeProvider{name: "b", out: []types.Snippet{result("b", "https://random.example/x", "about X")}}
	rec := observe.NewMemory()
	e := newEngine(t, []search.Provider{a, b}, WithRecorder(rec))

	policy := types.SelectionPolicy{MinCitations: 2, OfficialOnly: true}
	res, tr, err := e.SearchWithTrace(context.Background(), "X official docs", 3, policy)
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, types.StageOfficial, res.Entries[0].Stage)
	assert.Equal(t, "https://x.gov/docs", res.Entries[0].Snippet.URL)
	assert.Equal(t, types.CredUnverified, res.Entries[1].Credibility)
	assert.Equal(t, 1, res.CiteableHosts)
	assert.False(t, res.FloorMet)
	assert.Equal(t, types.ResultStarved, res.Status)
	assert.Equal(t, "relax", res.LadderStep)
	assert.NotEmpty(t, tr.Ladder)
	assert.Contains(t, rec.EventNames(), "search.degraded")
	assert.Equal(t, "starved", rec.Values()["search.status"])
}

func TestAllSkippedIsDistinctFromNoResults(t *testing.T) {
	cfg := testConfig()
	coord := backoff.New(cfg.Backoff)
	a := &fakeProvider{name: "a", out: []types.Snippet{result("a", "https://x.gov/a", "x")}}
	b := &fakeProvider{name: "b", out: []types.Snippet{result("b", "https://y.gov/a", "y")}}
	coord.RecordRateLimited("a", 30*time.Second, "429", "30")
	coord.RecordRateLimited("b", 30*time.Second, "429", "30")

	e := newEngine(t, []search.Provider{a, b}, WithCoordinator(coord))
	res, tr, err := e.SearchWithTrace(context.Background(), "anything", 3, types.SelectionPolicy{})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, types.ResultEmptyAllSkipped, res.Status)
	assert.Zero(t, a.calls.Load())
	assert.Zero(t, b.calls.Load())
	for _, p := range tr.Providers {
		if p.Phase == PhasePrimary {
			assert.Equal(t, types.StatusSkipped, p.Status)
			assert.Contains(t, p.Cause, "RATE_LIMITED")
		}
	}

	empty := newEngine(t, []search.Provider{&fakeProvider{name: "c"}})
	res, err = empty.Search(context.Background(), "anything", 3, types.SelectionPolicy{})
	require.NoError(t, err)
	assert.Equal(t, types.ResultEmptyNoResults, res.Status)
}

func TestCacheRescueAfterSkip(t *testing.T) {
	cfg := testConfig()
	coord := backoff.New(cfg.Backoff)
	coord.RecordRateLimited("a", 30*time.Second, "429", "")
	a := &fakeProvider{
		name:   "a",
		cached: []types.Snippet{result("a", "https://docs.python.org/3/", "cached docs")},
	}
	e := newEngine(t, []search.Provider{a}, WithCoordinator(coord))

	res, tr, err := e.SearchWithTrace(context.Background(), "python docs", 2, types.SelectionPolicy{MinCitations: 1})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, types.ResultOK, res.Status)
	assert.Equal(t, "cache_rescue", res.LadderStep)
	var probes int
	for _, p := range tr.Providers {
		if p.Phase == PhaseCacheProbe {
			probes++
		}
	}
	assert.Positive(t, probes)
}

func TestDemotionIsDegraded(t *testing.T) {
	a := &fakeProvider{name: "a", out: []types.Snippet{
		result("a", "https://blog1.example/post", "one").WithScore(0.4),
		result("a", "https://blog2.example/post", "two").WithScore(0.9),
	}}
	e := newEngine(t, []search.Provider{a})

	policy := types.SelectionPolicy{MinCitations: 1, OfficialOnly: true, HighRisk: true}
	res, err := e.Search(context.Background(), "some question", 2, policy)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, types.ResultDegraded, res.Status)
	assert.Equal(t, types.ViaDemotion, res.Entries[0].Via)
	assert.True(t, res.NeedsLiveQuery)
}

func TestSpamOnlyOutput(t *testing.T) {
	spam := []types.Snippet{result("a", "https://win.example/", "Online casino bonus")}

	e := newEngine(t, []search.Provider{&fakeProvider{name: "a", out: spam}})
	res, err := e.Search(context.Background(), "bonus", 2, types.SelectionPolicy{})
	require.NoError(t, err)
	assert.Equal(t, types.ResultEmptyNoResults, res.Status)

	cfg := testConfig()
	cfg.Classifier.NoFilterEnabled = true
	kept := newEngine(t, []search.Provider{&fakeProvider{name: "a", out: spam}}, WithConfig(cfg))
	res, err = kept.Search(context.Background(), "bonus", 2, types.SelectionPolicy{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, types.StageNoFilter, res.Entries[0].Stage)
}

func TestProviderFailureIsContained(t *testing.T) {
	limited := &fakeProvider{name: "limited", err: &httputil.RateLimitError{Status: 429, RetryAfter: 5 * time.Second}}
	broken := &fakeProvider{name: "broken", err: errors.New("connection reset")}
	good := &fakeProvider{name: "good", out: []types.Snippet{result("good", "https://go.dev/doc", "Go docs")}}
	e := newEngine(t, []search.Provider{limited, broken, good})

	// topK above the available results keeps the race from stopping early.
	res, tr, err := e.SearchWithTrace(context.Background(), "go docs", 3, types.SelectionPolicy{MinCitations: 1})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, types.ResultOK, res.Status)

	statuses := map[string]types.ProviderStatus{}
	for _, p := range tr.Providers {
		statuses[p.Provider] = p.Status
	}
	assert.Equal(t, types.StatusRateLimited, statuses["limited"])
	assert.Equal(t, types.StatusFailed, statuses["broken"])

	st, ok := e.Coordinator().Snapshot("limited")
	require.True(t, ok)
	assert.Equal(t, 1, st.Streak)
	assert.True(t, e.Coordinator().ShouldSkip("limited").Skip)
}

func TestCallerPolicyIsNotMutated(t *testing.T) {
	a := &fakeProvider{name: "a", out: []types.Snippet{result("a", "https://x.gov/a", "x")}}
	e := newEngine(t, []search.Provider{a})
	policy := types.SelectionPolicy{TopK: 9, MinCitations: 3, OfficialOnly: true, StageOrder: []types.Stage{types.StageDocs, types.StageOfficial}}
	before := policy.WithRelaxed()

	_, err := e.Search(context.Background(), "x", 2, policy)
	require.NoError(t, err)
	assert.Equal(t, before, policy)
}
