// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package race

import (
	"context"
	"errors"
	"fmt"
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
	name     string
	delay    time.Duration
	out      []types.Snippet
	err      error
	panicMsg string
	disabled bool
	cooling  time.Duration

	cached   []types.Snippet
	cachedOK bool

	calls       atomic.Int32
	cachedCalls atomic.Int32
	ctxErr      atomic.Value // string: context error seen when the call finished
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Enabled() bool              { return !f.disabled }
func (f *fakeProvider) CoolingDown() time.Duration { return f.cooling }

func (f *fakeProvider) Search(ctx context.Context, query string, topK int) ([]types.Snippet, error) {
	f.calls.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.ctxErr.Store(ctx.Err().Error())
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		f.ctxErr.Store(err.Error())
	}
	return f.out, f.err
}

func (f *fakeProvider) SearchCached(ctx context.Context, query string, topK int) ([]types.Snippet, bool, error) {
	f.cachedCalls.Add(1)
	return f.cached, f.cachedOK, nil
}

func snips(source string, urls ...string) []types.Snippet {
	out := make([]types.Snippet, len(urls))
	for i, u := range urls {
		out[i] = types.NewSnippet(source, "t"+u, "https://"+u, "body "+u)
	}
	return out
}

func raceConfig(poolSize int) types.RaceConfig {
	return types.RaceConfig{
		PoolSize:        poolSize,
		ProviderTimeout: 2 * time.Second,
		MinLiveBudget:   300 * time.Millisecond,
		MinSyncTimeout:  20 * time.Millisecond,
	}
}

func newTestRacer(t *testing.T, cfg types.RaceConfig, opts ...Option) (*Racer, *backoff.Coordinator) {
	t.Helper()
	coord := backoff.New(types.DefaultConfig().Backoff, backoff.WithJitter(func(time.Duration) time.Duration { return 0 }))
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	r, err := New(coord, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return r, coord
}

func providers(ps ...*fakeProvider) []search.Provider {
	out := make([]search.Provider, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func statusOf(res Result, name string) types.ProviderStatus {
	for _, o := range res.Outcomes {
		if o.Provider == name {
			return o.Status
		}
	}
	return ""
}

func keys(snippets []types.Snippet) []string {
	out := make([]string, len(snippets))
	for i, s := range snippets {
		out[i] = s.Key()
	}
	return out
}

func TestRaceMergesInCompletionOrderWithDedup(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(4))
	fast := &fakeProvider{name: "fast", delay: 10 * time.Millisecond, out: snips("fast", "a.example/1", "b.example/2")}
	slow := &fakeProvider{name: "slow", delay: 80 * time.Millisecond, out: snips("slow", "b.example/2", "c.example/3")}

	res := r.Race(context.Background(), "q", 10, providers(slow, fast), time.Second)

	assert.Equal(t, []string{"a.example/1", "b.example/2", "c.example/3"}, keys(res.Snippets))
	assert.Equal(t, "fast", res.Snippets[1].Source, "first arrival wins a duplicate")
	assert.Equal(t, 2, res.Completed)
	assert.False(t, res.EarlyStop)
	assert.Equal(t, "slow", res.Outcomes[0].Provider, "outcomes keep input order")
	assert.Equal(t, types.StatusOK, res.Outcomes[0].Status)
	assert.Equal(t, 2, res.Outcomes[1].Count)

	st, ok := coord.Snapshot("fast")
	require.True(t, ok)
	assert.EqualValues(t, 1, st.Successes)
}

func TestRaceEarlyStopDoesNotPenalize(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(4))
	fast := &fakeProvider{name: "fast", out: snips("fast", "a.example/1", "b.example/2", "c.example/3")}
	slow := &fakeProvider{name: "slow", delay: 300 * time.Millisecond, out: snips("slow", "d.example/4")}

	start := time.Now()
	res := r.Race(context.Background(), "q", 3, providers(fast, slow), 2*time.Second)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	assert.True(t, res.EarlyStop)
	assert.Len(t, res.Snippets, 3)
	assert.Equal(t, types.StatusCancelled, statusOf(res, "slow"))
	st, _ := coord.Snapshot("slow")
	assert.Zero(t, st.Streak)
	assert.Zero(t, st.AwaitStreak)
	assert.False(t, coord.ShouldSkip("slow").Skip)
}

func TestRaceDeadlineRecordsAwaitTimeout(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(4))
	fast := &fakeProvider{name: "fast", out: snips("fast", "a.example/1")}
	slow := &fakeProvider{name: "slow", delay: time.Second, out: snips("slow", "d.example/4")}

	start := time.Now()
	res := r.Race(context.Background(), "q", 5, providers(fast, slow), 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond, "the race never waits for a slow provider")
	assert.Equal(t, types.StatusAwaitTimeout, statusOf(res, "slow"))
	assert.Len(t, res.Snippets, 1)

	st, ok := coord.Snapshot("slow")
	require.True(t, ok)
	assert.Equal(t, 1, st.AwaitStreak)
	assert.Zero(t, st.Streak, "local await expiry does not count as provider failure")
}

func TestRaceGraceWindowWhenNothingArrived(t *testing.T) {
	rec := observe.NewMemory()
	r, _ := newTestRacer(t, raceConfig(2), WithRecorder(rec))
	p := &fakeProvider{name: "p", delay: 60 * time.Millisecond, out: snips("p", "a.example/1")}

	res := r.Race(context.Background(), "q", 5, providers(p), 10*time.Millisecond)
	assert.True(t, res.GraceUsed)
	assert.Equal(t, types.StatusOK, statusOf(res, "p"))
	assert.Len(t, res.Snippets, 1)
	assert.Contains(t, rec.EventNames(), "race.grace")
}

func TestRaceGraceIsGrantedOnce(t *testing.T) {
	r, _ := newTestRacer(t, types.RaceConfig{
		PoolSize:        2,
		ProviderTimeout: 2 * time.Second,
		MinLiveBudget:   30 * time.Millisecond,
		MinSyncTimeout:  20 * time.Millisecond,
	})
	p := &fakeProvider{name: "p", delay: 500 * time.Millisecond}

	start := time.Now()
	res := r.Race(context.Background(), "q", 5, providers(p), 10*time.Millisecond)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.True(t, res.GraceUsed)
	assert.Equal(t, types.StatusAwaitTimeout, statusOf(res, "p"))
}

func TestRaceSkipsCoolingProviders(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(2))
	limited := &fakeProvider{name: "limited", err: &httputil.RateLimitError{Status: 429, RetryAfter: 30 * time.Second, Raw: "30"}}
	ok := &fakeProvider{name: "ok", out: snips("ok", "a.example/1")}

	res := r.Race(context.Background(), "q", 5, providers(limited, ok), time.Second)
	assert.Equal(t, types.StatusRateLimited, statusOf(res, "limited"))

	v := coord.ShouldSkip("limited")
	require.True(t, v.Skip)
	assert.InDelta(t, 30*time.Second, v.Remaining, float64(time.Second))

	res = r.Race(context.Background(), "q", 5, providers(limited, ok), time.Second)
	assert.Equal(t, types.StatusSkipped, statusOf(res, "limited"))
	assert.Contains(t, res.Outcomes[0].Cause, "RATE_LIMITED")
	assert.EqualValues(t, 1, limited.calls.Load(), "skipped providers are not called")
}

func TestRaceAllSkipped(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(2))
	coord.RecordRateLimited("a", time.Minute, "429", "")
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b", disabled: true}
	c := &fakeProvider{name: "c", cooling: time.Second}

	res := r.Race(context.Background(), "q", 5, providers(a, b, c), time.Second)
	assert.True(t, res.AllSkipped)
	assert.Empty(t, res.Snippets)
	assert.Equal(t, types.StatusSkipped, statusOf(res, "a"))
	assert.Equal(t, types.StatusDisabled, statusOf(res, "b"))
	assert.Equal(t, types.StatusLocalThrottled, statusOf(res, "c"))

	st, _ := coord.Snapshot("c")
	assert.Zero(t, st.Streak)
	assert.True(t, coord.ShouldSkip("c").Skip)
}

func TestRacePanicIsContained(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(2))
	bad := &fakeProvider{name: "bad", panicMsg: "nil map write"}
	good := &fakeProvider{name: "good", delay: 10 * time.Millisecond, out: snips("good", "a.example/1")}

	var res Result
	require.NotPanics(t, func() {
		res = r.Race(context.Background(), "q", 5, providers(bad, good), time.Second)
	})
	assert.Equal(t, types.StatusFailed, statusOf(res, "bad"))
	assert.Equal(t, "nil map write", res.Outcomes[0].Err)
	assert.Len(t, res.Snippets, 1)

	st, _ := coord.Snapshot("bad")
	assert.Equal(t, backoff.KindTransport, st.LastKind)
}

func TestRaceProviderContextDetachedFromCaller(t *testing.T) {
	r, _ := newTestRacer(t, raceConfig(2))
	p := &fakeProvider{name: "p", delay: 100 * time.Millisecond, out: snips("p", "a.example/1")}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := r.Race(ctx, "q", 5, providers(p), time.Second)
	assert.Equal(t, types.StatusCancelled, statusOf(res, "p"))
	assert.Equal(t, "caller cancelled", res.Outcomes[0].Cause)

	require.Eventually(t, func() bool { return p.calls.Load() == 1 && p.ctxErr.Load() == nil }, time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Nil(t, p.ctxErr.Load(), "running provider calls are never interrupted")
}

func TestRaceSyncPathShrinksTimeouts(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(0))
	slow := &fakeProvider{name: "slow", delay: time.Second}
	fast := &fakeProvider{name: "fast", out: snips("fast", "a.example/1")}

	start := time.Now()
	res := r.Race(context.Background(), "q", 5, providers(slow, fast), 200*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, types.StatusAwaitTimeout, statusOf(res, "slow"))
	assert.Equal(t, types.StatusOK, statusOf(res, "fast"))
	st, _ := coord.Snapshot("slow")
	assert.Equal(t, 1, st.AwaitStreak)
	assert.Zero(t, st.Streak)
}

func TestRaceSyncPathBudgetExpiryIsAwaitTimeout(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(0))
	slow1 := &fakeProvider{name: "slow1", delay: time.Second}
	slow2 := &fakeProvider{name: "slow2", delay: time.Second}
	late := &fakeProvider{name: "late", out: snips("late", "a.example/1")}

	res := r.Race(context.Background(), "q", 5, providers(slow1, slow2, late), 30*time.Millisecond)
	assert.Zero(t, late.calls.Load())
	assert.Equal(t, types.StatusAwaitTimeout, statusOf(res, "late"))
	assert.Equal(t, "race budget expired", res.Outcomes[2].Cause)
	assert.Equal(t, types.StatusAwaitTimeout, statusOf(res, "slow1"))

	st, _ := coord.Snapshot("late")
	assert.Zero(t, st.AwaitStreak, "a provider never called is not penalized")
	assert.False(t, coord.ShouldSkip("late").Skip)
}

func TestRaceSyncPathEarlyStop(t *testing.T) {
	r, _ := newTestRacer(t, raceConfig(0))
	a := &fakeProvider{name: "a", out: snips("a", "a.example/1", "b.example/2")}
	b := &fakeProvider{name: "b", out: snips("b", "c.example/3")}

	res := r.Race(context.Background(), "q", 2, providers(a, b), time.Second)
	assert.True(t, res.EarlyStop)
	assert.Equal(t, types.StatusCancelled, statusOf(res, "b"))
	assert.Zero(t, b.calls.Load())
}

func TestRaceCachedIgnoresCooldownAndBackoff(t *testing.T) {
	r, coord := newTestRacer(t, raceConfig(2))
	coord.RecordRateLimited("a", time.Minute, "429", "")
	before, _ := coord.Snapshot("a")

	a := &fakeProvider{name: "a", cached: snips("a", "x.example/1"), cachedOK: true}
	b := &fakeProvider{name: "b"}
	res := r.RaceCached(context.Background(), "q", 5, providers(a, b), time.Second)

	assert.Len(t, res.Snippets, 1)
	assert.Equal(t, types.StatusOK, statusOf(res, "a"))
	assert.Equal(t, types.StatusEmpty, statusOf(res, "b"))
	assert.Equal(t, "cache miss", res.Outcomes[1].Cause)
	assert.Zero(t, a.calls.Load()+b.calls.Load(), "no live calls")

	after, _ := coord.Snapshot("a")
	assert.Equal(t, before, after)
	_, ok := coord.Snapshot("b")
	assert.False(t, ok)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestGuardClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     types.ProviderStatus
		wantKind backoff.Kind
	}{
		{"rate limited", fmt.Errorf("wrapped: %w", &httputil.RateLimitError{Status: 503}), types.StatusRateLimited, backoff.KindRateLimited},
		{"deadline", context.DeadlineExceeded, types.StatusTimeout, backoff.KindTimeout},
		{"net timeout", fmt.Errorf("get: %w", timeoutErr{}), types.StatusTimeout, backoff.KindTimeout},
		{"cancelled", context.Canceled, types.StatusCancelled, backoff.KindCancelled},
		{"transport", errors.New("connection refused"), types.StatusFailed, backoff.KindTransport},
		{"http status", &httputil.StatusError{Status: 500}, types.StatusFailed, backoff.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := backoff.New(types.BackoffConfig{})
			g := NewGuard(coord, nil)
			out := g.Call(context.Background(), &fakeProvider{name: "p", err: tt.err}, "q", 3, false)
			assert.Equal(t, tt.want, out.Status)
			assert.NotEmpty(t, out.Err)
			st, ok := coord.Snapshot("p")
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, st.LastKind)
		})
	}
}

func TestGuardLocalLimit(t *testing.T) {
	coord := backoff.New(types.BackoffConfig{})
	g := NewGuard(coord, nil)
	out := g.Call(context.Background(), &fakeProvider{name: "p", err: &search.LocalLimitError{Provider: "p", Wait: time.Second}}, "q", 3, false)
	assert.Equal(t, types.StatusLocalThrottled, out.Status)
	st, _ := coord.Snapshot("p")
	assert.Zero(t, st.Streak)
	assert.False(t, st.LocalUntil.IsZero())
}

func TestGuardEmptyIsSuccess(t *testing.T) {
	coord := backoff.New(types.BackoffConfig{})
	coord.RecordFailure("p", backoff.KindTimeout, "x", "")
	g := NewGuard(coord, nil)
	out := g.Call(context.Background(), &fakeProvider{name: "p"}, "q", 3, false)
	assert.Equal(t, types.StatusEmpty, out.Status)
	st, _ := coord.Snapshot("p")
	assert.Zero(t, st.Streak)
}
