// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package race

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/internal/backoff"
	"github.com/pdiddy/citesearch/internal/observe"
	"github.com/pdiddy/citesearch/internal/search"
	"github.com/pdiddy/citesearch/pkg/types"
)

const causeBudgetExpired = "race budget expired"

// Result is the merged outcome of one race.
type Result struct {
	// Snippets are the merged, deduplicated arrivals in completion order.
	Snippets []types.Snippet

	// Outcomes holds one entry per provider, in input order.
	Outcomes []types.RaceOutcome

	Completed  int
	AllSkipped bool
	EarlyStop  bool
	GraceUsed  bool
	Elapsed    time.Duration
}

// Racer runs provider races. It is safe for concurrent use; many requests
// share one pool and one coordinator.
type Racer struct {
	coord    *backoff.Coordinator
	guard    *Guard
	pool     *ants.Pool
	ownsPool bool
	cfg      types.RaceConfig
	logger   *zap.Logger
	rec      observe.Recorder
}

// Option configures a Racer.
type Option func(*Racer)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Racer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder sets the observability sink. Default is observe.Nop.
func WithRecorder(rec observe.Recorder) Option {
	return func(r *Racer) {
		if rec != nil {
			r.rec = rec
		}
	}
}

// WithPool shares an existing pool instead of creating one. The caller keeps
// ownership and releases it.
func WithPool(pool *ants.Pool) Option {
	return func(r *Racer) { r.pool = pool }
}

// New creates a racer. When cfg.PoolSize is positive and no pool is shared
// through WithPool, a non-blocking pool of that size is created and owned by
// the racer. With neither, providers run synchronously.
func New(coord *backoff.Coordinator, cfg types.RaceConfig, opts ...Option) (*Racer, error) {
	def := types.DefaultConfig().Race
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	if cfg.MinSyncTimeout <= 0 {
		cfg.MinSyncTimeout = def.MinSyncTimeout
	}
	if cfg.MinLiveBudget < 0 {
		cfg.MinLiveBudget = 0
	}

	r := &Racer{
		coord:  coord,
		cfg:    cfg,
		logger: zap.NewNop(),
		rec:    observe.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("race")
	r.guard = NewGuard(coord, r.logger)

	if r.pool == nil && cfg.PoolSize > 0 {
		pool, err := ants.NewPool(cfg.PoolSize, ants.WithNonblocking(true))
		if err != nil {
			return nil, err
		}
		r.pool = pool
		r.ownsPool = true
	}
	return r, nil
}

// Release frees the pool if the racer created it.
func (r *Racer) Release() {
	if r.ownsPool && r.pool != nil {
		r.pool.Release()
	}
}

// Coordinator returns the backoff coordinator the racer records into.
func (r *Racer) Coordinator() *backoff.Coordinator { return r.coord }

type arrival struct {
	idx     int
	outcome types.RaceOutcome
}

// merger accumulates snippets in arrival order with URL-key dedup.
type merger struct {
	seen     map[string]bool
	snippets []types.Snippet
}

func newMerger() *merger { return &merger{seen: make(map[string]bool)} }

func (m *merger) add(snippets []types.Snippet) {
	for _, s := range snippets {
		k := s.Key()
		if m.seen[k] {
			continue
		}
		m.seen[k] = true
		m.snippets = append(m.snippets, s)
	}
}

// admit splits providers into callable ones and pre-filled outcomes for the
// disabled, cooling down and locally throttled.
func (r *Racer) admit(providers []search.Provider, outcomes []types.RaceOutcome) []int {
	var eligible []int
	for i, p := range providers {
		name := p.Name()
		outcomes[i].Provider = name
		if !p.Enabled() {
			outcomes[i].Status = types.StatusDisabled
			continue
		}
		if v := r.coord.ShouldSkip(name); v.Skip {
			outcomes[i].Status = types.StatusSkipped
			outcomes[i].Cause = v.Reason
			r.rec.Event("race.skip", observe.Fields{
				"provider":     name,
				"reason":       v.Reason,
				"remaining":    v.Remaining,
				"just_started": v.JustStarted,
			})
			continue
		}
		if wait := p.CoolingDown(); wait > 0 {
			r.coord.RecordLocalRateLimit(name, wait, "min interval")
			outcomes[i].Status = types.StatusLocalThrottled
			outcomes[i].Cause = "min interval"
			continue
		}
		eligible = append(eligible, i)
	}
	return eligible
}

// Race queries providers in parallel within budget and merges the results.
// It never returns an error; failures are reported per provider.
func (r *Racer) Race(ctx context.Context, query string, topK int, providers []search.Provider, budget time.Duration) Result {
	start := time.Now()
	res := Result{Outcomes: make([]types.RaceOutcome, len(providers))}
	eligible := r.admit(providers, res.Outcomes)
	if len(eligible) == 0 {
		res.AllSkipped = len(providers) > 0
		res.Elapsed = time.Since(start)
		r.rec.Event("race.all_skipped", observe.Fields{"providers": len(providers)})
		return res
	}

	target := max(1, topK)
	deadline := start.Add(budget)
	if r.pool == nil {
		r.raceSync(ctx, query, topK, providers, eligible, deadline, target, &res)
	} else {
		r.racePool(ctx, query, topK, providers, eligible, deadline, target, &res)
	}
	res.Elapsed = time.Since(start)

	for _, o := range res.Outcomes {
		r.rec.Event("race.provider", observe.Fields{
			"provider": o.Provider,
			"status":   string(o.Status),
			"count":    o.Count,
			"elapsed":  o.Elapsed,
			"cause":    o.Cause,
		})
	}
	r.logger.Debug("race finished",
		zap.String("query", query),
		zap.Int("merged", len(res.Snippets)),
		zap.Int("completed", res.Completed),
		zap.Bool("early_stop", res.EarlyStop),
		zap.Bool("grace_used", res.GraceUsed),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

func (r *Racer) racePool(ctx context.Context, query string, topK int, providers []search.Provider,
	eligible []int, deadline time.Time, target int, res *Result) {

	results := make(chan arrival, len(eligible))
	var stop atomic.Bool
	pending := make(map[int]bool, len(eligible))
	m := newMerger()

	for n, i := range eligible {
		p := providers[i]
		pending[i] = true
		task := func() {
			if stop.Load() {
				return
			}
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ProviderTimeout)
			defer cancel()
			results <- arrival{idx: i, outcome: r.guard.Call(pctx, p, query, topK, false)}
		}
		if err := r.pool.Submit(task); err != nil {
			// Pool saturated or released: run this provider inline with a
			// share of the remaining budget.
			r.rec.Event("race.pool_overload", observe.Fields{"provider": p.Name(), "error": err.Error()})
			r.logger.Debug("pool overload, running inline", zap.String("provider", p.Name()), zap.Error(err))
			timeout := r.syncTimeout(deadline, len(eligible)-n)
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			results <- arrival{idx: i, outcome: r.guard.Call(pctx, p, query, topK, true)}
			cancel()
		}
	}

	callerGone := false
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

loop:
	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if res.Completed == 0 && !res.GraceUsed && r.cfg.MinLiveBudget > 0 {
				res.GraceUsed = true
				deadline = time.Now().Add(r.cfg.MinLiveBudget)
				r.rec.Event("race.grace", observe.Fields{"window": r.cfg.MinLiveBudget})
				continue
			}
			break
		}
		timer.Reset(remaining)

		select {
		case a := <-results:
			delete(pending, a.idx)
			res.Completed++
			res.Outcomes[a.idx] = a.outcome
			m.add(a.outcome.Snippets)
			if len(m.snippets) >= target {
				res.EarlyStop = len(pending) > 0
				break loop
			}
		case <-timer.C:
		case <-ctx.Done():
			callerGone = true
			break loop
		}
	}
	stop.Store(true)

	for i := range pending {
		name := providers[i].Name()
		switch {
		case res.EarlyStop:
			res.Outcomes[i].Status = types.StatusCancelled
			res.Outcomes[i].Cause = "early stop"
		case callerGone:
			res.Outcomes[i].Status = types.StatusCancelled
			res.Outcomes[i].Cause = "caller cancelled"
		default:
			res.Outcomes[i].Status = types.StatusAwaitTimeout
			res.Outcomes[i].Cause = causeBudgetExpired
			r.coord.RecordFailure(name, backoff.KindAwaitTimeout, res.Outcomes[i].Cause, "")
		}
	}
	if res.EarlyStop {
		r.rec.Event("race.early_stop", observe.Fields{"merged": len(m.snippets), "pending": len(pending)})
	}
	res.Snippets = m.snippets
}

// syncTimeout splits the remaining budget across the providers still to run.
func (r *Racer) syncTimeout(deadline time.Time, left int) time.Duration {
	remaining := time.Until(deadline)
	share := remaining / time.Duration(max(1, left))
	return min(max(share, r.cfg.MinSyncTimeout), r.cfg.ProviderTimeout)
}

func (r *Racer) raceSync(ctx context.Context, query string, topK int, providers []search.Provider,
	eligible []int, deadline time.Time, target int, res *Result) {

	m := newMerger()
	for n, i := range eligible {
		if done, cause := r.syncStop(ctx, deadline, res, len(m.snippets) >= target); done {
			// Budget expiry reads as AWAIT_TIMEOUT on both paths. Providers
			// never called carry no backoff penalty.
			status := types.StatusCancelled
			if cause == causeBudgetExpired {
				status = types.StatusAwaitTimeout
			}
			for _, j := range eligible[n:] {
				res.Outcomes[j].Status = status
				res.Outcomes[j].Cause = cause
			}
			break
		}
		if time.Until(deadline) <= 0 {
			res.GraceUsed = true
			deadline = time.Now().Add(r.cfg.MinLiveBudget)
			r.rec.Event("race.grace", observe.Fields{"window": r.cfg.MinLiveBudget})
		}

		timeout := r.syncTimeout(deadline, len(eligible)-n)
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		out := r.guard.Call(pctx, providers[i], query, topK, timeout < r.cfg.ProviderTimeout)
		cancel()

		res.Outcomes[i] = out
		res.Completed++
		m.add(out.Snippets)
	}
	res.Snippets = m.snippets
}

// syncStop decides whether the sequential path should stop before the next
// provider.
func (r *Racer) syncStop(ctx context.Context, deadline time.Time, res *Result, full bool) (bool, string) {
	if full {
		res.EarlyStop = true
		return true, "early stop"
	}
	if ctx.Err() != nil {
		return true, "caller cancelled"
	}
	if time.Until(deadline) > 0 {
		return false, ""
	}
	if res.Completed == 0 && !res.GraceUsed && r.cfg.MinLiveBudget > 0 {
		return false, ""
	}
	return true, causeBudgetExpired
}

// RaceCached asks every enabled provider for cached answers only. Cooldowns
// are ignored and backoff state is never touched, since no network call is
// made.
func (r *Racer) RaceCached(ctx context.Context, query string, topK int, providers []search.Provider, budget time.Duration) Result {
	start := time.Now()
	deadline := start.Add(budget)
	res := Result{Outcomes: make([]types.RaceOutcome, len(providers))}
	m := newMerger()
	target := max(1, topK)

	called := 0
	for i, p := range providers {
		res.Outcomes[i].Provider = p.Name()
		if !p.Enabled() {
			res.Outcomes[i].Status = types.StatusDisabled
			continue
		}
		if len(m.snippets) >= target {
			res.EarlyStop = true
			res.Outcomes[i].Status = types.StatusCancelled
			res.Outcomes[i].Cause = "early stop"
			continue
		}
		if budget > 0 && time.Until(deadline) <= 0 || ctx.Err() != nil {
			res.Outcomes[i].Status = types.StatusCancelled
			res.Outcomes[i].Cause = "cache probe budget expired"
			continue
		}
		called++
		out := r.guard.CallCached(ctx, p, query, topK)
		res.Outcomes[i] = out
		res.Completed++
		m.add(out.Snippets)
	}
	res.AllSkipped = called == 0 && len(providers) > 0
	res.Snippets = m.snippets
	res.Elapsed = time.Since(start)
	return res
}
