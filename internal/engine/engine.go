// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/internal/backoff"
	"github.com/pdiddy/citesearch/internal/classify"
	"github.com/pdiddy/citesearch/internal/fallback"
	"github.com/pdiddy/citesearch/internal/observe"
	"github.com/pdiddy/citesearch/internal/race"
	"github.com/pdiddy/citesearch/internal/search"
	"github.com/pdiddy/citesearch/internal/selection"
	"github.com/pdiddy/citesearch/pkg/types"
)

// Trace phases.
const (
	PhasePrimary    = "primary"
	PhaseExtraQuery = "extra_query"
	PhaseCacheProbe = "cache_probe"
)

// Engine answers searches. It is safe for concurrent use. The coordinator
// and the racer pool are shared by every request.
type Engine struct {
	providers []search.Provider
	cfg       types.Config

	coord      *backoff.Coordinator
	racer      *race.Racer
	ownsRacer  bool
	classifier *classify.Classifier
	selector   *selection.Selector
	ladder     *fallback.Ladder

	scorer  classify.Scorer
	matcher classify.ProfileMatcher

	recorder observe.Recorder
	logger   *zap.Logger
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg types.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the observability sink. Default is observe.Nop.
func WithRecorder(rec observe.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.recorder = rec
		}
	}
}

// WithCoordinator shares a backoff coordinator, for example between engines
// built over the same providers.
func WithCoordinator(c *backoff.Coordinator) Option {
	return func(e *Engine) { e.coord = c }
}

// WithRacer uses an existing racer. The caller keeps ownership of it.
func WithRacer(r *race.Racer) Option {
	return func(e *Engine) { e.racer = r }
}

// WithScorer injects an external authority scorer. Without one the engine
// uses the static authority table of the classifier rules.
func WithScorer(s classify.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithProfileMatcher injects an external domain-profile matcher.
func WithProfileMatcher(m classify.ProfileMatcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New builds an engine over providers.
func New(providers []search.Provider, opts ...Option) (*Engine, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	e := &Engine{
		providers: providers,
		cfg:       types.DefaultConfig(),
		recorder:  observe.Nop{},
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	if e.cfg.Engine.MaxTopK <= 0 {
		e.cfg.Engine.MaxTopK = types.DefaultConfig().Engine.MaxTopK
	}
	if e.cfg.Engine.Budget <= 0 {
		e.cfg.Engine.Budget = types.DefaultConfig().Engine.Budget
	}

	if e.coord == nil {
		e.coord = backoff.New(e.cfg.Backoff, backoff.WithLogger(e.logger))
	}
	if e.racer == nil {
		r, err := race.New(e.coord, e.cfg.Race, race.WithLogger(e.logger), race.WithRecorder(e.recorder))
		if err != nil {
			return nil, fmt.Errorf("creating racer: %w", err)
		}
		e.racer = r
		e.ownsRacer = true
	}

	copts := []classify.Option{classify.WithLogger(e.logger)}
	if e.scorer != nil {
		copts = append(copts, classify.WithScorer(e.scorer))
	}
	if e.matcher != nil {
		copts = append(copts, classify.WithProfileMatcher(e.matcher))
	}
	c, err := classify.New(e.cfg.Classifier, copts...)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating classifier: %w", err)
	}
	e.classifier = c

	sel, err := selection.New(e.cfg.Selection, selection.WithNoFilter(c.NoFilterEnabled()), selection.WithLogger(e.logger))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating selector: %w", err)
	}
	e.selector = sel
	e.ladder = fallback.New(e.cfg.Fallback, c, sel, fallback.WithLogger(e.logger), fallback.WithRecorder(e.recorder))
	return e, nil
}

// Close releases the racer pool if the engine created it.
func (e *Engine) Close() {
	if e.ownsRacer && e.racer != nil {
		e.racer.Release()
	}
}

// Coordinator returns the backoff coordinator.
func (e *Engine) Coordinator() *backoff.Coordinator { return e.coord }

// Search returns up to topK results for query under policy. policy.TopK is
// replaced by topK.
func (e *Engine) Search(ctx context.Context, query string, topK int, policy types.SelectionPolicy) (types.SearchResult, error) {
	res, _, err := e.SearchWithTrace(ctx, query, topK, policy)
	return res, err
}

// SearchWithTrace is Search plus per-provider diagnostics, the ladder steps
// and the selection decision trail.
func (e *Engine) SearchWithTrace(ctx context.Context, query string, topK int, policy types.SelectionPolicy) (types.SearchResult, types.Trace, error) {
	query = strings.TrimSpace(query)
	switch {
	case query == "":
		return types.SearchResult{}, types.Trace{}, ErrEmptyQuery
	case topK < 0 || topK > e.cfg.Engine.MaxTopK:
		return types.SearchResult{}, types.Trace{}, fmt.Errorf("%w: %d (max %d)", ErrInvalidTopK, topK, e.cfg.Engine.MaxTopK)
	case policy.MinCitations < 0:
		return types.SearchResult{}, types.Trace{}, fmt.Errorf("%w: minCitations %d", ErrInvalidPolicy, policy.MinCitations)
	}

	start := time.Now()
	// Work on a private copy; the caller's StageOrder is never aliased.
	policy = policy.WithRelaxed()
	policy.TopK = topK
	tb := &traceBuilder{trace: types.Trace{RequestID: e.newID()}}
	intent := e.classifier.DetectIntent(query)
	log := e.logger.With(zap.String("request_id", tb.trace.RequestID))

	primary := e.racer.Race(ctx, query, topK, e.providers, e.budget(ctx))
	tb.add(PhasePrimary, primary)

	cands := e.candidates(primary.Snippets, policy, intent)
	sel := e.selector.Select(cands, policy)
	out := e.ladder.Run(ctx, fallback.Request{
		Query:     query,
		Intent:    intent,
		Policy:    policy,
		Pool:      primary.Snippets,
		Selection: sel,
		Fetcher:   &fetcher{e: e, tb: tb},
	})

	final := out.Selection
	res := types.SearchResult{
		RequestID:      tb.trace.RequestID,
		Query:          query,
		Entries:        final.Entries(),
		MinCitations:   policy.MinCitations,
		CiteableHosts:  final.CiteableHosts,
		FloorMet:       final.FloorMet,
		NeedsLiveQuery: out.NeedsLiveQuery,
		LadderStep:     string(out.Step),
	}
	switch {
	case final.Empty() && primary.AllSkipped && len(out.Pool) == 0:
		res.Status = types.ResultEmptyAllSkipped
	case final.Empty():
		res.Status = types.ResultEmptyNoResults
	case out.Degraded:
		res.Status = types.ResultDegraded
	case !final.FloorMet:
		res.Status = types.ResultStarved
	default:
		res.Status = types.ResultOK
	}

	tb.mu.Lock()
	tr := tb.trace
	tb.mu.Unlock()
	tr.Ladder = out.Reports
	tr.Trail = final.Trail
	tr.Elapsed = time.Since(start)

	e.recorder.Set("search.status", string(res.Status))
	e.recorder.Set("search.citeable_hosts", res.CiteableHosts)
	if res.Status != types.ResultOK {
		e.recorder.Event("search.degraded", observe.Fields{
			"request_id":       res.RequestID,
			"status":           string(res.Status),
			"ladder_step":      res.LadderStep,
			"floor_met":        res.FloorMet,
			"needs_live_query": res.NeedsLiveQuery,
		})
	}
	log.Debug("search done",
		zap.String("status", string(res.Status)),
		zap.Int("entries", len(res.Entries)),
		zap.Int("citeable_hosts", res.CiteableHosts),
		zap.String("ladder_step", res.LadderStep),
		zap.Duration("elapsed", tr.Elapsed))
	return res, tr, nil
}

// budget is the configured race budget, shortened to the caller's deadline.
func (e *Engine) budget(ctx context.Context) time.Duration {
	b := e.cfg.Engine.Budget
	if dl, ok := ctx.Deadline(); ok {
		b = min(b, max(time.Until(dl), 0))
	}
	return b
}

func (e *Engine) candidates(snips []types.Snippet, policy types.SelectionPolicy, intent string) []selection.Candidate {
	out := make([]selection.Candidate, len(snips))
	for i, s := range snips {
		out[i] = selection.Candidate{Snippet: s, Decision: e.classifier.Classify(s, policy, intent), Arrival: i}
	}
	return out
}

// traceBuilder collects provider traces across the phases of one request.
type traceBuilder struct {
	mu    sync.Mutex
	trace types.Trace
}

func (tb *traceBuilder) add(phase string, res race.Result) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for _, o := range res.Outcomes {
		tb.trace.Providers = append(tb.trace.Providers, types.ProviderTrace{
			Provider: o.Provider,
			Phase:    phase,
			Status:   o.Status,
			Elapsed:  o.Elapsed,
			Count:    len(o.Snippets),
			Cause:    o.Cause,
		})
	}
}

// fetcher runs the ladder's sub-queries through the engine's racer.
type fetcher struct {
	e  *Engine
	tb *traceBuilder
}

func (f *fetcher) Live(ctx context.Context, query string, topK int, budget time.Duration) []types.Snippet {
	res := f.e.racer.Race(ctx, query, topK, f.e.providers, min(budget, f.e.budget(ctx)))
	f.tb.add(PhaseExtraQuery, res)
	return res.Snippets
}

func (f *fetcher) Cached(ctx context.Context, query string, topK int, budget time.Duration) []types.Snippet {
	res := f.e.racer.RaceCached(ctx, query, topK, f.e.providers, budget)
	f.tb.add(PhaseCacheProbe, res)
	return res.Snippets
}
