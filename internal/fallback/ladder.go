// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/internal/observe"
	"github.com/pdiddy/citesearch/internal/selection"
	"github.com/pdiddy/citesearch/pkg/types"
)

// Step names a ladder step.
type Step string

const (
	StepRelax        Step = "relax"
	StepExtraQueries Step = "extra_queries"
	StepCacheRescue  Step = "cache_rescue"
	StepPoolRescue   Step = "pool_rescue"
	StepDemotion     Step = "demotion"
	StepQualityGate  Step = "quality_gate"
)

// Classifier labels snippets under a policy.
type Classifier interface {
	Classify(s types.Snippet, policy types.SelectionPolicy, intent string) types.Decision
}

// Fetcher runs the ladder's sub-queries. Implementations contain every
// provider failure and report it as fewer snippets.
type Fetcher interface {
	Live(ctx context.Context, query string, topK int, budget time.Duration) []types.Snippet
	Cached(ctx context.Context, query string, topK int, budget time.Duration) []types.Snippet
}

// Request is the state the ladder starts from.
type Request struct {
	Query  string
	Intent string
	Policy types.SelectionPolicy

	// Pool holds the request's merged snippets in arrival order.
	Pool []types.Snippet

	// Selection is the primary selection over Pool under Policy.
	Selection selection.Selection

	// Fetcher runs extra live and cache-only queries. Nil skips both steps.
	Fetcher Fetcher
}

// Outcome is the ladder result.
type Outcome struct {
	Selection selection.Selection

	// Policy is the policy the selection was made under.
	Policy types.SelectionPolicy

	// Step is the step that produced Selection; empty when the primary
	// selection stands.
	Step Step

	Degraded       bool
	NeedsLiveQuery bool
	Reports        []types.LadderStepReport

	// Pool is the request pool including snippets found by sub-queries.
	Pool []types.Snippet
}

// Ladder runs the fallback steps. It is immutable and safe for concurrent
// use; all per-request state lives in Run.
type Ladder struct {
	cfg        types.FallbackConfig
	classifier Classifier
	selector   *selection.Selector
	sensitive  []string
	recorder   observe.Recorder
	logger     *zap.Logger
}

// Option configures a Ladder.
type Option func(*Ladder)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ladder) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRecorder sets the observability sink. Default is observe.Nop.
func WithRecorder(rec observe.Recorder) Option {
	return func(l *Ladder) {
		if rec != nil {
			l.recorder = rec
		}
	}
}

// New builds a Ladder.
func New(cfg types.FallbackConfig, classifier Classifier, selector *selection.Selector, opts ...Option) *Ladder {
	l := &Ladder{
		cfg:        cfg,
		classifier: classifier,
		selector:   selector,
		recorder:   observe.Nop{},
		logger:     zap.NewNop(),
	}
	for _, t := range cfg.SensitiveTerms {
		if t = normalizePunct(strings.ToLower(t)); t != "" {
			l.sensitive = append(l.sensitive, t)
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("fallback")
	return l
}

// Needed reports whether sel should go through the ladder: it is empty or
// below its citation floor.
func Needed(sel selection.Selection) bool {
	return sel.Empty() || !sel.FloorMet
}

// Sensitive reports whether query contains a configured sensitive term as
// whole words.
func (l *Ladder) Sensitive(query string) bool {
	q := " " + normalizePunct(strings.ToLower(query)) + " "
	for _, t := range l.sensitive {
		if strings.Contains(q, " "+t+" ") {
			return true
		}
	}
	return false
}

// Run walks the ladder. It never fails; at worst the primary selection is
// returned unchanged.
func (l *Ladder) Run(ctx context.Context, req Request) Outcome {
	if !Needed(req.Selection) {
		return Outcome{Selection: req.Selection, Policy: req.Policy, Pool: req.Pool}
	}
	r := &run{
		l:          l,
		ctx:        ctx,
		req:        req,
		policy:     req.Policy,
		pool:       append([]types.Snippet(nil), req.Pool...),
		poolKeys:   make(map[string]bool, len(req.Pool)),
		best:       req.Selection,
		bestPolicy: req.Policy,
		attempted:  make(map[string]bool),
	}
	for _, s := range r.pool {
		r.poolKeys[s.Key()] = true
	}

	steps := []func() bool{r.relax, r.extraQueries, r.cacheRescue, r.poolRescue}
	for _, step := range steps {
		if step() {
			return r.finish()
		}
	}
	r.demote()
	return r.finish()
}

// run is the per-request ladder state.
type run struct {
	l   *Ladder
	ctx context.Context
	req Request

	policy   types.SelectionPolicy
	pool     []types.Snippet
	poolKeys map[string]bool

	best       selection.Selection
	bestStep   Step
	bestPolicy types.SelectionPolicy
	degraded   bool
	needsLive  bool

	// capped is set once official-only was dropped; every later selection
	// stays under the low-trust ratio cap.
	capped bool

	attempted map[string]bool
	reports   []types.LadderStepReport
}

func (r *run) candidates(policy types.SelectionPolicy) []selection.Candidate {
	out := make([]selection.Candidate, len(r.pool))
	for i, s := range r.pool {
		out[i] = selection.Candidate{
			Snippet:  s,
			Decision: r.l.classifier.Classify(s, policy, r.req.Intent),
			Arrival:  i,
		}
	}
	return out
}

func (r *run) selectPool(policy types.SelectionPolicy) selection.Selection {
	return r.constrain(r.l.selector.Select(r.candidates(policy), policy))
}

// constrain applies the constraints the relaxed policy carries.
func (r *run) constrain(sel selection.Selection) selection.Selection {
	if !r.capped {
		return sel
	}
	return r.capLowTrust(sel)
}

// gate marks (step, query) attempted and reports whether it was new.
func (r *run) gate(step Step, query string) bool {
	k := string(step) + ":" + queryHash(query)
	if r.attempted[k] {
		return false
	}
	r.attempted[k] = true
	return true
}

// consider carries sel forward when it beats the best so far and reports
// whether it is a full success.
func (r *run) consider(step Step, sel selection.Selection, policy types.SelectionPolicy) bool {
	if better(sel, r.best) {
		r.best, r.bestStep, r.bestPolicy = sel, step, policy
	}
	return !sel.Empty() && sel.FloorMet
}

func better(a, b selection.Selection) bool {
	if a.Empty() != b.Empty() {
		return !a.Empty()
	}
	if a.FloorMet != b.FloorMet {
		return a.FloorMet
	}
	if a.CiteableHosts != b.CiteableHosts {
		return a.CiteableHosts > b.CiteableHosts
	}
	return a.Len() > b.Len()
}

func (r *run) report(rep types.LadderStepReport) {
	r.reports = append(r.reports, rep)
	r.l.recorder.Event("ladder.step", observe.Fields{
		"step":    rep.Step,
		"ran":     rep.Ran,
		"success": rep.Success,
		"picks":   rep.Picks,
		"detail":  rep.Detail,
	})
	r.l.logger.Debug("ladder step",
		zap.String("step", rep.Step),
		zap.Bool("ran", rep.Ran),
		zap.Bool("success", rep.Success),
		zap.Int("picks", rep.Picks),
		zap.String("detail", rep.Detail))
}

func (r *run) skip(step Step, detail string) {
	r.report(types.LadderStepReport{Step: string(step), Detail: detail})
}

func (r *run) relax() bool {
	switch {
	case !r.l.cfg.Relax:
		r.skip(StepRelax, "disabled")
		return false
	case !r.policy.OfficialOnly:
		r.skip(StepRelax, "not official-only")
		return false
	}

	if r.policy.DomainProfile != "" && r.gate(StepRelax, "profile\x00"+r.req.Query) {
		p := r.policy.WithRelaxed(types.DropDomainProfile())
		sel := r.selectPool(p)
		r.policy = p
		ok := r.consider(StepRelax, sel, p)
		r.report(types.LadderStepReport{Step: string(StepRelax), Ran: true, Success: ok, Picks: sel.Len(), Detail: "dropped domain profile"})
		if ok {
			return true
		}
	}

	var held string
	switch {
	case r.policy.HighRisk:
		held = "high risk"
	case r.policy.Pinned:
		held = "pinned"
	case r.l.Sensitive(r.req.Query):
		held = "sensitive query"
	}
	if held != "" {
		r.l.recorder.Event("ladder.relax_refused", observe.Fields{"reason": held})
		r.skip(StepRelax, "official-only kept: "+held)
		return false
	}
	if !r.gate(StepRelax, "official\x00"+r.req.Query) {
		return false
	}
	p := r.policy.WithRelaxed(types.DropOfficialOnly())
	r.capped = true
	sel := r.selectPool(p)
	r.policy = p
	ok := r.consider(StepRelax, sel, p)
	r.report(types.LadderStepReport{Step: string(StepRelax), Ran: true, Success: ok, Picks: sel.Len(), Detail: "dropped official-only"})
	return ok
}

// capLowTrust limits the share of UNVERIFIED picks in the filtered result
// to LowTrustMaxRatio, dropping the latest ones first. It never empties the
// selection: when every pick is UNVERIFIED the first one stays.
func (r *run) capLowTrust(sel selection.Selection) selection.Selection {
	ratio := r.l.cfg.LowTrustMaxRatio
	if ratio <= 0 || ratio >= 1 || sel.Empty() {
		return sel
	}
	low := 0
	for _, p := range sel.Picks {
		if p.Decision.CitationCredibility == types.CredUnverified {
			low++
		}
	}
	trusted := sel.Len() - low
	keep := 0
	for keep < low && float64(keep+1) <= ratio*float64(trusted+keep+1)+1e-9 {
		keep++
	}
	if low <= keep {
		return sel
	}
	if trusted == 0 {
		keep = max(keep, 1)
	}
	kept := 0
	return sel.Filter(func(p selection.Pick) bool {
		if p.Decision.CitationCredibility != types.CredUnverified {
			return true
		}
		kept++
		return kept <= keep
	}, "low-trust ratio cap")
}

// addSnippets merges new snippets into the pool. Citeable finds go ahead of
// the existing pool when front is set.
func (r *run) addSnippets(snips []types.Snippet, front bool) int {
	var ahead, behind []types.Snippet
	for _, s := range snips {
		k := s.Key()
		if r.poolKeys[k] {
			continue
		}
		r.poolKeys[k] = true
		if front && r.l.classifier.Classify(s, r.policy, r.req.Intent).Citeable() {
			ahead = append(ahead, s)
			continue
		}
		behind = append(behind, s)
	}
	if len(ahead) > 0 {
		r.pool = append(ahead, r.pool...)
	}
	r.pool = append(r.pool, behind...)
	return len(ahead) + len(behind)
}

func (r *run) extraQueries() bool {
	cfg := r.l.cfg
	switch {
	case !cfg.ExtraQueries || cfg.ExtraQueryLimit <= 0:
		r.skip(StepExtraQueries, "disabled")
		return false
	case r.req.Fetcher == nil:
		r.skip(StepExtraQueries, "no fetcher")
		return false
	}
	return r.subQueries(StepExtraQueries, Phrasings(r.req.Query, cfg.ExtraQueryLimit), true, func(q string) []types.Snippet {
		return r.req.Fetcher.Live(r.ctx, q, r.policy.Target(), cfg.ExtraQueryBudget)
	})
}

func (r *run) cacheRescue() bool {
	cfg := r.l.cfg
	switch {
	case !cfg.CacheRescue || cfg.CacheProbeLimit <= 0:
		r.skip(StepCacheRescue, "disabled")
		return false
	case r.req.Fetcher == nil:
		r.skip(StepCacheRescue, "no fetcher")
		return false
	}
	return r.subQueries(StepCacheRescue, ProbeVariants(r.req.Query, cfg.CacheProbeLimit), false, func(q string) []types.Snippet {
		return r.req.Fetcher.Cached(r.ctx, q, r.policy.Target(), cfg.CacheProbeBudget)
	})
}

func (r *run) subQueries(step Step, queries []string, front bool, fetch func(string) []types.Snippet) bool {
	ran, found := 0, 0
	for _, q := range queries {
		if r.ctx.Err() != nil {
			break
		}
		if !r.gate(step, q) {
			continue
		}
		ran++
		added := r.addSnippets(fetch(q), front)
		if added == 0 {
			continue
		}
		found += added
		sel := r.selectPool(r.policy)
		if r.consider(step, sel, r.policy) {
			r.report(types.LadderStepReport{Step: string(step), Ran: true, Success: true, Picks: sel.Len(),
				Detail: fmt.Sprintf("%d queries, %d new snippets", ran, found)})
			return true
		}
	}
	r.report(types.LadderStepReport{Step: string(step), Ran: ran > 0, Picks: r.best.Len(),
		Detail: fmt.Sprintf("%d queries, %d new snippets", ran, found)})
	return false
}

func (r *run) poolRescue() bool {
	if !r.l.cfg.PoolRescue {
		r.skip(StepPoolRescue, "disabled")
		return false
	}
	if !r.gate(StepPoolRescue, r.req.Query) {
		return false
	}
	before := r.best.Len()
	sel := r.constrain(r.l.selector.Fill(r.best, r.candidates(r.policy), r.policy, types.ViaRescue))
	ok := false
	if sel.Len() > before {
		ok = r.consider(StepPoolRescue, sel, r.policy)
	}
	r.report(types.LadderStepReport{Step: string(StepPoolRescue), Ran: true, Success: ok, Picks: sel.Len(),
		Detail: fmt.Sprintf("%d added", sel.Len()-before)})
	return ok
}

func (r *run) demote() {
	switch {
	case !r.l.cfg.Demotion:
		r.skip(StepDemotion, "disabled")
		return
	case !r.best.Empty():
		r.skip(StepDemotion, "output not empty")
		return
	}
	c, ok := r.l.selector.Demote(r.candidates(r.policy))
	if !ok {
		r.report(types.LadderStepReport{Step: string(StepDemotion), Ran: true, Detail: "no usable candidate"})
		return
	}
	empty := selection.Selection{MinCitations: r.policy.MinCitations}
	r.best = empty.Insert(0, c, types.ViaDemotion, "demotion net")
	r.bestStep, r.bestPolicy = StepDemotion, r.policy
	r.degraded = true
	r.l.recorder.Event("ladder.demotion", observe.Fields{"stage": c.Decision.Stage.String(), "key": c.Key()})
	r.report(types.LadderStepReport{Step: string(StepDemotion), Ran: true, Success: true, Picks: 1,
		Detail: "forced " + c.Decision.Stage.String()})
}

// qualityGate guards rescued output that is almost entirely UNVERIFIED with
// no OFFICIAL or DOCS pick.
func (r *run) qualityGate() {
	if !r.l.cfg.QualityGate || r.bestStep == "" || r.best.Empty() {
		return
	}
	low := 0
	for _, p := range r.best.Picks {
		switch {
		case p.Decision.Stage == types.StageOfficial, p.Decision.Stage == types.StageDocs:
			r.report(types.LadderStepReport{Step: string(StepQualityGate), Ran: true, Success: true, Picks: r.best.Len(), Detail: "passed"})
			return
		case p.Decision.CitationCredibility == types.CredUnverified:
			low++
		}
	}
	if float64(low)/float64(r.best.Len()) < r.l.cfg.QualityGateRatio {
		r.report(types.LadderStepReport{Step: string(StepQualityGate), Ran: true, Success: true, Picks: r.best.Len(), Detail: "passed"})
		return
	}
	c, ok := selection.Best(r.candidates(r.bestPolicy), []types.Stage{types.StageOfficial, types.StageDocs},
		func(c selection.Candidate) bool { return r.best.Has(c.Key()) })
	if !ok {
		r.needsLive = true
		r.l.recorder.Event("ladder.needs_live_query", observe.Fields{"query": r.req.Query})
		r.report(types.LadderStepReport{Step: string(StepQualityGate), Ran: true, Picks: r.best.Len(), Detail: "needs live query"})
		return
	}
	r.best = r.best.ReplaceLast(c, types.ViaQualityGate, "official or docs source required")
	r.report(types.LadderStepReport{Step: string(StepQualityGate), Ran: true, Success: true, Picks: r.best.Len(),
		Detail: "inserted " + c.Decision.Stage.String()})
}

func (r *run) finish() Outcome {
	r.qualityGate()
	r.l.recorder.Set("ladder.step", string(r.bestStep))
	return Outcome{
		Selection:      r.best,
		Policy:         r.bestPolicy,
		Step:           r.bestStep,
		Degraded:       r.degraded,
		NeedsLiveQuery: r.needsLive,
		Reports:        r.reports,
		Pool:           r.pool,
	}
}
