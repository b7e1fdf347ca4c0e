// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package selection

import (
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/pkg/types"
)

// Trail actions.
const (
	ActClassify = "classify"
	ActConsider = "consider"
	ActSelect   = "select"
	ActDrop     = "drop"
	ActDefer    = "defer"
	ActEvict    = "evict"
	ActTopUp    = "topup"
)

// citeableStages are the stages CiteableTopUp draws from.
var citeableStages = []types.Stage{types.StageOfficial, types.StageDocs, types.StageDevCommunity}

// Select picks up to policy.Target() candidates.
func (s *Selector) Select(cands []Candidate, policy types.SelectionPolicy) Selection {
	sel := Selection{MinCitations: policy.MinCitations}
	target := policy.Target()
	ordered := byArrival(cands)
	for _, c := range ordered {
		sel.Trail = append(sel.Trail, trailEntry(c, ActClassify, describe(c.Decision)))
	}

	order := s.Order(policy)
	groups := groupByStage(ordered)
	seen := make(map[string]bool)
	hosts := make(map[string]bool)
	for _, stage := range order {
		for _, c := range groups[stage] {
			sel.Trail = append(sel.Trail, trailEntry(c, ActConsider, ""))
			if ok, why := s.eligible(c, policy); !ok {
				sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, why))
				continue
			}
			key := c.Key()
			if seen[key] {
				sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, "duplicate key"))
				continue
			}
			if stage == types.StageProfileBoost && policy.OfficialOnly && len(hosts) < policy.MinCitations {
				sel.Deferred = append(sel.Deferred, c)
				sel.Trail = append(sel.Trail, trailEntry(c, ActDefer, "citation floor unmet"))
				continue
			}
			if len(sel.Picks) >= target {
				sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, "target reached"))
				continue
			}
			citeable := c.Decision.Citeable()
			if citeable && len(hosts) < policy.MinCitations && hosts[c.hostKey()] {
				sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, "host already counted"))
				continue
			}
			seen[key] = true
			if citeable {
				hosts[c.hostKey()] = true
			}
			sel.Picks = append(sel.Picks, Pick{Candidate: c, Via: types.ViaPrimary})
			sel.Trail = append(sel.Trail, trailEntry(c, ActSelect, fmt.Sprintf("stage %s", stage)))
		}
	}
	for _, c := range ordered {
		if !slices.Contains(order, c.Decision.Stage) {
			sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, "stage not in order"))
		}
	}

	sel = sel.recount()
	sel = s.topUp(sel, groups, policy, seen)
	sel = s.admitDeferred(sel, policy)

	s.logger.Debug("selected",
		zap.Int("candidates", len(cands)),
		zap.Int("picks", len(sel.Picks)),
		zap.Int("citeable_hosts", sel.CiteableHosts),
		zap.Int("min_citations", policy.MinCitations),
		zap.Bool("floor_met", sel.FloorMet))
	return sel
}

// eligible reports whether c may appear in the output under policy.
func (s *Selector) eligible(c Candidate, policy types.SelectionPolicy) (bool, string) {
	d := c.Decision
	if d.Dropped {
		return false, "rejected by " + string(d.DecidedBy)
	}
	if !policy.Admits(d.Stage, s.noFilter) {
		return false, "stage not admitted"
	}
	if policy.OfficialOnly && policy.DomainProfile != "" && d.Stage != types.StageOfficial &&
		!d.Evidence.Has(types.EvProfileMember) && !d.Evidence.Has(types.EvProfileAllowed) {
		return false, "no profile evidence"
	}
	return true, ""
}

// topUp is the bounded second pass over citeable stages. It runs while the
// citeable host count is below the floor, or once for small topK when no
// citeable entry was picked at all.
func (s *Selector) topUp(sel Selection, groups map[types.Stage][]Candidate, policy types.SelectionPolicy, seen map[string]bool) Selection {
	limit := s.cfg.TopUpMaxAdd
	if limit <= 0 {
		return sel
	}
	m := policy.MinCitations
	small := s.cfg.SmallTopKThreshold > 0 && policy.TopK <= s.cfg.SmallTopKThreshold && sel.CiteableCount() == 0
	if sel.CiteableHosts >= m && !small {
		return sel
	}
	if sel.CiteableHosts >= m {
		limit = 1
	}

	var pool []Candidate
	for _, stage := range citeableStages {
		for _, c := range groups[stage] {
			if !c.Decision.Citeable() || seen[c.Key()] {
				continue
			}
			if ok, _ := s.eligible(c, policy); ok {
				pool = append(pool, c)
			}
		}
	}
	if len(pool) == 0 {
		return sel
	}

	hosts := make(map[string]bool)
	for _, p := range sel.Picks {
		if p.Decision.Citeable() {
			hosts[p.hostKey()] = true
		}
	}
	added := 0
	for _, c := range pool {
		if added >= limit || (len(hosts) >= m && !(small && sel.CiteableCount() == 0)) {
			break
		}
		if hosts[c.hostKey()] || seen[c.Key()] {
			continue
		}
		var ok bool
		if sel, ok = s.place(sel, c, policy, "new citeable host"); !ok {
			return sel
		}
		hosts[c.hostKey()] = true
		seen[c.Key()] = true
		added++
	}
	if !s.cfg.TopUpAllowHostDuplicates {
		return sel
	}
	for _, c := range pool {
		if added >= limit || (sel.CiteableCount() >= m && !(small && sel.CiteableCount() == 0)) {
			break
		}
		if seen[c.Key()] {
			continue
		}
		var ok bool
		if sel, ok = s.place(sel, c, policy, "citeable host duplicate"); !ok {
			return sel
		}
		seen[c.Key()] = true
		added++
	}
	return sel
}

// place inserts a top-up candidate at the configured anchor, evicting the
// most recent non-citeable pick when the list is full. It never evicts a
// citeable pick.
func (s *Selector) place(sel Selection, c Candidate, policy types.SelectionPolicy, reason string) (Selection, bool) {
	sel = sel.Clone()
	if len(sel.Picks) >= policy.Target() {
		idx := -1
		for i := len(sel.Picks) - 1; i >= 0; i-- {
			if !sel.Picks[i].Decision.Citeable() {
				idx = i
				break
			}
		}
		if idx < 0 {
			sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, "no evictable entry"))
			return sel, false
		}
		sel.Trail = append(sel.Trail, trailEntry(sel.Picks[idx].Candidate, ActEvict, "room for citeable top-up"))
		sel.Picks = slices.Delete(sel.Picks, idx, idx+1)
	}
	at := sel.CiteablePrefix()
	if s.cfg.TopUpAnchor == types.AnchorHead {
		at = 0
		for at < len(sel.Picks) && sel.Picks[at].Via == types.ViaTopUp {
			at++
		}
	}
	return sel.Insert(at, c, types.ViaTopUp, reason), true
}

// admitDeferred admits held-back PROFILEBOOST candidates into remaining room,
// at their stage position.
func (s *Selector) admitDeferred(sel Selection, policy types.SelectionPolicy) Selection {
	if len(sel.Deferred) == 0 {
		return sel
	}
	order := s.Order(policy)
	rank := stageRank(order)
	pending := sel.Deferred
	sel = sel.Clone()
	sel.Deferred = nil
	for _, c := range pending {
		if len(sel.Picks) >= policy.Target() || sel.Has(c.Key()) {
			sel.Deferred = append(sel.Deferred, c)
			sel.Trail = append(sel.Trail, trailEntry(c, ActDrop, "deferred without room"))
			continue
		}
		at := len(sel.Picks)
		for i, p := range sel.Picks {
			if rank(p.Decision.Stage) > rank(c.Decision.Stage) {
				at = i
				break
			}
		}
		sel = sel.Insert(at, c, types.ViaPrimary, "deferred admission")
	}
	return sel
}

func describe(d types.Decision) string {
	r := fmt.Sprintf("%s/%s by %s", d.Stage, d.CitationCredibility, d.DecidedBy)
	if d.Evidence != 0 {
		r += " [" + d.Evidence.String() + "]"
	}
	return r
}

func byArrival(cands []Candidate) []Candidate {
	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b Candidate) int { return cmp.Compare(a.Arrival, b.Arrival) })
	return out
}

func groupByStage(ordered []Candidate) map[types.Stage][]Candidate {
	groups := make(map[types.Stage][]Candidate)
	for _, c := range ordered {
		groups[c.Decision.Stage] = append(groups[c.Decision.Stage], c)
	}
	return groups
}

// stageRank returns the position of a stage in order; stages missing from
// order rank last.
func stageRank(order []types.Stage) func(types.Stage) int {
	return func(st types.Stage) int {
		if i := slices.Index(order, st); i >= 0 {
			return i
		}
		return len(order)
	}
}
