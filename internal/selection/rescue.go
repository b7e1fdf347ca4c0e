// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package selection

import (
	"github.com/pdiddy/citesearch/pkg/types"
)

// Fill appends admissible candidates not yet selected until the target is
// reached, ignoring host diversity and PROFILEBOOST deferral. Added picks are
// tagged with via.
func (s *Selector) Fill(sel Selection, cands []Candidate, policy types.SelectionPolicy, via types.Via) Selection {
	out := sel.Clone()
	target := policy.Target()
	seen := make(map[string]bool, len(out.Picks))
	for _, p := range out.Picks {
		seen[p.Key()] = true
	}
	groups := groupByStage(byArrival(cands))
	for _, stage := range s.Order(policy) {
		for _, c := range groups[stage] {
			if len(out.Picks) >= target {
				return out.recount()
			}
			if seen[c.Key()] {
				continue
			}
			if ok, _ := s.eligible(c, policy); !ok {
				continue
			}
			seen[c.Key()] = true
			out.Picks = append(out.Picks, Pick{Candidate: c, Via: via})
			out.Trail = append(out.Trail, trailEntry(c, string(via), "unselected admissible candidate"))
		}
	}
	return out.recount()
}

// Demote returns the highest-scored candidate of the most trusted non-empty
// stage, ignoring policy admissibility. Rejected candidates are never chosen.
func (s *Selector) Demote(cands []Candidate) (Candidate, bool) {
	return Best(cands, s.order, nil)
}

// Best returns the highest-scored usable candidate from the first stage in
// stages that has one. Ties go to the earliest arrival. Candidates for which
// skip returns true are ignored.
func Best(cands []Candidate, stages []types.Stage, skip func(Candidate) bool) (Candidate, bool) {
	groups := groupByStage(byArrival(cands))
	for _, stage := range stages {
		var best Candidate
		found := false
		for _, c := range groups[stage] {
			if c.Decision.Dropped || (skip != nil && skip(c)) {
				continue
			}
			if !found || c.score() > best.score() {
				best, found = c, true
			}
		}
		if found {
			return best, true
		}
	}
	return Candidate{}, false
}
