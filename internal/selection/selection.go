// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package selection

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/pkg/types"
)

// Candidate is one classified snippet awaiting selection.
type Candidate struct {
	Snippet  types.Snippet
	Decision types.Decision

	// Arrival is the merge position of the snippet within the request.
	Arrival int
}

// Key returns the snippet dedup key.
func (c Candidate) Key() string { return c.Snippet.Key() }

// hostKey is the identity used for host diversity. Snippets without a host
// count as their own host.
func (c Candidate) hostKey() string {
	if c.Snippet.Host != "" {
		return c.Snippet.Host
	}
	return c.Key()
}

// score is the position score minus any spam penalty.
func (c Candidate) score() float64 {
	return c.Snippet.Score - c.Decision.Penalty
}

// Pick is a selected candidate and how it entered the list.
type Pick struct {
	Candidate
	Via types.Via
}

// Selection is the ordered output of one selection pass.
type Selection struct {
	Picks         []Pick
	MinCitations  int
	CiteableHosts int
	FloorMet      bool

	// Deferred holds PROFILEBOOST candidates held back while the floor was
	// unmet and never admitted.
	Deferred []Candidate

	Trail []types.TrailEntry
}

// Len returns the number of picks.
func (s Selection) Len() int { return len(s.Picks) }

// Empty reports whether nothing was selected.
func (s Selection) Empty() bool { return len(s.Picks) == 0 }

// Has reports whether a pick carries the dedup key.
func (s Selection) Has(key string) bool {
	return slices.ContainsFunc(s.Picks, func(p Pick) bool { return p.Key() == key })
}

// Clone returns a deep copy whose slices can be modified freely.
func (s Selection) Clone() Selection {
	s.Picks = slices.Clone(s.Picks)
	s.Deferred = slices.Clone(s.Deferred)
	s.Trail = slices.Clone(s.Trail)
	return s
}

// Insert returns a copy with c inserted at index at (clamped) and the
// citation counters recomputed.
func (s Selection) Insert(at int, c Candidate, via types.Via, reason string) Selection {
	out := s.Clone()
	at = min(max(at, 0), len(out.Picks))
	out.Picks = slices.Insert(out.Picks, at, Pick{Candidate: c, Via: via})
	out.Trail = append(out.Trail, trailEntry(c, viaAction(via), reason))
	return out.recount()
}

// ReplaceLast returns a copy whose last pick is replaced by c. On an empty
// selection c is appended.
func (s Selection) ReplaceLast(c Candidate, via types.Via, reason string) Selection {
	out := s.Clone()
	if n := len(out.Picks); n > 0 {
		out.Trail = append(out.Trail, trailEntry(out.Picks[n-1].Candidate, "evict", "displaced by "+string(via)))
		out.Picks = out.Picks[:n-1]
	}
	out.Picks = append(out.Picks, Pick{Candidate: c, Via: via})
	out.Trail = append(out.Trail, trailEntry(c, viaAction(via), reason))
	return out.recount()
}

// Filter returns a copy keeping only the picks for which keep returns true.
func (s Selection) Filter(keep func(Pick) bool, reason string) Selection {
	out := s.Clone()
	out.Picks = out.Picks[:0]
	for _, p := range s.Picks {
		if keep(p) {
			out.Picks = append(out.Picks, p)
			continue
		}
		out.Trail = append(out.Trail, trailEntry(p.Candidate, "drop", reason))
	}
	return out.recount()
}

// WithFloor returns a copy measured against a different citation floor.
func (s Selection) WithFloor(minCitations int) Selection {
	out := s.Clone()
	out.MinCitations = minCitations
	return out.recount()
}

// CiteableCount returns the number of citeable picks, duplicates included.
func (s Selection) CiteableCount() int {
	n := 0
	for _, p := range s.Picks {
		if p.Decision.Citeable() {
			n++
		}
	}
	return n
}

// CiteablePrefix returns the length of the leading run of citeable picks.
func (s Selection) CiteablePrefix() int {
	for i, p := range s.Picks {
		if !p.Decision.Citeable() {
			return i
		}
	}
	return len(s.Picks)
}

// Entries renders the picks as result entries tagged with stage and citation
// credibility.
func (s Selection) Entries() []types.Entry {
	out := make([]types.Entry, len(s.Picks))
	for i, p := range s.Picks {
		cred := p.Decision.CitationCredibility
		out[i] = types.Entry{
			Text:        p.Snippet.Tagged(p.Decision.Stage, cred),
			Snippet:     p.Snippet,
			Stage:       p.Decision.Stage,
			Credibility: cred,
			Citeable:    p.Decision.Citeable(),
			Via:         p.Via,
		}
	}
	return out
}

func (s Selection) recount() Selection {
	hosts := make(map[string]bool)
	for _, p := range s.Picks {
		if p.Decision.Citeable() {
			hosts[p.hostKey()] = true
		}
	}
	s.CiteableHosts = len(hosts)
	s.FloorMet = s.CiteableHosts >= s.MinCitations
	return s
}

// viaAction names the trail action of an insertion.
func viaAction(via types.Via) string {
	if via == types.ViaPrimary {
		return ActSelect
	}
	return string(via)
}

func trailEntry(c Candidate, action, reason string) types.TrailEntry {
	return types.TrailEntry{
		Key:    c.Key(),
		Host:   c.Snippet.Host,
		Stage:  c.Decision.Stage,
		Action: action,
		Reason: reason,
	}
}

// Selector selects under a fixed configuration.
type Selector struct {
	cfg      types.SelectionConfig
	order    []types.Stage
	noFilter bool
	logger   *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNoFilter admits the NOFILTER stage where the policy allows it.
func WithNoFilter(enabled bool) Option {
	return func(s *Selector) { s.noFilter = enabled }
}

// New builds a Selector. cfg.StageOrder, when set, overrides the default
// stage preference order.
func New(cfg types.SelectionConfig, opts ...Option) (*Selector, error) {
	s := &Selector{
		cfg:    cfg,
		order:  types.DefaultStageOrder,
		logger: zap.NewNop(),
	}
	if len(cfg.StageOrder) > 0 {
		order, err := types.ParseStageOrder(cfg.StageOrder)
		if err != nil {
			return nil, fmt.Errorf("selection: %w", err)
		}
		s.order = order
	}
	switch s.cfg.TopUpAnchor {
	case "":
		s.cfg.TopUpAnchor = types.AnchorAfterCiteablePrefix
	case types.AnchorHead, types.AnchorAfterCiteablePrefix:
	default:
		return nil, fmt.Errorf("selection: unknown top-up anchor %q", s.cfg.TopUpAnchor)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("selection")
	return s, nil
}

// Order returns the effective stage order for policy.
func (s *Selector) Order(policy types.SelectionPolicy) []types.Stage {
	return policy.Order(s.order)
}

// NoFilterEnabled reports whether NOFILTER may be admitted.
func (s *Selector) NoFilterEnabled() bool { return s.noFilter }
