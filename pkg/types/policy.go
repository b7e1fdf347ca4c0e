// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "slices"

// SelectionPolicy is the request-scoped, read-only policy the engine selects
// under. Fallback sub-attempts derive modified copies with WithRelaxed; a
// policy value is never changed in place.
type SelectionPolicy struct {
	// TopK is the requested number of results. Selection targets max(1, TopK).
	TopK int `json:"top_k" yaml:"top_k"`

	// MinCitations is the number of distinct-host citeable entries required.
	MinCitations int `json:"min_citations" yaml:"min_citations"`

	// OfficialOnly restricts admissible stages to official/trusted sources.
	OfficialOnly bool `json:"official_only" yaml:"official_only"`

	// DomainProfile names a domain profile whose membership lists feed the
	// classifier (and filter candidates while OfficialOnly is set).
	DomainProfile string `json:"domain_profile,omitempty" yaml:"domain_profile,omitempty"`

	// HighRisk marks sensitive requests whose OfficialOnly must never be relaxed.
	HighRisk bool `json:"high_risk" yaml:"high_risk"`

	// Pinned marks an OfficialOnly the caller explicitly pinned; it is never relaxed.
	Pinned bool `json:"pinned" yaml:"pinned"`

	// AdmitNoFilterSafe admits NOFILTER_SAFE even while OfficialOnly is set.
	// Only fallback relaxation sets it.
	AdmitNoFilterSafe bool `json:"admit_nofilter_safe,omitempty" yaml:"admit_nofilter_safe,omitempty"`

	// StageOrder overrides the configured stage preference order.
	StageOrder []Stage `json:"stage_order,omitempty" yaml:"stage_order,omitempty"`
}

// Relaxation modifies a policy copy. See SelectionPolicy.WithRelaxed.
type Relaxation func(*SelectionPolicy)

// DropDomainProfile clears the domain profile.
func DropDomainProfile() Relaxation {
	return func(p *SelectionPolicy) { p.DomainProfile = "" }
}

// DropOfficialOnly clears OfficialOnly and admits NOFILTER_SAFE.
func DropOfficialOnly() Relaxation {
	return func(p *SelectionPolicy) {
		p.OfficialOnly = false
		p.AdmitNoFilterSafe = true
	}
}

// WithStageOrder sets an explicit stage order.
func WithStageOrder(order []Stage) Relaxation {
	return func(p *SelectionPolicy) { p.StageOrder = slices.Clone(order) }
}

// WithRelaxed returns a new policy with the relaxations applied. The receiver
// is left untouched, including its StageOrder backing array.
func (p SelectionPolicy) WithRelaxed(relax ...Relaxation) SelectionPolicy {
	out := p
	out.StageOrder = slices.Clone(p.StageOrder)
	for _, r := range relax {
		r(&out)
	}
	return out
}

// Target returns the number of entries selection aims for: max(1, TopK).
func (p SelectionPolicy) Target() int {
	return max(1, p.TopK)
}

// Relaxable reports whether OfficialOnly may be dropped by the fallback ladder.
func (p SelectionPolicy) Relaxable() bool {
	return p.OfficialOnly && !p.HighRisk && !p.Pinned
}

// Order returns the effective stage order: StageOrder when set, otherwise
// fallback.
func (p SelectionPolicy) Order(fallback []Stage) []Stage {
	if len(p.StageOrder) > 0 {
		return p.StageOrder
	}
	if len(fallback) > 0 {
		return fallback
	}
	return DefaultStageOrder
}

// Admits reports whether stage may appear in the output under this policy.
// NOFILTER additionally requires the no-filter stage to be enabled.
func (p SelectionPolicy) Admits(stage Stage, noFilterEnabled bool) bool {
	switch stage {
	case StageOfficial, StageDocs, StageDevCommunity, StageProfileBoost:
		return true
	case StageNoFilterSafe:
		return !p.OfficialOnly || p.AdmitNoFilterSafe
	case StageNoFilter:
		return noFilterEnabled && (!p.OfficialOnly || p.AdmitNoFilterSafe)
	default:
		return false
	}
}
