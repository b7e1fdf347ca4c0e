// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"time"
)

// ProviderStatus describes how one provider call ended.
type ProviderStatus string

const (
	StatusOK             ProviderStatus = "ok"
	StatusEmpty          ProviderStatus = "empty"
	StatusFailed         ProviderStatus = "failed"
	StatusRateLimited    ProviderStatus = "rate_limited"
	StatusTimeout        ProviderStatus = "timeout"
	StatusAwaitTimeout   ProviderStatus = "await_timeout"
	StatusCancelled      ProviderStatus = "cancelled"
	StatusSkipped        ProviderStatus = "skipped"
	StatusDisabled       ProviderStatus = "disabled"
	StatusLocalThrottled ProviderStatus = "local_throttled"
)

// RaceOutcome is the per-provider result of one race.
type RaceOutcome struct {
	Provider string         `json:"provider" yaml:"provider"`
	Snippets []Snippet      `json:"-" yaml:"-"`
	Count    int            `json:"count" yaml:"count"`
	Status   ProviderStatus `json:"status" yaml:"status"`
	Elapsed  time.Duration  `json:"elapsed" yaml:"elapsed"`

	// Cause explains SKIPPED / AWAIT_TIMEOUT / failure statuses.
	Cause string `json:"cause,omitempty" yaml:"cause,omitempty"`
	Err   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Via records how an entry entered the output. Only ViaPrimary entries obey
// strict stage ordering; the others are tagged insertions.
type Via string

const (
	ViaPrimary     Via = "primary"
	ViaTopUp       Via = "topup"
	ViaRescue      Via = "rescue"
	ViaDemotion    Via = "demotion"
	ViaQualityGate Via = "quality_gate"
)

// Entry is one element of a SearchResult.
type Entry struct {
	// Text is the tagged string handed to downstream consumers.
	Text        string      `json:"text" yaml:"text"`
	Snippet     Snippet     `json:"snippet" yaml:"snippet"`
	Stage       Stage       `json:"stage" yaml:"stage"`
	Credibility Credibility `json:"credibility" yaml:"credibility"`
	Citeable    bool        `json:"citeable" yaml:"citeable"`
	Via         Via         `json:"via" yaml:"via"`
}

// ResultStatus summarizes the overall outcome of a search.
type ResultStatus string

const (
	ResultOK ResultStatus = "ok"
	// ResultStarved means output exists but the citation floor is unmet.
	ResultStarved ResultStatus = "starved"
	// ResultDegraded means the output came from the demotion net.
	ResultDegraded ResultStatus = "degraded"
	// ResultEmptyNoResults means providers ran and nothing usable was found.
	ResultEmptyNoResults ResultStatus = "empty_no_results"
	// ResultEmptyAllSkipped means every provider was skipped or disabled.
	ResultEmptyAllSkipped ResultStatus = "empty_all_skipped"
)

// SearchResult is the final ordered, stage-tagged list for one call. It is
// built fresh per call and not modified after return.
type SearchResult struct {
	RequestID      string       `json:"request_id" yaml:"request_id"`
	Query          string       `json:"query" yaml:"query"`
	Entries        []Entry      `json:"entries" yaml:"entries"`
	Status         ResultStatus `json:"status" yaml:"status"`
	MinCitations   int          `json:"min_citations" yaml:"min_citations"`
	CiteableHosts  int          `json:"citeable_hosts" yaml:"citeable_hosts"`
	FloorMet       bool         `json:"floor_met" yaml:"floor_met"`
	NeedsLiveQuery bool         `json:"needs_live_query,omitempty" yaml:"needs_live_query,omitempty"`

	// LadderStep names the fallback step that produced the output, if any.
	LadderStep string `json:"ladder_step,omitempty" yaml:"ladder_step,omitempty"`
}

// Strings returns the tagged entry texts in order.
func (r SearchResult) Strings() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Text
	}
	return out
}

// Empty reports whether the result has no entries.
func (r SearchResult) Empty() bool { return len(r.Entries) == 0 }

// ProviderTrace is the per-provider diagnostic record of a search.
type ProviderTrace struct {
	Provider string         `json:"provider" yaml:"provider"`
	Phase    string         `json:"phase" yaml:"phase"`
	Status   ProviderStatus `json:"status" yaml:"status"`
	Elapsed  time.Duration  `json:"elapsed" yaml:"elapsed"`
	Count    int            `json:"count" yaml:"count"`
	Cause    string         `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// LadderStepReport records one fallback ladder step.
type LadderStepReport struct {
	Step    string `json:"step" yaml:"step"`
	Ran     bool   `json:"ran" yaml:"ran"`
	Success bool   `json:"success" yaml:"success"`
	Picks   int    `json:"picks" yaml:"picks"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// TrailEntry is one step of a candidate's selection decision trail.
type TrailEntry struct {
	Key    string `json:"key" yaml:"key"`
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	Stage  Stage  `json:"stage" yaml:"stage"`
	Action string `json:"action" yaml:"action"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Trace carries the diagnostics of one search call.
type Trace struct {
	RequestID string             `json:"request_id" yaml:"request_id"`
	Providers []ProviderTrace    `json:"providers" yaml:"providers"`
	Ladder    []LadderStepReport `json:"ladder,omitempty" yaml:"ladder,omitempty"`
	Trail     []TrailEntry       `json:"trail,omitempty" yaml:"trail,omitempty"`
	Elapsed   time.Duration      `json:"elapsed" yaml:"elapsed"`
}
