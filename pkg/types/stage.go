// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// Stage is the trust-tier bucket a snippet is classified into, by origin type.
// The numeric order is the default preference order (most trusted first).
type Stage int

const (
	StageOfficial Stage = iota
	StageDocs
	StageDevCommunity
	StageProfileBoost
	StageNoFilterSafe
	StageNoFilter
)

var stageNames = [...]string{
	StageOfficial:     "OFFICIAL",
	StageDocs:         "DOCS",
	StageDevCommunity: "DEV_COMMUNITY",
	StageProfileBoost: "PROFILEBOOST",
	StageNoFilterSafe: "NOFILTER_SAFE",
	StageNoFilter:     "NOFILTER",
}

// DefaultStageOrder lists every stage from most to least trusted.
var DefaultStageOrder = []Stage{
	StageOfficial,
	StageDocs,
	StageDevCommunity,
	StageProfileBoost,
	StageNoFilterSafe,
	StageNoFilter,
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("STAGE(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s >= StageOfficial && s <= StageNoFilter
}

// Citeable reports whether entries of this stage may count toward a
// minimum-citation requirement.
func (s Stage) Citeable() bool {
	return s == StageOfficial || s == StageDocs || s == StageDevCommunity
}

// ParseStage parses a stage name case-insensitively. Hyphens are accepted in
// place of underscores.
func ParseStage(name string) (Stage, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	for i, s := range stageNames {
		if s == n {
			return Stage(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	v, ok := ParseStage(string(text))
	if !ok {
		return fmt.Errorf("unknown stage %q", string(text))
	}
	*s = v
	return nil
}

// ParseStageOrder parses a list of stage names. Unknown names are an error.
func ParseStageOrder(names []string) ([]Stage, error) {
	order := make([]Stage, 0, len(names))
	for _, n := range names {
		s, ok := ParseStage(n)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", n)
		}
		order = append(order, s)
	}
	return order, nil
}

// Credibility classifies how trustworthy a result is, independent of stage.
type Credibility int

const (
	CredOfficial Credibility = iota
	CredTrusted
	CredCommunity
	CredUnverified
)

var credNames = [...]string{
	CredOfficial:   "OFFICIAL",
	CredTrusted:    "TRUSTED",
	CredCommunity:  "COMMUNITY",
	CredUnverified: "UNVERIFIED",
}

func (c Credibility) String() string {
	if c < 0 || int(c) >= len(credNames) {
		return fmt.Sprintf("CRED(%d)", int(c))
	}
	return credNames[c]
}

// ParseCredibility parses a credibility name case-insensitively.
func ParseCredibility(name string) (Credibility, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i, c := range credNames {
		if c == n {
			return Credibility(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (c Credibility) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Credibility) UnmarshalText(text []byte) error {
	v, ok := ParseCredibility(string(text))
	if !ok {
		return fmt.Errorf("unknown credibility %q", string(text))
	}
	*c = v
	return nil
}
