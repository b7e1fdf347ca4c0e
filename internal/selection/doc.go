// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package selection turns classified candidates into an ordered, stage-tagged
// result list. Select walks stages in policy order and candidates in arrival
// order, keeps dedup keys unique and enforces host diversity among citeable
// picks until the citation floor is met. A bounded citeable top-up then tries
// to close a remaining floor gap. Every candidate leaves a decision trail.
//
// A Selector is immutable and safe for concurrent use; every call builds a
// fresh Selection.
package selection
