// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fallback implements the starvation ladder run when a selection is
// empty or below its citation floor. Steps run in a fixed order and each is
// switched by configuration:
//
//  1. relax: drop the domain profile, then OfficialOnly when allowed
//  2. extra_queries: alternate phrasings raced live under a small budget
//  3. cache_rescue: normalized probe variants answered from provider caches
//  4. pool_rescue: unselected admissible candidates of this request
//  5. demotion: force-admit the best candidate of the most trusted stage
//
// The first attempt that is non-empty and meets the floor ends the ladder.
// Otherwise the best selection so far is carried forward. A quality gate
// then checks rescued output for an all-UNVERIFIED result.
package fallback
