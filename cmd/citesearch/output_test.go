// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/citesearch/pkg/types"
)

func TestFormatResult(t *testing.T) {
	s := types.NewSnippet("ddg", "Python asyncio docs", "https://docs.python.org/3/library/asyncio.html", "Event loop.")
	res := types.SearchResult{
		Query: "asyncio",
		Entries: []types.Entry{{
			Text:        s.Tagged(types.StageDocs, types.CredTrusted),
			Snippet:     s,
			Stage:       types.StageDocs,
			Credibility: types.CredTrusted,
			Citeable:    true,
			Via:         types.ViaPrimary,
		}},
		Status:        types.ResultStarved,
		MinCitations:  2,
		CiteableHosts: 1,
		LadderStep:    "pool_rescue",
	}

	var buf bytes.Buffer
	formatResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "docs.python.org")
	assert.Contains(t, out, "Python asyncio docs")
	assert.Contains(t, out, "1 citeable hosts (need 2), status starved, via pool_rescue")
}

func TestFormatResultEmpty(t *testing.T) {
	var buf bytes.Buffer
	formatResult(&buf, types.SearchResult{Status: types.ResultEmptyAllSkipped})
	assert.Equal(t, "No results (empty_all_skipped).\n", buf.String())
}

func TestFormatTrace(t *testing.T) {
	tr := types.Trace{
		RequestID: "req-1",
		Elapsed:   120 * time.Millisecond,
		Providers: []types.ProviderTrace{
			{Provider: "serp", Phase: "primary", Status: types.StatusSkipped, Cause: "RATE_LIMITED: cooling down"},
		},
		Ladder: []types.LadderStepReport{
			{Step: "relax", Ran: true, Success: false, Detail: "official-only kept: high risk"},
			{Step: "extra_queries", Ran: true, Success: true, Picks: 2},
		},
	}
	var buf bytes.Buffer
	formatTrace(&buf, tr)
	out := buf.String()
	assert.Contains(t, out, "request req-1")
	assert.Contains(t, out, "RATE_LIMITED: cooling down")
	assert.Contains(t, out, "x relax")
	assert.Contains(t, out, "+ extra_queries")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "a b", clip("a \n  b", 10))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(types.LogConfig{Level: "debug", Development: true})
	assert.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger(types.LogConfig{Level: "chatty"})
	assert.Error(t, err)
}
