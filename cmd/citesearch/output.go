// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pdiddy/citesearch/pkg/types"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatResult prints a result table followed by a one-line summary.
func formatResult(w io.Writer, res types.SearchResult) {
	if res.Empty() {
		fmt.Fprintf(w, "No results (%s).\n", res.Status)
		return
	}

	fmt.Fprintf(w, "%-4s  %-15s  %-10s  %-4s  %-30s  %s\n",
		"Rank", "Stage", "Cred", "Cite", "Host", "Title")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, e := range res.Entries {
		cite := ""
		if e.Citeable {
			cite = "yes"
		}
		title := e.Snippet.Title
		if title == "" {
			title = e.Snippet.Text
		}
		fmt.Fprintf(w, "%-4d  %-15s  %-10s  %-4s  %-30s  %s\n",
			i+1, e.Stage, e.Credibility, cite, clip(e.Snippet.Host, 30), clip(title, 40))
	}

	fmt.Fprintf(w, "\n%d results, %d citeable hosts (need %d), status %s",
		len(res.Entries), res.CiteableHosts, res.MinCitations, res.Status)
	if res.LadderStep != "" {
		fmt.Fprintf(w, ", via %s", res.LadderStep)
	}
	if res.NeedsLiveQuery {
		fmt.Fprint(w, ", live query recommended")
	}
	fmt.Fprintln(w)
}

// formatTrace prints the provider outcomes and ladder steps of a trace.
func formatTrace(w io.Writer, tr types.Trace) {
	fmt.Fprintf(w, "\nrequest %s, %s\n", tr.RequestID, tr.Elapsed)
	fmt.Fprintf(w, "%-12s  %-16s  %-15s  %5s  %-10s  %s\n",
		"Phase", "Provider", "Status", "Count", "Elapsed", "Cause")
	for _, p := range tr.Providers {
		fmt.Fprintf(w, "%-12s  %-16s  %-15s  %5d  %-10s  %s\n",
			p.Phase, clip(p.Provider, 16), p.Status, p.Count, p.Elapsed.Round(time.Millisecond), clip(p.Cause, 50))
	}
	if len(tr.Ladder) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, l := range tr.Ladder {
		mark := "-"
		switch {
		case l.Success:
			mark = "+"
		case l.Ran:
			mark = "x"
		}
		fmt.Fprintf(w, "%s %-14s picks=%d  %s\n", mark, l.Step, l.Picks, l.Detail)
	}
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
