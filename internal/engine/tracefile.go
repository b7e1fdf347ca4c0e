// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citesearch/pkg/types"
)

// TraceFile is the on-disk record of one search: the query and policy, the
// result and its diagnostics. A saved search can be inspected or replayed
// later without querying providers again.
type TraceFile struct {
	Query   TraceQuery         `yaml:"query"`
	Result  types.SearchResult `yaml:"result"`
	Trace   types.Trace        `yaml:"trace"`
	Summary TraceSummary       `yaml:"summary"`
}

// TraceQuery stores the request parameters.
type TraceQuery struct {
	Text   string                `yaml:"text"`
	TopK   int                   `yaml:"top_k"`
	Policy types.SelectionPolicy `yaml:"policy"`
}

// TraceSummary stores result statistics and a timestamp.
type TraceSummary struct {
	Total          int                `yaml:"total"`
	Citeable       int                `yaml:"citeable"`
	Status         types.ResultStatus `yaml:"status"`
	ProviderIssues []string           `yaml:"provider_issues,omitempty"`
	Timestamp      time.Time          `yaml:"timestamp"`
}

// WriteTraceFile saves a search to a YAML file.
func WriteTraceFile(path string, query string, policy types.SelectionPolicy, res types.SearchResult, tr types.Trace) error {
	tf := TraceFile{
		Query:  TraceQuery{Text: query, TopK: policy.TopK, Policy: policy},
		Result: res,
		Trace:  tr,
		Summary: TraceSummary{
			Total:     len(res.Entries),
			Status:    res.Status,
			Timestamp: time.Now().UTC(),
		},
	}
	for _, e := range res.Entries {
		if e.Citeable {
			tf.Summary.Citeable++
		}
	}
	for _, p := range tr.Providers {
		switch p.Status {
		case types.StatusOK, types.StatusEmpty, types.StatusDisabled:
		default:
			tf.Summary.ProviderIssues = append(tf.Summary.ProviderIssues,
				strings.TrimSpace(fmt.Sprintf("%s/%s: %s %s", p.Phase, p.Provider, p.Status, p.Cause)))
		}
	}

	data, err := yaml.Marshal(&tf)
	if err != nil {
		return fmt.Errorf("marshaling trace file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadTraceFile loads a previously saved trace file from disk.
func ReadTraceFile(path string) (*TraceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	var tf TraceFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing trace file: %w", err)
	}
	for i := range tf.Result.Entries {
		tf.Result.Entries[i].Snippet = tf.Result.Entries[i].Snippet.Rederived()
	}
	return &tf, nil
}
