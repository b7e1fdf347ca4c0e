// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/citesearch/internal/engine"
	"github.com/pdiddy/citesearch/pkg/types"
)

// BatchFile is the YAML input of the batch command.
type BatchFile struct {
	// Defaults apply to every query that leaves the field unset.
	Defaults BatchQuery   `yaml:"defaults"`
	Queries  []BatchQuery `yaml:"queries"`
}

// BatchQuery is one query of a batch file.
type BatchQuery struct {
	Text          string   `yaml:"text"`
	TopK          int      `yaml:"top_k"`
	MinCitations  int      `yaml:"min_citations"`
	OfficialOnly  bool     `yaml:"official_only"`
	Pinned        bool     `yaml:"pinned"`
	HighRisk      bool     `yaml:"high_risk"`
	DomainProfile string   `yaml:"domain_profile"`
	StageOrder    []string `yaml:"stage_order"`
}

// batchLine is one JSON line of batch output.
type batchLine struct {
	Index  int                 `json:"index"`
	Query  string              `json:"query"`
	Result *types.SearchResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

var batchCmd = &cobra.Command{
	Use:   "batch <file.yaml>",
	Short: "Run every query of a YAML batch file",
	Long: `Batch reads a YAML file with a queries list (and optional defaults) and
runs the queries concurrently through one shared engine, so provider
cooldowns and the response cache carry over between them. Output is one JSON
object per line, in file order. With --out-dir each result and its trace is
also written to <out-dir>/<index>.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntP("concurrency", "c", 4, "queries in flight at once")
	batchCmd.Flags().String("out-dir", "", "directory for per-query trace files")

	rootCmd.AddCommand(batchCmd)
}

// ReadBatchFile parses a batch file and applies its defaults.
func ReadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var bf BatchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(bf.Queries) == 0 {
		return nil, fmt.Errorf("batch file %s has no queries", path)
	}
	for i := range bf.Queries {
		bf.Queries[i] = bf.Queries[i].withDefaults(bf.Defaults)
	}
	return &bf, nil
}

func (q BatchQuery) withDefaults(d BatchQuery) BatchQuery {
	if q.TopK == 0 {
		q.TopK = d.TopK
	}
	if q.MinCitations == 0 {
		q.MinCitations = d.MinCitations
	}
	if q.DomainProfile == "" {
		q.DomainProfile = d.DomainProfile
	}
	if len(q.StageOrder) == 0 {
		q.StageOrder = d.StageOrder
	}
	q.OfficialOnly = q.OfficialOnly || d.OfficialOnly
	q.Pinned = q.Pinned || d.Pinned
	q.HighRisk = q.HighRisk || d.HighRisk
	return q
}

// Policy converts the query settings into a selection policy.
func (q BatchQuery) Policy() (types.SelectionPolicy, error) {
	p := types.SelectionPolicy{
		TopK:          q.TopK,
		MinCitations:  q.MinCitations,
		OfficialOnly:  q.OfficialOnly,
		Pinned:        q.Pinned,
		HighRisk:      q.HighRisk,
		DomainProfile: q.DomainProfile,
	}
	if len(q.StageOrder) > 0 {
		order, err := types.ParseStageOrder(q.StageOrder)
		if err != nil {
			return p, err
		}
		p = p.WithRelaxed(types.WithStageOrder(order))
	}
	return p, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	outDir, _ := cmd.Flags().GetString("out-dir")

	bf, err := ReadBatchFile(args[0])
	if err != nil {
		return err
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", outDir, err)
		}
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	lines := make([]batchLine, len(bf.Queries))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(1, concurrency))
	for i, q := range bf.Queries {
		g.Go(func() error {
			line := batchLine{Index: i, Query: q.Text}
			defer func() { lines[i] = line }()

			policy, err := q.Policy()
			if err != nil {
				line.Error = err.Error()
				return nil
			}
			res, tr, err := sess.engine.SearchWithTrace(ctx, q.Text, q.TopK, policy)
			if err != nil {
				line.Error = err.Error()
				return nil
			}
			line.Result = &res
			if outDir != "" {
				policy.TopK = q.TopK
				path := filepath.Join(outDir, fmt.Sprintf("%03d.yaml", i))
				if err := engine.WriteTraceFile(path, q.Text, policy, res, tr); err != nil {
					return err
				}
			}
			logger.Info("batch query done",
				zap.Int("index", i),
				zap.String("status", string(res.Status)),
				zap.Int("entries", len(res.Entries)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, l := range lines {
		if l.Error != "" {
			failed++
		}
		if err := writeJSONLine(os.Stdout, l); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d queries failed: %s", failed, len(lines), strings.TrimSpace(firstError(lines)))
	}
	return nil
}

func firstError(lines []batchLine) string {
	for _, l := range lines {
		if l.Error != "" {
			return l.Error
		}
	}
	return ""
}
