// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/citesearch/internal/engine"
	"github.com/pdiddy/citesearch/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the configured providers for citeable results",
	Long: `Search races the query across all enabled providers, classifies the
results and prints them in stage order. Entries are tagged [STAGE|CRED:X] in
JSON output so downstream tools can recover the classification.

--min-citations sets how many distinct citeable hosts the answer must carry.
--official-only restricts the answer to official and trusted sources; the
fallback ladder may still relax it unless --pin or --high-risk is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntP("top-k", "k", 5, "number of results to return")
	searchCmd.Flags().IntP("min-citations", "m", 1, "distinct citeable hosts required")
	searchCmd.Flags().Bool("official-only", false, "admit official and trusted sources only")
	searchCmd.Flags().Bool("pin", false, "never relax --official-only")
	searchCmd.Flags().Bool("high-risk", false, "mark the query as sensitive; --official-only is kept")
	searchCmd.Flags().String("profile", "", "domain profile from the rules (e.g. python)")
	searchCmd.Flags().StringSlice("stage-order", nil, "override the stage preference order")
	searchCmd.Flags().Bool("json", false, "output the result as JSON")
	searchCmd.Flags().Bool("trace", false, "print provider outcomes and ladder steps")
	searchCmd.Flags().String("save", "", "write result and trace to this YAML file")

	rootCmd.AddCommand(searchCmd)
}

func policyFromFlags(cmd *cobra.Command) (types.SelectionPolicy, error) {
	minCitations, _ := cmd.Flags().GetInt("min-citations")
	officialOnly, _ := cmd.Flags().GetBool("official-only")
	pinned, _ := cmd.Flags().GetBool("pin")
	highRisk, _ := cmd.Flags().GetBool("high-risk")
	profile, _ := cmd.Flags().GetString("profile")
	order, _ := cmd.Flags().GetStringSlice("stage-order")

	p := types.SelectionPolicy{
		MinCitations:  minCitations,
		OfficialOnly:  officialOnly,
		Pinned:        pinned,
		HighRisk:      highRisk,
		DomainProfile: profile,
	}
	if len(order) > 0 {
		stages, err := types.ParseStageOrder(order)
		if err != nil {
			return p, err
		}
		p = p.WithRelaxed(types.WithStageOrder(stages))
	}
	return p, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	topK, _ := cmd.Flags().GetInt("top-k")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	showTrace, _ := cmd.Flags().GetBool("trace")
	savePath, _ := cmd.Flags().GetString("save")

	policy, err := policyFromFlags(cmd)
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	res, tr, err := sess.engine.SearchWithTrace(cmd.Context(), query, topK, policy)
	if err != nil {
		return err
	}

	if savePath != "" {
		policy.TopK = topK
		if err := engine.WriteTraceFile(savePath, query, policy, res, tr); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved to %s\n", savePath)
	}

	if jsonOutput {
		if showTrace {
			return writeJSON(os.Stdout, struct {
				Result types.SearchResult `json:"result"`
				Trace  types.Trace        `json:"trace"`
			}{res, tr})
		}
		return writeJSON(os.Stdout, res)
	}

	formatResult(os.Stdout, res)
	if showTrace {
		formatTrace(os.Stdout, tr)
	}
	return nil
}
