// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-orchestrator/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Query the academic search backends directly",
	Long: `Search sends one query to the enabled backends (arXiv, OpenAlex),
merges duplicates and prints the ranked results. It is the same search
the retrieval stage runs for every sub-question.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("keywords", "", "filter by keywords (comma-separated)")
	searchCmd.Flags().Int("max-results", 0, "maximum number of results to return (default from config)")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := search.Query{FreeText: strings.Join(args, " ")}
	if kw, _ := cmd.Flags().GetString("keywords"); kw != "" {
		for k := range strings.SplitSeq(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				q.Keywords = append(q.Keywords, k)
			}
		}
	}
	if q.IsEmpty() {
		return fmt.Errorf("query required: provide search terms or --keywords")
	}
	if n, _ := cmd.Flags().GetInt("max-results"); n > 0 {
		cfg.Search.MaxResults = n
	}

	client := &http.Client{Timeout: cfg.Search.Timeout}
	backends := search.DefaultBackends(cfg.Search, client)
	if len(backends) == 0 {
		return fmt.Errorf("no search backends enabled")
	}
	out, err := search.NewSearcher(cfg.Search, logger, backends...).Search(cmd.Context(), q)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(w, out)
	}

	if len(out.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	fmt.Fprintf(w, "%-4s  %-5s  %-9s  %-60s  %s\n", "Rank", "Score", "Backend", "Title", "URL")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for i, r := range out.Results {
		title := r.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		fmt.Fprintf(w, "%-4d  %.2f   %-9s  %-60s  %s\n", i+1, r.Score, r.Backend, title, r.URL)
	}
	fmt.Fprintf(w, "\n%d results (%d duplicates removed)\n", len(out.Results), out.DupsRemoved)
	for _, msg := range out.BackendErrors {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
	}
	return nil
}
