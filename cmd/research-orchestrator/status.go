// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-orchestrator/internal/store"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// --- status subcommand ---

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show progress and results of a research run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := st.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	rs := types.NewRunStatus(s, time.Now())

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(cmd.OutOrStdout(), rs)
	}
	printStatus(cmd.OutOrStdout(), rs)
	return nil
}

func printStatus(w io.Writer, rs types.RunStatus) {
	fmt.Fprintf(w, "Run:       %s\n", rs.RunID)
	fmt.Fprintf(w, "Question:  %s\n", rs.Question)
	fmt.Fprintf(w, "Status:    %s\n", rs.Status)
	fmt.Fprintf(w, "Tasks:     %d/%d (%.0f%%)\n", rs.CompletedTasks, rs.TotalTasks, rs.Progress*100)
	if !rs.EstimatedDone.IsZero() {
		fmt.Fprintf(w, "Estimate:  %s\n", rs.EstimatedDone.Format(time.RFC3339))
	}
	if rs.Result == nil {
		return
	}
	fmt.Fprintf(w, "Summary:   %s\n", rs.Result.Summary)
	if len(rs.Result.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for i, src := range rs.Result.Sources {
			fmt.Fprintf(w, "  [%d] %s  %s\n", i+1, src.Title, src.URL)
		}
	}
}

// --- messages subcommand ---

var messagesCmd = &cobra.Command{
	Use:   "messages <run-id>",
	Short: "Print the message log of a research run",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessages,
}

func runMessages(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	msgs, err := st.Messages(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(w, msgs)
	}
	for _, m := range msgs {
		who := string(m.Kind)
		if m.Stage != "" {
			who += "/" + string(m.Stage)
		}
		fmt.Fprintf(w, "%s  %-20s  %s\n", m.Timestamp.Format(time.TimeOnly), who, firstLine(m.Content))
	}
	return nil
}

// --- list subcommand ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored research runs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	fmt.Fprintf(w, "%-26s  %-11s  %-7s  %-20s  %s\n", "ID", "Status", "Tasks", "Updated", "Question")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, r := range runs {
		question := r.Question
		if len(question) > 40 {
			question = question[:37] + "..."
		}
		fmt.Fprintf(w, "%-26s  %-11s  %3d/%-3d  %-20s  %s\n",
			r.ID, r.Status, r.CompletedTasks, r.TotalTasks, r.UpdatedAt.Format(time.DateTime), question)
	}
	fmt.Fprintf(w, "\n%d runs\n", len(runs))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, messagesCmd, listCmd} {
		c.Flags().Bool("json", false, "output as JSON")
		rootCmd.AddCommand(c)
	}
}
