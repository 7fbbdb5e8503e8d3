// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/approval"
	"github.com/pdiddy/research-orchestrator/internal/handlers"
	"github.com/pdiddy/research-orchestrator/internal/orchestrator"
	"github.com/pdiddy/research-orchestrator/internal/search"
	"github.com/pdiddy/research-orchestrator/internal/service"
	"github.com/pdiddy/research-orchestrator/internal/store"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Research a question from planning to final report",
	Long: `Run creates a research run for the question and drives it until the
report is written, the run stalls for good, or the iteration budget is
spent. Every iteration is stored, so the run can be inspected with status
and messages while or after it runs.

Critical stages (by default report generation) and sensitive outputs
(evaluation and report) ask for approval on the terminal unless
--approval is auto or deny.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("depth", "standard", "research depth: quick, standard, or deep")
	runCmd.Flags().Int("max-iterations", 0, "iteration budget (default derived from --depth)")
	runCmd.Flags().String("approval", "", "approval mode: console, auto, or deny (default from config)")
	runCmd.Flags().Bool("follow", false, "print every snapshot while the run progresses")
	runCmd.Flags().Bool("offline", false, "do not query search backends")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	depthFlag, _ := cmd.Flags().GetString("depth")
	depth, err := types.ParseDepth(depthFlag)
	if err != nil {
		return err
	}
	maxIter, _ := cmd.Flags().GetInt("max-iterations")
	mode, _ := cmd.Flags().GetString("approval")
	if mode != "" {
		cfg.Approval.Mode = types.ApprovalMode(mode)
	}
	follow, _ := cmd.Flags().GetBool("follow")
	offline, _ := cmd.Flags().GetBool("offline")

	ch, err := approvalChannel(cfg.Approval.Mode, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	var searcher handlers.Searcher
	if !offline {
		client := &http.Client{Timeout: cfg.Search.Timeout}
		if backends := search.DefaultBackends(cfg.Search, client); len(backends) > 0 {
			searcher = search.NewSearcher(cfg.Search, logger, backends...)
		}
	}

	reg := orchestrator.NewRegistry()
	handlers.Register(reg, handlers.Deps{Searcher: searcher, Logger: logger})

	orch := orchestrator.New(reg,
		orchestrator.WithGate(approval.NewGateFromConfig(ch, cfg.Approval, logger)),
		orchestrator.WithLogger(logger),
		orchestrator.WithStallThresholds(cfg.Orchestrator.StallRecoverAfter, cfg.Orchestrator.StallTerminateAfter),
	)

	opts := []service.Option{service.WithLogger(logger)}
	if maxIter > 0 {
		opts = append(opts, service.WithMaxIterations(maxIter))
	}
	svc := service.New(st, orch, opts...)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	final, runErr := execute(ctx, svc, question, depth, follow, out)
	if final == nil {
		return runErr
	}

	fmt.Fprintln(out)
	printStatus(out, types.NewRunStatus(final, final.UpdatedAt))
	if final.Report != "" {
		fmt.Fprintf(out, "\n%s\n", final.Report)
	}
	logMetrics(orch.Metrics().Snapshot())
	return runErr
}

// execute drives one run, streaming snapshots to w when follow is set.
func execute(ctx context.Context, svc *service.Service, question string, depth types.Depth, follow bool, w io.Writer) (*types.ResearchState, error) {
	if !follow {
		return svc.Run(ctx, question, depth)
	}

	id, err := svc.Start(ctx, question, depth)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "Started run %s\n", id)

	snaps, unsubscribe := svc.Subscribe(id)
	defer unsubscribe()
	for s := range snaps {
		printSnapshot(w, s)
	}
	return svc.Wait(ctx, id)
}

// approvalChannel returns the channel selected by mode.
func approvalChannel(mode types.ApprovalMode, in io.Reader, out io.Writer) (approval.Channel, error) {
	switch mode {
	case types.ApprovalConsole, "":
		return approval.NewConsoleChannel(in, out), nil
	case types.ApprovalAuto:
		return approval.AutoChannel{}, nil
	case types.ApprovalDeny:
		return approval.DenyChannel{}, nil
	}
	return nil, fmt.Errorf("unknown approval mode %q: use console, auto, or deny", mode)
}

func printSnapshot(w io.Writer, s *types.ResearchState) {
	last := ""
	if n := len(s.Messages); n > 0 {
		last = s.Messages[n-1].Content
	}
	fmt.Fprintf(w, "  [%-11s] %d/%d tasks  %s\n", s.Status, s.Completed.Len(), len(s.Tasks), firstLine(last))
}

func logMetrics(m orchestrator.MetricsSnapshot) {
	fields := []zap.Field{
		zap.Int("iterations", m.Iterations),
		zap.Int("recoveries", m.Recoveries),
		zap.Int("terminations", m.Terminations),
		zap.Any("tools", m.Tools),
	}
	for stage, sm := range m.Stages {
		fields = append(fields, zap.Dict(string(stage),
			zap.Int("invocations", sm.Invocations),
			zap.Int("errors", sm.Errors),
			zap.Int("skipped", sm.Skipped),
			zap.Int("rejections", sm.Rejections),
			zap.Duration("duration", sm.Duration),
		))
	}
	logger.Debug("run metrics", fields...)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
