// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// MaxSubQuestions bounds how many sub-questions a plan covers.
const MaxSubQuestions = 5

// clauseSep splits a compound question into its clauses.
var clauseSep = regexp.MustCompile(`\?\s*|;\s*|\n+`)

// Manager plans the research, reports progress, and synthesizes the final
// report once every task is done.
type Manager struct {
	Logger *zap.Logger
}

// Handle runs one manager step. An empty plan is planned; a run whose tasks
// are all complete, or that evaluation marked ready for reporting, is
// synthesized; anything else gets a progress note.
func (m *Manager) Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logging.OrNop(m.Logger).With(logging.RunID(s.ID), logging.Stage(types.StageManager))

	switch {
	case len(s.Tasks) == 0:
		plan(s)
		log.Info("research plan created",
			zap.Int("sub_questions", len(s.SubQuestions)),
			zap.Int("tasks", len(s.Tasks)))

	case s.Status == types.StatusReporting || s.AllTasksCompleted():
		if err := synthesize(s); err != nil {
			return nil, err
		}
		log.Info("final report synthesized", zap.Int("sources", len(s.Sources)))

	default:
		note(s, types.StageManager, AgentManager,
			fmt.Sprintf("Research in progress. Completed %d/%d tasks.", s.Completed.Len(), len(s.Tasks)),
			ToolWorkflow)
	}
	return s, nil
}

// Decompose splits a research question into at most MaxSubQuestions
// sub-questions. A question with a single clause is its own sub-question.
func Decompose(question string) []string {
	var parts []string
	for _, p := range clauseSep.Split(question, -1) {
		p = strings.Trim(strings.TrimSpace(p), ".,;:")
		if len(strings.Fields(p)) >= 3 {
			parts = append(parts, p+"?")
		}
	}
	if len(parts) < 2 {
		return []string{strings.TrimSpace(question)}
	}
	return parts[:min(len(parts), MaxSubQuestions)]
}

// Plan returns one retrieve, analyze, and evaluate task per sub-question
// followed by a report task that depends on all of them.
func Plan(subQuestions []string) []types.Task {
	var tasks []types.Task
	add := func(t types.StageType, desc string) {
		tasks = append(tasks, types.Task{
			ID:          uuid.NewString(),
			Type:        t,
			Description: desc,
			Priority:    len(tasks) + 1,
		})
	}
	for _, q := range subQuestions {
		add(types.TaskRetrieve, retrievePrefix+q)
		add(types.TaskAnalyze, analyzePrefix+q)
		add(types.TaskEvaluate, evaluatePrefix+q)
	}

	deps := make([]string, len(tasks))
	for i, t := range tasks {
		deps[i] = t.ID
	}
	tasks = append(tasks, types.Task{
		ID:          uuid.NewString(),
		Type:        types.TaskReport,
		Description: reportTaskText,
		Priority:    len(tasks) + 1,
		DependsOn:   deps,
	})
	return tasks
}

func plan(s *types.ResearchState) {
	if len(s.SubQuestions) == 0 {
		s.SubQuestions = Decompose(s.Question)
	}
	s.Tasks = Plan(s.SubQuestions)
	s.Status = types.StatusResearching
	note(s, types.StageManager, AgentManager,
		fmt.Sprintf("Research plan created with %d sub-questions and %d tasks.", len(s.SubQuestions), len(s.Tasks)),
		ToolPlanning, ToolWorkflow)
}

func synthesize(s *types.ResearchState) error {
	if s.Report == "" {
		report, err := composeReport(s)
		if err != nil {
			return err
		}
		s.Summary = composeSummary(s)
		s.Report = report
	}
	s.Draft = ""
	s.Status = types.StatusComplete
	note(s, types.StageManager, AgentManager, "Final research report generated.", ToolSynthesis)
	return nil
}
