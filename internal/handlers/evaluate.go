// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handlers

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// SufficientScore is the overall score at which the gathered information
// is considered enough to report on.
const SufficientScore = 5.0

// Evaluator assesses the extracted information as a whole.
type Evaluator struct{}

// Handle works on the first pending evaluation task. It needs extracted
// information; without it the task stays pending. A sufficient evaluation
// moves the run to reporting once no evaluation task remains.
func (e *Evaluator) Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task, ok := firstPending(s, types.TaskEvaluate)
	if !ok {
		note(s, types.StageEvaluate, AgentEvaluator, "No pending evaluation tasks.")
		return s, nil
	}
	if len(s.Extracted) == 0 {
		note(s, types.StageEvaluate, AgentEvaluator, "No extracted information available for evaluation.")
		return s, nil
	}

	ev := Evaluate(s)
	s.Evaluation = &ev
	s.CompleteTask(task.ID)
	if ev.Sufficient && len(s.PendingTasks(types.TaskEvaluate)) == 0 {
		s.Status = types.StatusReporting
	}

	verdict := "Additional research needed."
	if ev.Sufficient {
		verdict = "Information is sufficient."
	}
	note(s, types.StageEvaluate, AgentEvaluator,
		fmt.Sprintf("Evaluation completed. Overall score: %.1f/10. %s", Overall(ev), verdict),
		ToolScoring)
	return s, nil
}

// Evaluate scores the state's extracted information on a 1-10 scale.
// Quality is the mean source credibility, comprehensiveness grows with the
// number of analyzed sources, and consistency drops for every placeholder
// or fallback source.
func Evaluate(s *types.ResearchState) types.EvaluationSummary {
	ev := types.EvaluationSummary{}

	var credibility float64
	weak := 0
	for _, src := range s.Sources {
		credibility += src.Credibility
		if src.Type != "paper" {
			weak++
		}
	}
	if len(s.Sources) > 0 {
		ev.Quality = clampScore(int(math.Round(credibility / float64(len(s.Sources)))))
	} else {
		ev.Quality = 1
	}
	ev.Comprehensiveness = clampScore(2 * len(s.Extracted))
	ev.Consistency = clampScore(10 - 2*weak)
	ev.Sufficient = Overall(ev) >= SufficientScore

	if weak > 0 {
		ev.Limitations = append(ev.Limitations,
			fmt.Sprintf("%d of %d sources are general or placeholder references", weak, len(s.Sources)))
	}
	if len(s.Sources) < 3 {
		ev.Limitations = append(ev.Limitations, "Few sources were available")
	}
	for _, task := range s.IncompleteTasks() {
		if task.Type == types.TaskAnalyze {
			ev.Gaps = append(ev.Gaps, topic(task, s.Question))
		}
	}
	ev.Notes = fmt.Sprintf("Based on %d sources and %d analyses.", len(s.Sources), len(s.Extracted))
	if len(ev.Gaps) > 0 {
		ev.Notes += " Open topics: " + strings.Join(ev.Gaps, "; ") + "."
	}
	return ev
}

// Overall is the mean of the three scores.
func Overall(ev types.EvaluationSummary) float64 {
	return float64(ev.Quality+ev.Comprehensiveness+ev.Consistency) / 3
}

func clampScore(n int) int {
	return min(max(n, 1), 10)
}
