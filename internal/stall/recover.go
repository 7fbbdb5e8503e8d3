// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stall

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Recover applies the corrective action for a stalled state and describes
// what it did. An empty plan is replaced by the default plan; a plan with
// retrieve tasks but no sources gets placeholder sources. It returns false
// when neither applies.
func Recover(s *types.ResearchState) (string, bool) {
	switch {
	case len(s.Tasks) == 0:
		if len(s.SubQuestions) == 0 {
			s.SubQuestions = []string{s.Question}
		}
		s.Tasks = DefaultPlan(s.Question)
		s.Status = types.StatusResearching
		msg := "Created a default research plan after the run stalled during planning."
		s.AddMessage(types.KindSystem, "", msg)
		return msg, true

	case len(s.Sources) == 0 && s.HasTaskType(types.TaskRetrieve):
		s.Sources = PlaceholderSources(s.Question, time.Now())
		msg := "Added placeholder sources because retrieval produced none."
		s.AddMessage(types.KindSystem, "", msg)
		return msg, true
	}
	return "", false
}

// DefaultPlan returns the four-task plan used when planning stalls: one task
// per work stage, with the report depending on the other three.
func DefaultPlan(question string) []types.Task {
	retrieve := types.Task{
		ID:          uuid.NewString(),
		Type:        types.TaskRetrieve,
		Description: "Find information about: " + question,
		Priority:    1,
	}
	analyze := types.Task{
		ID:          uuid.NewString(),
		Type:        types.TaskAnalyze,
		Description: "Analyze information about: " + question,
		Priority:    2,
	}
	evaluate := types.Task{
		ID:          uuid.NewString(),
		Type:        types.TaskEvaluate,
		Description: "Evaluate information about: " + question,
		Priority:    3,
	}
	report := types.Task{
		ID:          uuid.NewString(),
		Type:        types.TaskReport,
		Description: "Generate final research report",
		Priority:    4,
		DependsOn:   []string{retrieve.ID, analyze.ID, evaluate.ID},
	}
	return []types.Task{retrieve, analyze, evaluate, report}
}

// PlaceholderSources returns the two generic sources substituted when
// retrieval found nothing.
func PlaceholderSources(question string, now time.Time) []types.Source {
	return []types.Source{
		{
			Index:       0,
			Title:       "General information about " + question,
			URL:         "https://example.com/general-info",
			Type:        "placeholder",
			Credibility: 5,
			Summary:     fmt.Sprintf("This source provides general information about %s.", question),
			RetrievedAt: now,
		},
		{
			Index:       1,
			Title:       "Research studies on " + question,
			URL:         "https://example.com/research",
			Type:        "placeholder",
			Credibility: 9,
			Summary: fmt.Sprintf("This academic source compiles recent studies related to %s, "+
				"highlighting major findings and methodologies.", question),
			RetrievedAt: now,
		},
	}
}
