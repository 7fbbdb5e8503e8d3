// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package handlers provides the default stage handlers: the research
// manager, retrieval, analysis, evaluation, and report generation. Each
// handler reads a research state, works on the first task of its type,
// and returns the updated state. Handlers never see the approval gate or
// the stall controller; the orchestrator treats them as opaque.
package handlers

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/orchestrator"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Agent names recorded in message metadata.
const (
	AgentManager   = "manager"
	AgentRetrieval = "retrieval"
	AgentAnalysis  = "analysis"
	AgentEvaluator = "evaluation"
	AgentReport    = "report"
)

// Tool names recorded in message metadata.
const (
	ToolPlanning     = "research_planning"
	ToolWorkflow     = "workflow_management"
	ToolSynthesis    = "report_synthesis"
	ToolSearch       = "academic_search"
	ToolFallback     = "fallback_source"
	ToolSummarize    = "summarize_document"
	ToolKeyPoints    = "extract_keypoints"
	ToolScoring      = "quality_scoring"
	ToolCitations    = "citation_generator"
	ToolReportWriter = "report_writer"
)

// Task description prefixes written by the planner. The text after the
// prefix is the sub-question a task works on.
const (
	retrievePrefix = "Find information about: "
	analyzePrefix  = "Analyze information about: "
	evaluatePrefix = "Evaluate information about: "
	reportTaskText = "Generate final research report"
)

// Deps holds the collaborators of the default handlers.
type Deps struct {
	// Searcher backs the retrieval handler. Nil means offline: retrieval
	// records a fallback source instead of querying the network.
	Searcher Searcher
	Logger   *zap.Logger
}

// Register installs the default handler for every stage.
func Register(reg *orchestrator.Registry, deps Deps) {
	reg.Register(types.StageManager, &Manager{Logger: deps.Logger})
	reg.Register(types.StageRetrieve, &Retriever{Searcher: deps.Searcher, Logger: deps.Logger})
	reg.Register(types.StageAnalyze, &Analyzer{})
	reg.Register(types.StageEvaluate, &Evaluator{})
	reg.Register(types.StageReport, &Reporter{})
}

// note appends an agent message carrying stage metadata.
func note(s *types.ResearchState, stage types.Stage, agent, content string, tools ...string) {
	s.AddMessage(types.KindAgent, stage, content)
	s.Messages[len(s.Messages)-1].Meta = &types.StageMeta{Agent: agent, ToolsUsed: tools}
}

// topic returns the sub-question a task works on, falling back to the
// research question for tasks the planner did not write.
func topic(task types.Task, question string) string {
	for _, prefix := range []string{retrievePrefix, analyzePrefix, evaluatePrefix} {
		if rest, ok := strings.CutPrefix(task.Description, prefix); ok && strings.TrimSpace(rest) != "" {
			return strings.TrimSpace(rest)
		}
	}
	return question
}

// firstPending returns the first incomplete task of type t.
func firstPending(s *types.ResearchState, t types.StageType) (types.Task, bool) {
	pending := s.PendingTasks(t)
	if len(pending) == 0 {
		return types.Task{}, false
	}
	return pending[0], true
}
