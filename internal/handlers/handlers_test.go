// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-orchestrator/internal/approval"
	"github.com/pdiddy/research-orchestrator/internal/orchestrator"
	"github.com/pdiddy/research-orchestrator/internal/search"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

const question = "How does permafrost thaw affect methane release?"

type fakeSearcher struct {
	out   search.Output
	err   error
	query search.Query
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) (search.Output, error) {
	f.query = q
	return f.out, f.err
}

func plannedState(t *testing.T) *types.ResearchState {
	t.Helper()
	s := types.NewResearchState("run-1", question)
	s, err := (&Manager{}).Handle(context.Background(), s)
	require.NoError(t, err)
	return s
}

func lastMessage(s *types.ResearchState) types.Message {
	return s.Messages[len(s.Messages)-1]
}

// --- Manager ---

func TestDecompose(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     []string
	}{
		{"single clause", question, []string{question}},
		{"two questions", "What causes permafrost thaw? How fast does methane escape?",
			[]string{"What causes permafrost thaw?", "How fast does methane escape?"}},
		{"short fragments ignored", "Why? What drives ocean warming today?", []string{"Why? What drives ocean warming today?"}},
		{"semicolons", "effects of thaw on soil; effects of thaw on methane; effects on rivers",
			[]string{"effects of thaw on soil?", "effects of thaw on methane?", "effects on rivers?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decompose(tt.question))
		})
	}
}

func TestDecomposeCapsSubQuestions(t *testing.T) {
	q := strings.Repeat("what is the impact? ", 8)
	assert.Len(t, Decompose(q), MaxSubQuestions)
}

func TestPlan(t *testing.T) {
	tasks := Plan([]string{"a b c", "d e f"})
	require.Len(t, tasks, 7)

	var kinds []types.StageType
	for _, task := range tasks {
		kinds = append(kinds, task.Type)
	}
	assert.Equal(t, []types.StageType{
		types.TaskRetrieve, types.TaskAnalyze, types.TaskEvaluate,
		types.TaskRetrieve, types.TaskAnalyze, types.TaskEvaluate,
		types.TaskReport,
	}, kinds)

	report := tasks[6]
	assert.Len(t, report.DependsOn, 6)
	for i, id := range report.DependsOn {
		assert.Equal(t, tasks[i].ID, id)
	}
	assert.Equal(t, "Find information about: d e f", tasks[3].Description)
	assert.Equal(t, 7, report.Priority)
}

func TestManagerPlans(t *testing.T) {
	s := plannedState(t)

	assert.Equal(t, types.StatusResearching, s.Status)
	assert.Equal(t, []string{question}, s.SubQuestions)
	assert.Len(t, s.Tasks, 4)
	msg := lastMessage(s)
	assert.Equal(t, "Research plan created with 1 sub-questions and 4 tasks.", msg.Content)
	require.NotNil(t, msg.Meta)
	assert.Equal(t, AgentManager, msg.Meta.Agent)
	assert.Equal(t, []string{ToolPlanning, ToolWorkflow}, msg.Meta.ToolsUsed)
}

func TestManagerKeepsExistingSubQuestions(t *testing.T) {
	s := types.NewResearchState("run-1", question)
	s.SubQuestions = []string{"one two three", "four five six"}
	s, err := (&Manager{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, s.Tasks, 7)
}

func TestManagerProgressNote(t *testing.T) {
	s := plannedState(t)
	s.CompleteTask(s.Tasks[0].ID)

	s, err := (&Manager{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Research in progress. Completed 1/4 tasks.", lastMessage(s).Content)
	assert.Equal(t, types.StatusResearching, s.Status)
}

func TestManagerSynthesizes(t *testing.T) {
	s := plannedState(t)
	for _, task := range s.Tasks {
		s.CompleteTask(task.ID)
	}

	s, err := (&Manager{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, types.StatusComplete, s.Status)
	assert.Contains(t, s.Report, "# Research Report: "+question)
	assert.NotEmpty(t, s.Summary)
	assert.Equal(t, "Final research report generated.", lastMessage(s).Content)
}

func TestManagerSynthesisKeepsExistingReport(t *testing.T) {
	s := plannedState(t)
	s.Status = types.StatusReporting
	s.Report = "existing"
	s.Summary = "kept"

	s, err := (&Manager{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "existing", s.Report)
	assert.Equal(t, "kept", s.Summary)
	assert.Equal(t, types.StatusComplete, s.Status)
}

func TestManagerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Manager{}).Handle(ctx, types.NewResearchState("run-1", question))
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Retriever ---

func TestKeywords(t *testing.T) {
	got := Keywords(question, "What drives methane release in Arctic lakes?")
	assert.Equal(t, []string{"drives", "methane", "release", "arctic", "lakes", "permafrost", "thaw", "affect"}, got)
	assert.Empty(t, Keywords("what is it?", "how?"))
}

func TestRetrieverOffline(t *testing.T) {
	s := plannedState(t)
	s, err := (&Retriever{}).Handle(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, s.Sources, 1)
	src := s.Sources[0]
	assert.Equal(t, "General information about "+question, src.Title)
	assert.Equal(t, "https://example.com/general-info", src.URL)
	assert.Equal(t, 5.0, src.Credibility)
	assert.True(t, s.Completed.Has(s.Tasks[0].ID))
	msg := lastMessage(s)
	assert.Equal(t, "Retrieved 1 relevant sources for: "+question, msg.Content)
	assert.Equal(t, []string{ToolFallback}, msg.Meta.ToolsUsed)
}

func TestRetrieverUsesSearchResults(t *testing.T) {
	fs := &fakeSearcher{out: search.Output{Results: []search.Result{
		{Title: "Methane from thawing permafrost", URL: "https://doi.org/10.1/a", Score: 1.0, Abstract: "Thaw releases methane."},
		{Title: "Arctic lakes", URL: "https://doi.org/10.1/b", Score: 0.5},
		{Title: "Duplicate", URL: "https://doi.org/10.1/a", Score: 0.4},
	}}}
	s := plannedState(t)

	s, err := (&Retriever{Searcher: fs}).Handle(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, s.Sources, 2)
	assert.Equal(t, 0, s.Sources[0].Index)
	assert.Equal(t, 1, s.Sources[1].Index)
	assert.Equal(t, "paper", s.Sources[0].Type)
	assert.Equal(t, 10.0, s.Sources[0].Credibility)
	assert.Equal(t, "permafrost thaw affect methane release", fs.query.FreeText)
	assert.Equal(t, []string{ToolSearch}, lastMessage(s).Meta.ToolsUsed)
}

func TestRetrieverSearchFailureFallsBack(t *testing.T) {
	fs := &fakeSearcher{err: errors.New("no backends")}
	s := plannedState(t)

	s, err := (&Retriever{Searcher: fs}).Handle(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, s.Sources, 1)
	assert.Equal(t, "https://example.com/general-info", s.Sources[0].URL)
	assert.Equal(t, []string{ToolSearch, ToolFallback}, lastMessage(s).Meta.ToolsUsed)
}

func TestRetrieverCancelledSearchFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fs := &fakeSearcher{err: context.Canceled}

	_, err := (&Retriever{Searcher: fs}).Handle(ctx, plannedState(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieverNoPendingTask(t *testing.T) {
	s := types.NewResearchState("run-1", question)
	s, err := (&Retriever{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, s.Sources)
	assert.Equal(t, "No pending retrieval tasks.", lastMessage(s).Content)
}

// --- Analyzer ---

func TestSentences(t *testing.T) {
	got := sentences("Smith et al. found warming. Methane rose e.g. in lakes! Was J. Doe right? yes")
	assert.Equal(t, []string{
		"Smith et al. found warming",
		"Methane rose e.g. in lakes!",
		"Was J. Doe right?",
		"yes",
	}, got)
	assert.Empty(t, sentences("  "))
}

func TestExtract(t *testing.T) {
	src := types.Source{Index: 4, Title: "T", Type: "paper", Credibility: 8, Summary: "One. Two. Three. Four."}
	info := Extract(src, "topic")
	assert.Equal(t, 4, info.SourceIndex)
	assert.Equal(t, []string{"One", "Two", "Three"}, info.KeyPoints)
	assert.Equal(t, 8.0, info.Relevance)
	assert.Equal(t, "topic", info.Findings["topic"])
	assert.Equal(t, AgentAnalysis, info.ExtractedBy)

	empty := Extract(types.Source{Index: 1}, "thaw")
	assert.Equal(t, []string{"This source provides information about thaw"}, empty.KeyPoints)
}

func TestAnalyzer(t *testing.T) {
	s := plannedState(t)
	s.Sources = []types.Source{
		{Index: 0, Title: "A", Summary: "First point. Second point."},
		{Index: 1, Title: "B", Summary: "Other point."},
	}
	s.Extracted = []types.ExtractedInformation{{SourceIndex: 0, KeyPoints: []string{"already"}}}

	s, err := (&Analyzer{}).Handle(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, s.Extracted, 2)
	assert.Equal(t, 1, s.Extracted[1].SourceIndex)
	assert.True(t, s.Completed.Has(s.Tasks[1].ID))
	assert.Equal(t, "Analyzed 1 sources for: "+question, lastMessage(s).Content)
}

func TestAnalyzerWithoutSourcesWaits(t *testing.T) {
	s := plannedState(t)
	s, err := (&Analyzer{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Completed.Len())
	assert.Equal(t, "No sources available for analysis.", lastMessage(s).Content)
}

// --- Evaluator ---

func TestEvaluate(t *testing.T) {
	s := plannedState(t)
	s.Sources = []types.Source{
		{Index: 0, Type: "paper", Credibility: 9},
		{Index: 1, Type: "paper", Credibility: 8},
		{Index: 2, Type: "web", Credibility: 5},
	}
	s.Extracted = []types.ExtractedInformation{{SourceIndex: 0}, {SourceIndex: 1}, {SourceIndex: 2}}

	ev := Evaluate(s)
	assert.Equal(t, 7, ev.Quality)
	assert.Equal(t, 6, ev.Comprehensiveness)
	assert.Equal(t, 8, ev.Consistency)
	assert.True(t, ev.Sufficient)
	assert.Equal(t, []string{"1 of 3 sources are general or placeholder references"}, ev.Limitations)
	assert.Equal(t, []string{question}, ev.Gaps)
	assert.InDelta(t, 7.0, Overall(ev), 0.001)
}

func TestEvaluateClampsScores(t *testing.T) {
	s := types.NewResearchState("run-1", question)
	for i := range 8 {
		s.Sources = append(s.Sources, types.Source{Index: i, Type: "placeholder", Credibility: 1})
	}
	ev := Evaluate(s)
	assert.Equal(t, 1, ev.Quality)
	assert.Equal(t, 1, ev.Comprehensiveness)
	assert.Equal(t, 1, ev.Consistency)
	assert.False(t, ev.Sufficient)
}

func TestEvaluatorMovesToReporting(t *testing.T) {
	s := plannedState(t)
	s.Sources = []types.Source{{Index: 0, Type: "paper", Credibility: 9}}
	s.Extracted = []types.ExtractedInformation{{SourceIndex: 0}, {SourceIndex: 0}, {SourceIndex: 0}}

	s, err := (&Evaluator{}).Handle(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, s.Evaluation)
	assert.Equal(t, types.StatusReporting, s.Status)
	assert.True(t, s.Completed.Has(s.Tasks[2].ID))
	assert.Equal(t, "Evaluation completed. Overall score: 8.3/10. Information is sufficient.", lastMessage(s).Content)
}

func TestEvaluatorInsufficient(t *testing.T) {
	s := plannedState(t)
	s.Sources = []types.Source{{Index: 0, Type: "placeholder", Credibility: 1}}
	s.Extracted = []types.ExtractedInformation{{SourceIndex: 0}}

	s, err := (&Evaluator{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResearching, s.Status)
	assert.Contains(t, lastMessage(s).Content, "Additional research needed.")
}

func TestEvaluatorWithoutExtractionWaits(t *testing.T) {
	s := plannedState(t)
	s, err := (&Evaluator{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, s.Evaluation)
	assert.Equal(t, 0, s.Completed.Len())
}

// --- Reporter ---

func TestReporterNotReady(t *testing.T) {
	s := plannedState(t)
	s, err := (&Reporter{}).Handle(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, s.Report)
	assert.Equal(t, "Cannot generate report until all research tasks are completed.", lastMessage(s).Content)
}

func TestReporter(t *testing.T) {
	s := plannedState(t)
	for _, task := range s.Tasks[:3] {
		s.CompleteTask(task.ID)
	}
	s.Sources = []types.Source{
		{Index: 0, Title: "Methane budgets", URL: "https://doi.org/10.1/a"},
		{Index: 1, Title: "Lake ebullition"},
	}
	s.Extracted = []types.ExtractedInformation{
		{SourceIndex: 0, KeyPoints: []string{"Thaw raises emissions"}},
		{SourceIndex: 1, KeyPoints: []string{"Lakes bubble methane"}},
	}
	s.Evaluation = &types.EvaluationSummary{Quality: 8, Comprehensiveness: 6, Consistency: 9, Sufficient: true, Gaps: []string{"winter fluxes"}}

	s, err := (&Reporter{}).Handle(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, types.StatusComplete, s.Status)
	assert.True(t, s.AllTasksCompleted())
	assert.Contains(t, s.Report, "# Research Report: "+question)
	assert.Contains(t, s.Report, "- Thaw raises emissions [1]")
	assert.Contains(t, s.Report, "- Lakes bubble methane [2]")
	assert.Contains(t, s.Report, "[1] Methane budgets. https://doi.org/10.1/a")
	assert.Contains(t, s.Report, "[2] Lake ebullition.\n")
	assert.Contains(t, s.Report, "- Quality: 8/10")
	assert.Contains(t, s.Report, "- winter fluxes")
	assert.NotContains(t, s.Report, "sub-questions")
	assert.Equal(t, "This research investigated How does permafrost thaw affect methane release using 2 sources and 2 analyses. The evidence scored 7.7/10 overall and was judged sufficient to answer the question.", s.Summary)
	assert.Equal(t, "Research report and summary generated successfully.", lastMessage(s).Content)
	assert.Equal(t, []string{ToolCitations, ToolReportWriter}, lastMessage(s).Meta.ToolsUsed)
}

func TestReportWithoutFindings(t *testing.T) {
	s := types.NewResearchState("run-1", question)
	report, err := composeReport(s)
	require.NoError(t, err)
	assert.Contains(t, report, "No findings could be extracted from the available sources.")
	assert.NotContains(t, report, "## Evaluation")
}

func TestValidateCitations(t *testing.T) {
	text := "Claim [1]. Other [2; 5]. Again [5]. Link [see here]. Zero [0]."
	assert.Equal(t, []string{"0", "5"}, ValidateCitations(text, 2))
	assert.Equal(t, []string{"0"}, ValidateCitations(text, 5))
	assert.Empty(t, ValidateCitations("no citations", 0))
}

// --- End to end ---

func TestDefaultHandlersCompleteOfflineRun(t *testing.T) {
	reg := orchestrator.NewRegistry()
	Register(reg, Deps{})
	require.Empty(t, reg.Missing())

	gate := approval.NewGateFromConfig(approval.AutoChannel{}, types.DefaultConfig().Approval, nil)
	orch := orchestrator.New(reg, orchestrator.WithGate(gate))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var final *types.ResearchState
	n := 0
	for s, err := range orch.Run(ctx, types.NewResearchState("run-1", question), 20) {
		require.NoError(t, err)
		final = s
		n++
	}

	require.NotNil(t, final)
	assert.Equal(t, 5, n)
	assert.Equal(t, types.StatusComplete, final.Status)
	assert.True(t, final.AllTasksCompleted())
	assert.Contains(t, final.Report, "[1] General information about "+question)
	assert.NotEmpty(t, final.Summary)

	snap := orch.Metrics().Snapshot()
	assert.Equal(t, 1, snap.Agents[AgentReport])
	assert.Equal(t, 1, snap.Tools[ToolFallback])
}
