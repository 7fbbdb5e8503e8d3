// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"github.com/pdiddy/research-orchestrator/internal/scheduler"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// maxFindings bounds the key points listed in a report.
const maxFindings = 10

// reportTmpl renders the Markdown report. Findings cite their source as
// [n], matching the numbered reference list.
var reportTmpl = template.Must(template.New("report").Parse(`# Research Report: {{.Question}}

## Executive Summary
{{.Summary}}

## Introduction
This research was conducted to investigate {{.Question}} and provide insights based on available information.
{{- if .SubQuestions}}
It was broken down into the following sub-questions:
{{range .SubQuestions}}
- {{.}}
{{- end}}
{{- end}}

## Methodology
Information was gathered from {{len .References}} sources, analyzed for key points, and evaluated for quality and coverage.

## Findings
{{- if .Findings}}
{{range .Findings}}
- {{.Text}} [{{.Ref}}]
{{- end}}
{{- else}}
No findings could be extracted from the available sources.
{{- end}}
{{- with .Evaluation}}

## Evaluation
- Quality: {{.Quality}}/10
- Comprehensiveness: {{.Comprehensiveness}}/10
- Consistency: {{.Consistency}}/10
{{- if .Limitations}}

### Limitations
{{range .Limitations}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Gaps}}

### Gaps
{{range .Gaps}}
- {{.}}
{{- end}}
{{- end}}
{{- end}}

## Conclusion
Based on the research conducted, {{.Question}} involves multiple factors and considerations as outlined in the findings section.

## References
{{- range .References}}
[{{.Ref}}] {{.Title}}.{{if .URL}} {{.URL}}{{end}}
{{- end}}
`))

type reportFinding struct {
	Text string
	Ref  int
}

type reportReference struct {
	Ref   int
	Title string
	URL   string
}

type reportData struct {
	Question     string
	Summary      string
	SubQuestions []string
	Findings     []reportFinding
	Evaluation   *types.EvaluationSummary
	References   []reportReference
}

// Reporter drafts the final report once the report task is ready.
type Reporter struct{}

// Handle works on the ready report task. The report, its summary, and the
// completed task land in one step and the run becomes complete.
func (r *Reporter) Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task, ok := scheduler.NextTask(s, types.StageReport)
	if !ok {
		if len(s.PendingTasks(types.TaskReport)) == 0 {
			note(s, types.StageReport, AgentReport, "No pending report generation tasks.")
		} else {
			note(s, types.StageReport, AgentReport, "Cannot generate report until all research tasks are completed.")
		}
		return s, nil
	}

	report, err := composeReport(s)
	if err != nil {
		return nil, err
	}
	s.Summary = composeSummary(s)
	s.Report = report
	s.Draft = ""
	s.CompleteTask(task.ID)
	s.Status = types.StatusComplete

	msg := "Research report and summary generated successfully."
	if missing := ValidateCitations(s.Report, len(s.Sources)); len(missing) > 0 {
		msg += fmt.Sprintf(" Unresolved citations: %s.", strings.Join(missing, ", "))
	}
	note(s, types.StageReport, AgentReport, msg, ToolCitations, ToolReportWriter)
	return s, nil
}

// composeReport renders the Markdown report for s.
func composeReport(s *types.ResearchState) (string, error) {
	data := reportData{
		Question:     s.Question,
		Summary:      composeSummary(s),
		SubQuestions: s.SubQuestions,
		Evaluation:   s.Evaluation,
	}
	if len(data.SubQuestions) == 1 && data.SubQuestions[0] == s.Question {
		data.SubQuestions = nil
	}

	refs := make(map[int]int, len(s.Sources))
	for i, src := range s.Sources {
		refs[src.Index] = i + 1
		data.References = append(data.References, reportReference{Ref: i + 1, Title: src.Title, URL: src.URL})
	}
	for _, e := range s.Extracted {
		ref, ok := refs[e.SourceIndex]
		if !ok {
			continue
		}
		for _, p := range e.KeyPoints {
			if len(data.Findings) == maxFindings {
				break
			}
			data.Findings = append(data.Findings, reportFinding{Text: p, Ref: ref})
		}
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return buf.String(), nil
}

// composeSummary writes a short summary of the run's evidence.
func composeSummary(s *types.ResearchState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This research investigated %s", strings.TrimRight(s.Question, "?."))
	fmt.Fprintf(&b, " using %d sources and %d analyses.", len(s.Sources), len(s.Extracted))
	if s.Evaluation != nil {
		fmt.Fprintf(&b, " The evidence scored %.1f/10 overall", Overall(*s.Evaluation))
		if s.Evaluation.Sufficient {
			b.WriteString(" and was judged sufficient to answer the question.")
		} else {
			b.WriteString(" and may not fully answer the question.")
		}
	}
	return b.String()
}

// citationPattern matches numeric inline citations: [3] or [1; 2].
var citationPattern = regexp.MustCompile(`\[(\d+(?:\s*;\s*\d+)*)\]`)

// ValidateCitations returns the citation numbers in text that do not match
// one of the numSources references, sorted and deduplicated.
func ValidateCitations(text string, numSources int) []string {
	var missing []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ";") {
			key := strings.TrimSpace(part)
			n, err := strconv.Atoi(key)
			if err != nil || (n >= 1 && n <= numSources) {
				continue
			}
			if !slices.Contains(missing, key) {
				missing = append(missing, key)
			}
		}
	}
	slices.SortFunc(missing, func(a, b string) int {
		x, _ := strconv.Atoi(a)
		y, _ := strconv.Atoi(b)
		return x - y
	})
	return missing
}
