// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// maxKeyPoints bounds the key points drawn from one source.
const maxKeyPoints = 3

// Analyzer extracts key points from sources not yet analyzed.
type Analyzer struct{}

// Handle works on the first pending analysis task. Every source without
// extracted information gets an entry; the task completes even when all
// sources were already analyzed. Without sources the task stays pending.
func (a *Analyzer) Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task, ok := firstPending(s, types.TaskAnalyze)
	if !ok {
		note(s, types.StageAnalyze, AgentAnalysis, "No pending analysis tasks.")
		return s, nil
	}
	if len(s.Sources) == 0 {
		note(s, types.StageAnalyze, AgentAnalysis, "No sources available for analysis.")
		return s, nil
	}
	sub := topic(task, s.Question)

	analyzed := make(map[int]bool, len(s.Extracted))
	for _, e := range s.Extracted {
		analyzed[e.SourceIndex] = true
	}

	count := 0
	for _, src := range s.Sources {
		if analyzed[src.Index] {
			continue
		}
		s.Extracted = append(s.Extracted, Extract(src, sub))
		analyzed[src.Index] = true
		count++
	}

	s.CompleteTask(task.ID)
	note(s, types.StageAnalyze, AgentAnalysis,
		fmt.Sprintf("Analyzed %d sources for: %s", count, sub),
		ToolSummarize, ToolKeyPoints)
	return s, nil
}

// Extract derives the key points and findings of one source. The first
// sentences of the summary become key points; a source without a summary
// gets a single generic point about the topic.
func Extract(src types.Source, topic string) types.ExtractedInformation {
	points := sentences(src.Summary)
	if len(points) > maxKeyPoints {
		points = points[:maxKeyPoints]
	}
	if len(points) == 0 {
		points = []string{"This source provides information about " + topic}
	}
	findings := map[string]string{
		"topic": topic,
		"title": src.Title,
	}
	if src.Type != "" {
		findings["source_type"] = src.Type
	}
	return types.ExtractedInformation{
		SourceIndex: src.Index,
		KeyPoints:   points,
		Findings:    findings,
		Relevance:   src.Credibility,
		ExtractedBy: AgentAnalysis,
	}
}

// initialRe matches single-letter initials like "A." so they are not
// mistaken for sentence ends.
var initialRe = regexp.MustCompile(`\b([A-Z])\.`)

// sentences splits text into sentences at ". ", "! " and "? ",
// protecting common abbreviations and initials.
func sentences(text string) []string {
	safe := strings.ReplaceAll(text, "et al.", "et al\x00")
	safe = strings.ReplaceAll(safe, "e.g.", "e\x00g\x00")
	safe = strings.ReplaceAll(safe, "i.e.", "i\x00e\x00")
	safe = initialRe.ReplaceAllString(safe, "${1}\x00")
	safe = strings.NewReplacer("! ", "!\x01", "? ", "?\x01", ". ", ".\x01").Replace(safe)

	var out []string
	for _, p := range strings.Split(safe, "\x01") {
		p = strings.ReplaceAll(p, "\x00", ".")
		p = strings.TrimSpace(strings.Join(strings.Fields(p), " "))
		p = strings.TrimRight(p, ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
