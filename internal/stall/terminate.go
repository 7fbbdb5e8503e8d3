// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stall

import (
	"fmt"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// TerminationMessage is the system message appended by Terminate.
const TerminationMessage = "Research completed with fallback report due to system limitations."

// Terminate completes a run that could not recover. The report and summary
// are built from the question alone; nothing the handlers produced is used.
func Terminate(s *types.ResearchState) {
	s.Report = FallbackReport(s.Question)
	s.Summary = FallbackSummary(s.Question)
	s.Draft = ""
	s.Status = types.StatusComplete
	s.AddMessage(types.KindSystem, "", TerminationMessage)
}

// FallbackReport returns the Markdown report used for forced completion.
func FallbackReport(question string) string {
	return fmt.Sprintf(`# Research Report: %[1]s

## Executive Summary
This report provides an overview of %[1]s.

## Introduction
The research aimed to investigate %[1]s comprehensively.

## Methodology
A systematic approach was used to gather and analyze information on this topic.

## Findings
Due to technical limitations, comprehensive findings could not be generated.
However, this topic remains an important area for further investigation.

## Conclusion
Further research is recommended to fully address %[1]s.
`, question)
}

// FallbackSummary returns the summary used for forced completion.
func FallbackSummary(question string) string {
	return fmt.Sprintf("This research explored %s. Due to technical limitations, comprehensive findings could not be generated.", question)
}
