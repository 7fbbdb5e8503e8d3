// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"math"
	"time"
)

// defaultEstimate is the remaining time reported before any task finishes.
const defaultEstimate = 15 * time.Minute

// SourceRef is the public view of a source in a finished run.
type SourceRef struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// RunResult holds the artifacts of a completed run.
type RunResult struct {
	Summary string      `json:"summary" yaml:"summary"`
	Report  string      `json:"report" yaml:"report"`
	Sources []SourceRef `json:"sources" yaml:"sources"`
}

// RunStatus is the read model answered to status queries.
type RunStatus struct {
	RunID          string     `json:"run_id" yaml:"run_id"`
	Question       string     `json:"question" yaml:"question"`
	Status         Status     `json:"status" yaml:"status"`
	CompletedTasks int        `json:"completed_tasks" yaml:"completed_tasks"`
	TotalTasks     int        `json:"total_tasks" yaml:"total_tasks"`
	Progress       float64    `json:"progress" yaml:"progress"`
	EstimatedDone  time.Time  `json:"estimated_completion,omitzero" yaml:"estimated_completion,omitempty"`
	Result         *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// NewRunStatus derives the status view of s as of now. Progress is 1.0 once
// complete and otherwise capped at 0.95.
func NewRunStatus(s *ResearchState, now time.Time) RunStatus {
	rs := RunStatus{
		RunID:          s.ID,
		Question:       s.Question,
		Status:         s.Status,
		CompletedTasks: s.Completed.Len(),
		TotalTasks:     len(s.Tasks),
	}

	if s.Status == StatusComplete {
		rs.Progress = 1.0
		rs.Result = &RunResult{Summary: s.Summary, Report: s.Report}
		for _, src := range s.Sources {
			rs.Result.Sources = append(rs.Result.Sources, SourceRef{Title: src.Title, URL: src.URL})
		}
		return rs
	}

	total := len(s.Tasks)
	if total == 0 {
		total = 1
	}
	rs.Progress = math.Min(0.95, float64(s.Completed.Len())/float64(total))

	if s.Status == StatusError {
		return rs
	}

	if rs.Progress > 0 && !s.StartedAt.IsZero() {
		elapsed := now.Sub(s.StartedAt)
		totalEstimate := time.Duration(float64(elapsed) / rs.Progress)
		rs.EstimatedDone = now.Add(totalEstimate - elapsed)
	} else {
		rs.EstimatedDone = now.Add(defaultEstimate)
	}
	return rs
}
