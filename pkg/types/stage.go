// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Stage names a unit of work the scheduler dispatches to a handler.
type Stage string

const (
	StageManager  Stage = "research_manager"
	StageRetrieve Stage = "information_retrieval"
	StageAnalyze  Stage = "document_analysis"
	StageEvaluate Stage = "critical_evaluation"
	StageReport   Stage = "report_generation"
)

// Stages lists every stage a registry is expected to serve.
var Stages = []Stage{StageManager, StageRetrieve, StageAnalyze, StageEvaluate, StageReport}

// StageFor returns the stage that works on tasks of type t.
func StageFor(t StageType) Stage {
	switch t {
	case TaskRetrieve:
		return StageRetrieve
	case TaskAnalyze:
		return StageAnalyze
	case TaskEvaluate:
		return StageEvaluate
	case TaskReport:
		return StageReport
	}
	return StageManager
}

// TaskType returns the task type a stage works on. The manager stage has none.
func (s Stage) TaskType() (StageType, bool) {
	switch s {
	case StageRetrieve:
		return TaskRetrieve, true
	case StageAnalyze:
		return TaskAnalyze, true
	case StageEvaluate:
		return TaskEvaluate, true
	case StageReport:
		return TaskReport, true
	}
	return "", false
}

// StageMeta describes which agent produced a message and the tools it used.
type StageMeta struct {
	Agent     string   `json:"agent" yaml:"agent"`
	ToolsUsed []string `json:"tools_used,omitempty" yaml:"tools_used,omitempty"`
}
