// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data structures of a research run: the
// task graph, the research state mutated by stage handlers, the message log,
// and the configuration of every component.
package types

import (
	"time"
)

// StageType classifies a task by the kind of work it needs.
type StageType string

const (
	TaskRetrieve StageType = "retrieve"
	TaskAnalyze  StageType = "analyze"
	TaskEvaluate StageType = "evaluate"
	TaskReport   StageType = "report"
)

// TaskTypes lists the task types in scheduling precedence order.
var TaskTypes = []StageType{TaskRetrieve, TaskAnalyze, TaskEvaluate, TaskReport}

// Valid reports whether t is one of the known task types.
func (t StageType) Valid() bool {
	switch t {
	case TaskRetrieve, TaskAnalyze, TaskEvaluate, TaskReport:
		return true
	}
	return false
}

// Task is a typed unit of planned work. Tasks are immutable once planned;
// only their membership in ResearchState.Completed changes.
type Task struct {
	// ID is an opaque identifier, unique within a run.
	ID string `json:"id" yaml:"id"`

	// Type selects the stage that works on the task.
	Type StageType `json:"type" yaml:"type"`

	// Description is the human-readable goal of the task.
	Description string `json:"description" yaml:"description"`

	// Priority orders tasks for display; lower runs first within a plan.
	Priority int `json:"priority" yaml:"priority"`

	// DependsOn lists task ids that must be completed first. Only checked
	// for report tasks.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Status is the lifecycle position of a research run.
type Status string

const (
	StatusPlanning    Status = "planning"
	StatusResearching Status = "researching"
	StatusReporting   Status = "reporting"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// Terminal reports whether no further scheduling may happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// MessageKind distinguishes who produced a message.
type MessageKind string

const (
	KindAgent             MessageKind = "agent"
	KindSystem            MessageKind = "system"
	KindHuman             MessageKind = "human"
	KindHumanIntervention MessageKind = "human_intervention"
)

// Message is one entry of the append-only run log. It doubles as the audit
// trail of approval decisions.
type Message struct {
	Role      string      `json:"role" yaml:"role"`
	Content   string      `json:"content" yaml:"content"`
	Kind      MessageKind `json:"kind" yaml:"kind"`
	Stage     Stage       `json:"stage,omitempty" yaml:"stage,omitempty"`
	Meta      *StageMeta  `json:"meta,omitempty" yaml:"meta,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Source is a retrieved reference. The orchestrator only looks at whether
// sources exist; the fields belong to the handlers.
type Source struct {
	// Index is the position of the source in the run's source list and the
	// key ExtractedInformation refers back to.
	Index int `json:"index" yaml:"index"`

	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`

	// Type is the kind of source (e.g. "web", "paper", "placeholder").
	Type string `json:"type" yaml:"type"`

	// Credibility is a 0-10 score assigned at retrieval time.
	Credibility float64 `json:"credibility" yaml:"credibility"`

	// Summary is a short description of the content.
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	RetrievedAt time.Time `json:"retrieved_at" yaml:"retrieved_at"`
}

// ExtractedInformation holds the findings drawn from one source.
type ExtractedInformation struct {
	SourceIndex int               `json:"source_index" yaml:"source_index"`
	KeyPoints   []string          `json:"key_points" yaml:"key_points"`
	Findings    map[string]string `json:"findings,omitempty" yaml:"findings,omitempty"`
	Relevance   float64           `json:"relevance" yaml:"relevance"`
	ExtractedBy string            `json:"extracted_by" yaml:"extracted_by"`
}

// EvaluationSummary is the critical assessment of the extracted information.
type EvaluationSummary struct {
	Quality           int      `json:"quality" yaml:"quality"`
	Comprehensiveness int      `json:"comprehensiveness" yaml:"comprehensiveness"`
	Consistency       int      `json:"consistency" yaml:"consistency"`
	Sufficient        bool     `json:"sufficient" yaml:"sufficient"`
	Limitations       []string `json:"limitations,omitempty" yaml:"limitations,omitempty"`
	Gaps              []string `json:"gaps,omitempty" yaml:"gaps,omitempty"`
	Notes             string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ResearchState is the aggregate every handler invocation reads and returns.
// Exactly one exists per run and it is owned by the run loop.
type ResearchState struct {
	ID           string   `json:"id" yaml:"id"`
	Question     string   `json:"question" yaml:"question"`
	SubQuestions []string `json:"sub_questions,omitempty" yaml:"sub_questions,omitempty"`

	Tasks     []Task       `json:"tasks" yaml:"tasks"`
	Completed CompletedSet `json:"completed" yaml:"completed"`

	Sources    []Source               `json:"sources" yaml:"sources"`
	Extracted  []ExtractedInformation `json:"extracted" yaml:"extracted"`
	Evaluation *EvaluationSummary     `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`

	Messages []Message `json:"messages" yaml:"messages"`

	// Draft is the report text awaiting approval; Report is the final artifact.
	Draft   string `json:"draft,omitempty" yaml:"draft,omitempty"`
	Report  string `json:"report,omitempty" yaml:"report,omitempty"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	Status    Status    `json:"status" yaml:"status"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// NewResearchState returns an empty state in the planning status.
func NewResearchState(id, question string) *ResearchState {
	now := time.Now()
	return &ResearchState{
		ID:        id,
		Question:  question,
		Status:    StatusPlanning,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message stamped with the current time.
func (s *ResearchState) AddMessage(kind MessageKind, stage Stage, content string) {
	role := "system"
	switch kind {
	case KindAgent:
		role = "assistant"
	case KindHuman, KindHumanIntervention:
		role = "user"
	}
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Kind:      kind,
		Stage:     stage,
		Timestamp: time.Now(),
	})
}

// Task returns the task with the given id.
func (s *ResearchState) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// HasTask reports whether id belongs to the task list.
func (s *ResearchState) HasTask(id string) bool {
	_, ok := s.Task(id)
	return ok
}

// HasTaskType reports whether any task, completed or not, has type t.
func (s *ResearchState) HasTaskType(t StageType) bool {
	for _, task := range s.Tasks {
		if task.Type == t {
			return true
		}
	}
	return false
}

// PendingTasks returns the incomplete tasks of type t in list order.
func (s *ResearchState) PendingTasks(t StageType) []Task {
	var out []Task
	for _, task := range s.Tasks {
		if task.Type == t && !s.Completed.Has(task.ID) {
			out = append(out, task)
		}
	}
	return out
}

// IncompleteTasks returns every task not yet in the completed set.
func (s *ResearchState) IncompleteTasks() []Task {
	var out []Task
	for _, task := range s.Tasks {
		if !s.Completed.Has(task.ID) {
			out = append(out, task)
		}
	}
	return out
}

// CompleteTask marks id as completed. Ids outside the task list are ignored
// so that Completed stays a subset of the task ids.
func (s *ResearchState) CompleteTask(id string) bool {
	if !s.HasTask(id) {
		return false
	}
	return s.Completed.Add(id)
}

// AllTasksCompleted reports whether every planned task is done. An empty
// plan is never complete.
func (s *ResearchState) AllTasksCompleted() bool {
	return len(s.Tasks) > 0 && len(s.IncompleteTasks()) == 0
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *ResearchState) Clone() *ResearchState {
	if s == nil {
		return nil
	}
	c := *s
	c.SubQuestions = append([]string(nil), s.SubQuestions...)
	c.Tasks = make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		t.DependsOn = append([]string(nil), t.DependsOn...)
		c.Tasks[i] = t
	}
	if s.Tasks == nil {
		c.Tasks = nil
	}
	c.Completed = s.Completed.Clone()
	c.Sources = append([]Source(nil), s.Sources...)
	if s.Extracted != nil {
		c.Extracted = make([]ExtractedInformation, len(s.Extracted))
		for i, e := range s.Extracted {
			e.KeyPoints = append([]string(nil), e.KeyPoints...)
			if e.Findings != nil {
				f := make(map[string]string, len(e.Findings))
				for k, v := range e.Findings {
					f[k] = v
				}
				e.Findings = f
			}
			c.Extracted[i] = e
		}
	}
	if s.Evaluation != nil {
		ev := *s.Evaluation
		ev.Limitations = append([]string(nil), s.Evaluation.Limitations...)
		ev.Gaps = append([]string(nil), s.Evaluation.Gaps...)
		c.Evaluation = &ev
	}
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			if m.Meta != nil {
				meta := *m.Meta
				meta.ToolsUsed = append([]string(nil), m.Meta.ToolsUsed...)
				m.Meta = &meta
			}
			c.Messages[i] = m
		}
	}
	return &c
}
