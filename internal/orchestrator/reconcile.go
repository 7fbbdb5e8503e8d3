// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"fmt"
	"time"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// reconcile merges a handler's result into the state it was given and
// returns the repaired state with a description of every repair. prev is
// not modified.
//
// The result may not drop or rewrite planned tasks, drop messages, change
// the run's identity, or mark unknown tasks completed. A nil result leaves
// the state as it was.
func reconcile(prev, result *types.ResearchState) (*types.ResearchState, []string) {
	if result == nil {
		return prev.Clone(), []string{"handler returned no state; keeping previous state"}
	}

	out := result.Clone()
	var repairs []string

	if out.ID != prev.ID {
		repairs = append(repairs, fmt.Sprintf("restored run id %q", prev.ID))
		out.ID = prev.ID
	}
	if out.Question != prev.Question {
		repairs = append(repairs, "restored research question")
		out.Question = prev.Question
	}
	out.StartedAt = prev.StartedAt

	tasks, restored := mergeTasks(prev.Tasks, out.Tasks)
	out.Tasks = tasks
	if restored > 0 {
		repairs = append(repairs, fmt.Sprintf("restored %d dropped or modified tasks", restored))
	}

	msgs, restored := mergeMessages(prev.Messages, out.Messages)
	out.Messages = msgs
	if restored > 0 {
		repairs = append(repairs, fmt.Sprintf("restored %d dropped messages", restored))
	}

	if dropped := out.Completed.Retain(out.HasTask); len(dropped) > 0 {
		repairs = append(repairs, fmt.Sprintf("pruned %d completed ids not in the task list", len(dropped)))
	}

	if out.Status == "" {
		out.Status = prev.Status
	}
	out.UpdatedAt = time.Now()
	return out, repairs
}

// mergeTasks keeps every previously planned task unchanged and in its
// original position, followed by the tasks the handler added. It returns
// how many previous tasks had to be restored.
func mergeTasks(prev, next []types.Task) ([]types.Task, int) {
	byID := make(map[string]types.Task, len(next))
	for _, t := range next {
		byID[t.ID] = t
	}

	var restored int
	out := make([]types.Task, 0, len(next)+len(prev))
	seen := make(map[string]bool, len(prev))
	for _, t := range prev {
		seen[t.ID] = true
		if got, ok := byID[t.ID]; !ok || !sameTask(got, t) {
			restored++
		}
		out = append(out, t)
	}
	for _, t := range next {
		if seen[t.ID] || t.ID == "" {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, restored
	}
	return out, restored
}

func sameTask(a, b types.Task) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Description != b.Description || a.Priority != b.Priority {
		return false
	}
	if len(a.DependsOn) != len(b.DependsOn) {
		return false
	}
	for i := range a.DependsOn {
		if a.DependsOn[i] != b.DependsOn[i] {
			return false
		}
	}
	return true
}

// mergeMessages guarantees prev is a prefix of the result. When the handler
// kept the log intact its messages are returned as is; otherwise prev is
// followed by the handler's messages that are not already in prev.
func mergeMessages(prev, next []types.Message) ([]types.Message, int) {
	if hasPrefix(next, prev) {
		return next, 0
	}

	known := make(map[messageKey]int, len(prev))
	for _, m := range prev {
		known[keyOf(m)]++
	}

	out := append([]types.Message(nil), prev...)
	kept := 0
	for _, m := range next {
		k := keyOf(m)
		if known[k] > 0 {
			known[k]--
			kept++
			continue
		}
		out = append(out, m)
	}
	return out, len(prev) - kept
}

type messageKey struct {
	kind    types.MessageKind
	content string
	at      int64
}

func keyOf(m types.Message) messageKey {
	return messageKey{kind: m.Kind, content: m.Content, at: m.Timestamp.UnixNano()}
}

func hasPrefix(msgs, prefix []types.Message) bool {
	if len(msgs) < len(prefix) {
		return false
	}
	for i := range prefix {
		if keyOf(msgs[i]) != keyOf(prefix[i]) {
			return false
		}
	}
	return true
}
