// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scheduler decides which stage runs next for a research state.
//
// Selection is strict type precedence: every retrieve task gates every
// analyze task, which gates every evaluate task, regardless of the
// individual tasks' dependencies. Only report tasks have their DependsOn
// checked. This is a known limitation kept for behavioral compatibility;
// a report task whose dependencies can never be satisfied is never selected
// and is left to the stall controller.
package scheduler

import (
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// SelectStage returns the next stage to run, or false when the run is
// terminal. It is evaluated fresh on every call; nothing is cached.
func SelectStage(s *types.ResearchState) (types.Stage, bool) {
	if s == nil || s.Status.Terminal() {
		return "", false
	}

	for _, t := range []types.StageType{types.TaskRetrieve, types.TaskAnalyze, types.TaskEvaluate} {
		if len(s.PendingTasks(t)) > 0 {
			return types.StageFor(t), true
		}
	}

	if _, ok := readyReport(s); ok {
		return types.StageReport, true
	}

	// Planning when the task list is empty, synthesis when everything is done
	// but the status has not flipped, progress notes otherwise.
	return types.StageManager, true
}

// NextTask returns the task the stage would work on: the first pending task
// of the stage's type in list order, or for report the first pending report
// task whose dependencies are all completed. The manager stage has no task.
func NextTask(s *types.ResearchState, stage types.Stage) (types.Task, bool) {
	t, ok := stage.TaskType()
	if !ok {
		return types.Task{}, false
	}
	if t == types.TaskReport {
		return readyReport(s)
	}
	pending := s.PendingTasks(t)
	if len(pending) == 0 {
		return types.Task{}, false
	}
	return pending[0], true
}

// Ready reports whether task may be selected: it is pending and, for report
// tasks, all of its dependencies are completed.
func Ready(s *types.ResearchState, task types.Task) bool {
	if s.Completed.Has(task.ID) {
		return false
	}
	if task.Type != types.TaskReport {
		return true
	}
	return s.Completed.ContainsAll(task.DependsOn)
}

func readyReport(s *types.ResearchState) (types.Task, bool) {
	for _, task := range s.PendingTasks(types.TaskReport) {
		if s.Completed.ContainsAll(task.DependsOn) {
			return task, true
		}
	}
	return types.Task{}, false
}
