// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// RunID adds a run ID field.
func RunID(id string) zap.Field {
	return zap.String("run_id", id)
}

// Stage adds a stage field.
func Stage(s types.Stage) zap.Field {
	return zap.String("stage", string(s))
}

// Status adds a run status field.
func Status(s types.Status) zap.Field {
	return zap.String("status", string(s))
}

// FromStatus adds a from_status field for transitions.
func FromStatus(s types.Status) zap.Field {
	return zap.String("from_status", string(s))
}

// ToStatus adds a to_status field for transitions.
func ToStatus(s types.Status) zap.Field {
	return zap.String("to_status", string(s))
}

// Iteration adds the run loop iteration number.
func Iteration(n int) zap.Field {
	return zap.Int("iteration", n)
}

// TaskID adds a task ID field.
func TaskID(id string) zap.Field {
	return zap.String("task_id", id)
}

// Approved adds an approval decision field.
func Approved(approved bool) zap.Field {
	return zap.Bool("approved", approved)
}

// Stalled adds the consecutive stalled iteration count.
func Stalled(n int) zap.Field {
	return zap.Int("stalled", n)
}

// Progress adds completed/total task counts.
func Progress(completed, total int) zap.Field {
	return zap.Dict("tasks", zap.Int("completed", completed), zap.Int("total", total))
}

// Backend adds a search backend name.
func Backend(name string) zap.Field {
	return zap.String("backend", name)
}

// Reason adds a reason field.
func Reason(reason string) zap.Field {
	return zap.String("reason", reason)
}

// Component adds a component field for categorization.
func Component(name string) zap.Field {
	return zap.String("component", name)
}
