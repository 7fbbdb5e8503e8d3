// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stall detects runs that stop making progress and applies the
// recovery ladder: a corrective action after a few stalled iterations and a
// forced, degraded completion when that does not help.
//
// Progress means a change in the set of completed task ids. Messages,
// sources, and status changes alone do not count.
package stall

import (
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Action is what the run loop should do after an observation.
type Action int

const (
	// None means keep going.
	None Action = iota

	// Recover means apply a corrective action once.
	Recover

	// Terminate means complete the run with a fallback report.
	Terminate
)

func (a Action) String() string {
	switch a {
	case Recover:
		return "recover"
	case Terminate:
		return "terminate"
	}
	return "none"
}

// Default thresholds, in consecutive stalled iterations.
const (
	DefaultRecoverAfter   = 3
	DefaultTerminateAfter = 5
)

// Detector tracks consecutive iterations without progress. It is owned by a
// single run loop and is not safe for concurrent use.
//
// The stalled count is not reset by a corrective action: only real progress
// resets it. Resetting after Recover, as a literal reading of "reset the
// counter after the corrective action" suggests, would contradict the rule
// that a run without progress completes within terminateAfter iterations:
// with recoverAfter=3 and terminateAfter=5 the count would cycle 1..3 and
// never reach 5. Recovery is instead limited to once per stall window.
type Detector struct {
	recoverAfter   int
	terminateAfter int

	previous  types.CompletedSet
	stalled   int
	recovered bool
}

// NewDetector returns a detector with the given thresholds. Non-positive
// values fall back to the defaults.
func NewDetector(recoverAfter, terminateAfter int) *Detector {
	if recoverAfter <= 0 {
		recoverAfter = DefaultRecoverAfter
	}
	if terminateAfter <= 0 {
		terminateAfter = DefaultTerminateAfter
	}
	return &Detector{recoverAfter: recoverAfter, terminateAfter: terminateAfter}
}

// Observe records the state after an iteration and returns the action the
// loop should take. Recover is returned at most once per stall window.
func (d *Detector) Observe(s *types.ResearchState) Action {
	if s.Completed.Equal(d.previous) {
		d.stalled++
	} else {
		d.stalled = 0
		d.recovered = false
		d.previous = s.Completed.Clone()
	}

	switch {
	case d.stalled >= d.terminateAfter:
		return Terminate
	case d.stalled >= d.recoverAfter && !d.recovered:
		d.recovered = true
		return Recover
	}
	return None
}

// Stalled returns the number of consecutive iterations without progress.
func (d *Detector) Stalled() int { return d.stalled }
