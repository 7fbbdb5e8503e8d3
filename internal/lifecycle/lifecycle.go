// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package lifecycle tracks the status of a research run through a
// statechart. The run loop reports every status a stage produces; the
// tracker advances on legal changes and refuses the rest, so the loop can
// put the run back where the chart says it is.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Transition is one recorded status change.
type Transition struct {
	From  types.Status `json:"from"`
	To    types.Status `json:"to"`
	Legal bool         `json:"legal"`
	At    time.Time    `json:"at"`
}

// history is the machine context.
type history struct {
	transitions []Transition
}

const (
	statePlanning    = statekit.StateID(types.StatusPlanning)
	stateResearching = statekit.StateID(types.StatusResearching)
	stateReporting   = statekit.StateID(types.StatusReporting)
	stateComplete    = statekit.StateID(types.StatusComplete)
	stateError       = statekit.StateID(types.StatusError)
)

const (
	eventResearch statekit.EventType = "RESEARCH"
	eventReport   statekit.EventType = "REPORT"
	eventComplete statekit.EventType = "COMPLETE"
	eventFail     statekit.EventType = "FAIL"
)

const machineID = "research-run"

// legal lists the allowed targets of each non-final status.
var legal = map[types.Status][]types.Status{
	types.StatusPlanning:    {types.StatusResearching, types.StatusReporting, types.StatusComplete, types.StatusError},
	types.StatusResearching: {types.StatusReporting, types.StatusComplete, types.StatusError},
	types.StatusReporting:   {types.StatusResearching, types.StatusComplete, types.StatusError},
}

// CanTransition reports whether a run may move from one status to another.
// Complete and error are final.
func CanTransition(from, to types.Status) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// newMachine builds the run statechart.
func newMachine() (*statekit.MachineConfig[*history], error) {
	return statekit.NewMachine[*history](machineID).
		WithInitial(statePlanning).
		WithContext(&history{}).
		WithAction("record", recordTransition).
		State(statePlanning).
			On(eventResearch).Target(stateResearching).Do("record").
			On(eventReport).Target(stateReporting).Do("record").
			On(eventComplete).Target(stateComplete).Do("record").
			On(eventFail).Target(stateError).Do("record").
			Done().
		State(stateResearching).
			On(eventReport).Target(stateReporting).Do("record").
			On(eventComplete).Target(stateComplete).Do("record").
			On(eventFail).Target(stateError).Do("record").
			Done().
		State(stateReporting).
			On(eventResearch).Target(stateResearching).Do("record").
			On(eventComplete).Target(stateComplete).Do("record").
			On(eventFail).Target(stateError).Do("record").
			Done().
		State(stateComplete).
			Final().
			Done().
		State(stateError).
			Final().
			Done().
		Build()
}

// recordTransition appends the transition carried by the event payload.
func recordTransition(ctx **history, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	if tr, ok := event.Payload.(Transition); ok {
		(*ctx).transitions = append((*ctx).transitions, tr)
	}
}

func eventFor(to types.Status) statekit.EventType {
	switch to {
	case types.StatusResearching:
		return eventResearch
	case types.StatusReporting:
		return eventReport
	case types.StatusComplete:
		return eventComplete
	case types.StatusError:
		return eventFail
	}
	return statekit.EventType(to)
}

// Tracker follows one run's status. It is not safe for concurrent use.
type Tracker struct {
	runID  string
	interp *statekit.Interpreter[*history]
	hist   *history
	logger *zap.Logger
}

// NewTracker starts a tracker in the planning status.
func NewTracker(runID string, logger *zap.Logger) (*Tracker, error) {
	machine, err := newMachine()
	if err != nil {
		return nil, fmt.Errorf("building lifecycle machine: %w", err)
	}
	hist := &history{}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **history) {
		*c = hist
	})
	interp.Start()
	return &Tracker{
		runID:  runID,
		interp: interp,
		hist:   hist,
		logger: logging.OrNop(logger),
	}, nil
}

// Observe reports the status a stage left the run in. Unchanged statuses
// are accepted. Legal changes advance the machine. Illegal ones are
// recorded and logged but the machine stays where it was, and Observe
// returns false; Current then names the status the run must be restored to.
func (t *Tracker) Observe(to types.Status) bool {
	from := t.Current()
	if to == from || to == "" {
		return true
	}

	tr := Transition{From: from, To: to, Legal: CanTransition(from, to), At: time.Now()}
	if !tr.Legal {
		t.hist.transitions = append(t.hist.transitions, tr)
		t.logger.Warn("illegal status transition",
			logging.RunID(t.runID), logging.FromStatus(from), logging.ToStatus(to))
		return false
	}

	t.interp.Send(statekit.Event{Type: eventFor(to), Payload: tr})
	t.logger.Debug("status transition",
		logging.RunID(t.runID), logging.FromStatus(from), logging.ToStatus(to))
	return true
}

// Reset moves the machine to status without a transition. Runs resumed
// from a stored state start from wherever that state is.
func (t *Tracker) Reset(status types.Status) error {
	from := t.Current()
	if status == "" || status == from {
		return nil
	}
	if CanTransition(from, status) {
		t.interp.Send(statekit.Event{Type: eventFor(status)})
		return nil
	}
	err := t.interp.Restore(statekit.Snapshot[*history]{
		MachineID:    machineID,
		CurrentState: statekit.StateID(status),
		Context:      t.hist,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("resetting lifecycle to %s: %w", status, err)
	}
	return nil
}

// Current returns the status the machine is in.
func (t *Tracker) Current() types.Status {
	return types.Status(t.interp.State().Value)
}

// Final reports whether the machine reached complete or error.
func (t *Tracker) Final() bool {
	return t.interp.Done()
}

// History returns a copy of the recorded transitions.
func (t *Tracker) History() []Transition {
	return append([]Transition(nil), t.hist.transitions...)
}

// Stop releases the interpreter.
func (t *Tracker) Stop() {
	t.interp.Stop()
}
