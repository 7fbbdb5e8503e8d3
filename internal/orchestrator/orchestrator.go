// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator drives a research run. Each iteration selects a
// stage, consults the approval gate, invokes the stage's handler on a
// private copy of the state, reconciles the result, and checks for stalls.
// Runs are lazy sequences of state snapshots.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/approval"
	"github.com/pdiddy/research-orchestrator/internal/lifecycle"
	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/internal/scheduler"
	"github.com/pdiddy/research-orchestrator/internal/stall"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// DefaultMaxIterations is the iteration budget used when Run is given a
// non-positive one.
const DefaultMaxIterations = 20

// ErrNilState is returned when Run is started without an initial state.
var ErrNilState = errors.New("initial research state is nil")

// Orchestrator runs research states through the registered handlers.
type Orchestrator struct {
	registry       *Registry
	gate           *approval.Gate
	logger         *zap.Logger
	metrics        *Metrics
	recoverAfter   int
	terminateAfter int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGate enables approval gating. Without a gate every stage runs
// unattended.
func WithGate(g *approval.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// WithMetrics shares a metrics collector, e.g. across runs of a service.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithStallThresholds sets the stalled iteration counts that trigger
// recovery and forced termination.
func WithStallThresholds(recoverAfter, terminateAfter int) Option {
	return func(o *Orchestrator) {
		o.recoverAfter = recoverAfter
		o.terminateAfter = terminateAfter
	}
}

// New returns an orchestrator dispatching to the handlers in reg.
func New(reg *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       reg,
		logger:         zap.NewNop(),
		metrics:        NewMetrics(),
		recoverAfter:   stall.DefaultRecoverAfter,
		terminateAfter: stall.DefaultTerminateAfter,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics returns the orchestrator's metrics collector.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Run returns the sequence of states produced by advancing initial. Each
// element is a deep copy the caller may keep. The sequence ends when no
// stage is selectable, the run completes, the stall breaker fires, or the
// iteration budget is spent. A handler failure, an approval channel
// failure, or context cancellation is yielded as the error of the last
// element, paired with the state before the failing step.
//
// initial is not modified. Every call starts a fresh run.
func (o *Orchestrator) Run(ctx context.Context, initial *types.ResearchState, maxIterations int) iter.Seq2[*types.ResearchState, error] {
	return func(yield func(*types.ResearchState, error) bool) {
		if initial == nil {
			yield(nil, ErrNilState)
			return
		}
		if maxIterations <= 0 {
			maxIterations = DefaultMaxIterations
		}

		state := initial.Clone()
		log := o.logger.With(logging.RunID(state.ID))
		detector := stall.NewDetector(o.recoverAfter, o.terminateAfter)

		tracker, err := lifecycle.NewTracker(state.ID, log)
		if err != nil {
			yield(state.Clone(), err)
			return
		}
		defer tracker.Stop()
		if err := tracker.Reset(state.Status); err != nil {
			yield(state.Clone(), err)
			return
		}

		for i := 1; i <= maxIterations; i++ {
			if err := ctx.Err(); err != nil {
				yield(state.Clone(), err)
				return
			}

			stage, ok := scheduler.SelectStage(state)
			if !ok {
				log.Info("no stage selectable", logging.Status(state.Status), logging.Iteration(i))
				return
			}
			log.Debug("iteration", logging.Iteration(i), logging.Stage(stage),
				logging.Progress(state.Completed.Len(), len(state.Tasks)))
			o.metrics.iteration()

			next, err := o.step(ctx, log, tracker, stage, state)
			if err != nil {
				log.Error("stage failed", logging.Stage(stage), logging.Iteration(i), zap.Error(err))
				yield(state.Clone(), err)
				return
			}
			state = next

			switch detector.Observe(state) {
			case stall.Recover:
				desc, applied := stall.Recover(state)
				if applied {
					o.metrics.recovery()
				}
				log.Warn("run stalled, attempting recovery",
					logging.Stalled(detector.Stalled()), zap.Bool("applied", applied), logging.Reason(desc))
			case stall.Terminate:
				o.metrics.termination()
				log.Warn("run stalled, completing with fallback report", logging.Stalled(detector.Stalled()))
				stall.Terminate(state)
			}

			state.UpdatedAt = time.Now()
			tracker.Observe(state.Status)

			if !yield(state.Clone(), nil) {
				return
			}
			if state.Status == types.StatusComplete {
				log.Info("run complete", logging.Iteration(i),
					logging.Progress(state.Completed.Len(), len(state.Tasks)))
				return
			}
		}
		log.Info("iteration budget spent", zap.Int("max_iterations", maxIterations), logging.Status(state.Status))
	}
}

// step performs one stage invocation including both approval checks. It
// returns the state the loop continues with. A status change the tracker
// refuses is undone.
func (o *Orchestrator) step(ctx context.Context, log *zap.Logger, tracker *lifecycle.Tracker, stage types.Stage, state *types.ResearchState) (*types.ResearchState, error) {
	if o.gate != nil {
		ok, err := o.gate.Before(ctx, stage, state)
		if err != nil {
			return nil, err
		}
		if !ok {
			o.metrics.skipped(stage)
			log.Info("stage skipped after rejection", logging.Stage(stage))
			return state, nil
		}
	}

	h, err := o.registry.Lookup(stage)
	if err != nil {
		return nil, err
	}

	before := state.Clone()
	start := time.Now()
	result, err := h.Handle(ctx, state.Clone())
	o.metrics.invocation(stage, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", stage, err)
	}

	after, repairs := reconcile(before, result)
	for _, r := range repairs {
		log.Warn("repaired handler output", logging.Stage(stage), logging.Reason(r))
	}
	o.metrics.tools(after.Messages[len(before.Messages):])

	if o.gate != nil {
		var approved bool
		after, approved, err = o.gate.After(ctx, stage, before, after)
		if err != nil {
			return nil, err
		}
		if !approved {
			o.metrics.rejected(stage)
		}
	}

	if !tracker.Observe(after.Status) {
		kept := tracker.Current()
		log.Warn("repaired handler output", logging.Stage(stage),
			logging.Reason(fmt.Sprintf("illegal status change %s -> %s", kept, after.Status)))
		after.AddMessage(types.KindSystem, stage,
			fmt.Sprintf("Status change from %s to %s is not allowed; status kept at %s.", kept, after.Status, kept))
		after.Status = kept
		o.metrics.illegalTransition(stage)
	}
	return after, nil
}
