// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package service drives research runs end to end: it creates the run,
// feeds it through the orchestrator, persists every snapshot, and answers
// status and message queries from the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/internal/orchestrator"
	"github.com/pdiddy/research-orchestrator/internal/store"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

var (
	// ErrEmptyQuestion is returned when a run is started without a question.
	ErrEmptyQuestion = errors.New("research question is empty")

	// ErrNotStarted is returned by Wait for a run this service did not start.
	ErrNotStarted = errors.New("run was not started by this service")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("service closed")
)

// ErrorReportPrefix starts the report of a run that failed.
const ErrorReportPrefix = "Research encountered an error: "

// NewRunID returns a new lexicographically sortable run id.
func NewRunID() string {
	return ulid.Make().String()
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithMaxIterations overrides the iteration budget derived from the depth.
func WithMaxIterations(n int) Option {
	return func(s *Service) { s.maxIterations = n }
}

// WithHub sets the hub snapshots are published to.
func WithHub(h *Hub) Option {
	return func(s *Service) { s.hub = h }
}

type startedRun struct {
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
	final    *types.ResearchState
	err      error
}

// Service runs research questions through an orchestrator.
type Service struct {
	store         store.Store
	orch          *orchestrator.Orchestrator
	hub           *Hub
	logger        *zap.Logger
	maxIterations int

	mu     sync.Mutex
	closed bool
	runs   map[string]*startedRun
	wg     sync.WaitGroup
}

// New returns a service persisting runs to st.
func New(st store.Store, orch *orchestrator.Orchestrator, opts ...Option) *Service {
	s := &Service{
		store:   st,
		orch:    orch,
		hub:     NewHub(DefaultHubBuffer),
		logger:  zap.NewNop(),
		runs:    make(map[string]*startedRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a run for question, stores it, and drives it in the
// background until it finishes or ctx is cancelled. It returns the run id.
func (s *Service) Start(ctx context.Context, question string, depth types.Depth) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	state, err := s.create(ctx, question)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &startedRun{cancel: cancel, done: make(chan struct{})}
	s.runs[state.ID] = run
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		final, err := s.drive(runCtx, state, s.budget(depth))

		s.mu.Lock()
		run.final, run.err = final, err
		run.finished = true
		s.hub.CloseRun(state.ID)
		s.mu.Unlock()
		close(run.done)
	}()
	return state.ID, nil
}

// Run creates a run for question and drives it to the end. It returns the
// final state; on failure the returned state carries status error.
func (s *Service) Run(ctx context.Context, question string, depth types.Depth) (*types.ResearchState, error) {
	state, err := s.create(ctx, question)
	if err != nil {
		return nil, err
	}
	return s.drive(ctx, state, s.budget(depth))
}

// Wait blocks until the started run id finishes and returns its final
// state and error.
func (s *Service) Wait(ctx context.Context, id string) (*types.ResearchState, error) {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, id)
	}
	select {
	case <-run.done:
		return run.final, run.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe streams snapshots of the started run id. The channel closes
// when the run finishes or the returned function is called. A run that is
// not active yields a closed channel.
func (s *Service) Subscribe(id string) (<-chan *types.ResearchState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; !ok || run.finished {
		ch := make(chan *types.ResearchState)
		close(ch)
		return ch, func() {}
	}
	return s.hub.Subscribe(id)
}

// Cancel stops the started run id. It reports whether the run was active.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.finished {
		return false
	}
	run.cancel()
	return true
}

// Close cancels all started runs and waits for them to stop.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for _, run := range s.runs {
		run.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Status returns the progress view of run id.
func (s *Service) Status(ctx context.Context, id string) (types.RunStatus, error) {
	state, err := s.store.Get(ctx, id)
	if err != nil {
		return types.RunStatus{}, err
	}
	return types.NewRunStatus(state, time.Now()), nil
}

// Messages returns the message log of run id.
func (s *Service) Messages(ctx context.Context, id string) ([]types.Message, error) {
	return s.store.Messages(ctx, id)
}

// List returns all stored runs, most recently updated first.
func (s *Service) List(ctx context.Context) ([]store.RunSummary, error) {
	return s.store.List(ctx)
}

func (s *Service) create(ctx context.Context, question string) (*types.ResearchState, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	state := types.NewResearchState(NewRunID(), question)
	if err := s.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("storing new run: %w", err)
	}
	s.logger.Info("run created", logging.RunID(state.ID), zap.String("question", question))
	return state, nil
}

func (s *Service) budget(depth types.Depth) int {
	if s.maxIterations > 0 {
		return s.maxIterations
	}
	return depth.MaxIterations()
}

// drive runs state through the orchestrator, persisting and publishing every
// snapshot. A failed run is stored with status error and an error report.
func (s *Service) drive(ctx context.Context, state *types.ResearchState, maxIterations int) (*types.ResearchState, error) {
	log := s.logger.With(logging.RunID(state.ID))
	// Snapshots are persisted even after ctx is cancelled so the stored run
	// reflects where it stopped.
	persistCtx := context.WithoutCancel(ctx)
	last := state

	for snap, runErr := range s.orch.Run(ctx, state, maxIterations) {
		if snap != nil {
			last = snap
		}
		if runErr != nil {
			return s.fail(persistCtx, log, last, runErr), runErr
		}
		if err := s.store.Put(persistCtx, snap); err != nil {
			err = fmt.Errorf("storing snapshot: %w", err)
			return s.fail(persistCtx, log, last, err), err
		}
		if dropped := s.hub.Publish(snap); dropped > 0 {
			log.Debug("slow subscribers skipped a snapshot", zap.Int("dropped", dropped))
		}
	}

	log.Info("run finished", logging.Status(last.Status),
		logging.Progress(last.Completed.Len(), len(last.Tasks)))
	return last, nil
}

// fail records cause on a copy of last as an error report, stores it on a
// best-effort basis, and publishes it.
func (s *Service) fail(ctx context.Context, log *zap.Logger, last *types.ResearchState, cause error) *types.ResearchState {
	failed := last.Clone()
	failed.Status = types.StatusError
	failed.Report = ErrorReportPrefix + cause.Error()
	failed.AddMessage(types.KindSystem, "", "Research failed: "+cause.Error())
	failed.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, failed); err != nil {
		log.Error("storing failed run", zap.Error(err))
	}
	s.hub.Publish(failed)
	log.Error("run failed", zap.Error(cause))
	return failed
}
