// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// ErrNoHandler is returned when the scheduler selects a stage nobody serves.
var ErrNoHandler = errors.New("no handler registered for stage")

// Handler advances the research state for one stage. It receives a private
// copy of the state and returns the updated state. Handlers are untrusted:
// the run loop reconciles whatever they return.
type Handler interface {
	Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error) {
	return f(ctx, s)
}

// Registry maps stages to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.Stage]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.Stage]Handler)}
}

// Register sets the handler for stage, replacing any previous one.
func (r *Registry) Register(stage types.Stage, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stage] = h
}

// Lookup returns the handler for stage.
func (r *Registry) Lookup(stage types.Stage) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, stage)
	}
	return h, nil
}

// Missing returns the stages in types.Stages that have no handler.
func (r *Registry) Missing() []types.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Stage
	for _, s := range types.Stages {
		if _, ok := r.handlers[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
