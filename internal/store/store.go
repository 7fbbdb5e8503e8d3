// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists research runs. Every Put publishes an immutable
// copy of the state, so readers never observe a half-written run.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

var (
	// ErrRunNotFound is returned when no run has the requested id.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRunID is returned for an empty run id.
	ErrInvalidRunID = errors.New("invalid run id")
)

// RunSummary is one row of a run listing.
type RunSummary struct {
	ID             string       `json:"id" yaml:"id"`
	Question       string       `json:"question" yaml:"question"`
	Status         types.Status `json:"status" yaml:"status"`
	CompletedTasks int          `json:"completed_tasks" yaml:"completed_tasks"`
	TotalTasks     int          `json:"total_tasks" yaml:"total_tasks"`
	StartedAt      time.Time    `json:"started_at" yaml:"started_at"`
	UpdatedAt      time.Time    `json:"updated_at" yaml:"updated_at"`
}

func summarize(s *types.ResearchState) RunSummary {
	return RunSummary{
		ID:             s.ID,
		Question:       s.Question,
		Status:         s.Status,
		CompletedTasks: s.Completed.Len(),
		TotalTasks:     len(s.Tasks),
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// Store keeps the latest snapshot of every run.
type Store interface {
	// Put inserts or replaces the run with s.ID.
	Put(ctx context.Context, s *types.ResearchState) error

	// Get returns a copy of the run with the given id.
	Get(ctx context.Context, id string) (*types.ResearchState, error)

	// List returns summaries of all runs, most recently updated first.
	List(ctx context.Context) ([]RunSummary, error)

	// Messages returns the message log of a run in append order.
	Messages(ctx context.Context, id string) ([]types.Message, error)

	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg types.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case types.StoreMemory:
		return NewMemoryStore(), nil
	case types.StoreSQLite, "":
		return NewSQLiteStore(cfg.Dir)
	}
	return nil, fmt.Errorf("unknown store backend %q: use memory or sqlite", cfg.Backend)
}
