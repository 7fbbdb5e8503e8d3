// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// MemoryStore keeps runs in memory as encoded JSON, so stored runs share
// no memory with the states handed in or out.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]byte)}
}

// Put stores a copy of s.
func (m *MemoryStore) Put(ctx context.Context, s *types.ResearchState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.ID == "" {
		return ErrInvalidRunID
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", s.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[s.ID] = data
	return nil
}

// Get returns a copy of the stored run.
func (m *MemoryStore) Get(ctx context.Context, id string) (*types.ResearchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidRunID
	}

	m.mu.RLock()
	data, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	var s types.ResearchState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &s, nil
}

// List returns summaries of all runs, most recently updated first.
func (m *MemoryStore) List(ctx context.Context) ([]RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RunSummary, 0, len(m.runs))
	for id, data := range m.runs {
		var s types.ResearchState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding run %s: %w", id, err)
		}
		out = append(out, summarize(&s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Messages returns the message log of a run.
func (m *MemoryStore) Messages(ctx context.Context, id string) ([]types.Message, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Messages, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
