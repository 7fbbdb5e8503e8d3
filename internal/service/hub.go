// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package service

import (
	"sync"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// DefaultHubBuffer is the channel capacity of each subscription.
const DefaultHubBuffer = 16

// Hub fans run snapshots out to subscribers. Sends never block: a
// subscriber that falls behind misses snapshots instead of stalling the run.
type Hub struct {
	mu     sync.Mutex
	buffer int
	next   int
	subs   map[string]map[int]chan *types.ResearchState
}

// NewHub returns a hub whose subscriptions buffer up to buffer snapshots.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[int]chan *types.ResearchState),
	}
}

// Subscribe returns a channel of snapshots of run runID and a function that
// ends the subscription and closes the channel. The channel is also closed
// when the run is closed with CloseRun.
func (h *Hub) Subscribe(runID string) (<-chan *types.ResearchState, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan *types.ResearchState, h.buffer)
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[int]chan *types.ResearchState)
	}
	h.subs[runID][id] = ch

	return ch, func() { h.remove(runID, id) }
}

// Publish delivers a copy of s to every subscriber of s.ID. It reports how
// many subscribers were skipped because their buffer was full.
func (h *Hub) Publish(s *types.ResearchState) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, ch := range h.subs[s.ID] {
		select {
		case ch <- s.Clone():
		default:
			dropped++
		}
	}
	return dropped
}

// CloseRun ends every subscription of runID.
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[runID] {
		close(ch)
	}
	delete(h.subs, runID)
}

// Subscribers returns the number of open subscriptions of runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

func (h *Hub) remove(runID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[runID][id]
	if !ok {
		return
	}
	close(ch)
	delete(h.subs[runID], id)
	if len(h.subs[runID]) == 0 {
		delete(h.subs, runID)
	}
}
