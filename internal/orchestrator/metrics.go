// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"maps"
	"sync"
	"time"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// StageMetrics counts what happened to one stage.
type StageMetrics struct {
	Invocations int           `json:"invocations" yaml:"invocations"`
	Errors      int           `json:"errors" yaml:"errors"`
	Skipped     int           `json:"skipped" yaml:"skipped"`
	Rejections  int           `json:"rejections" yaml:"rejections"`

	// IllegalTransitions counts status changes that were undone.
	IllegalTransitions int `json:"illegal_transitions" yaml:"illegal_transitions"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Iterations   int                          `json:"iterations" yaml:"iterations"`
	Recoveries   int                          `json:"recoveries" yaml:"recoveries"`
	Terminations int                          `json:"terminations" yaml:"terminations"`
	Stages       map[types.Stage]StageMetrics `json:"stages" yaml:"stages"`
	Tools        map[string]int               `json:"tools" yaml:"tools"`
	Agents       map[string]int               `json:"agents" yaml:"agents"`
}

// Metrics aggregates counters across runs. It is safe for concurrent use.
type Metrics struct {
	mu   sync.Mutex
	snap MetricsSnapshot
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{snap: MetricsSnapshot{
		Stages: make(map[types.Stage]StageMetrics),
		Tools:  make(map[string]int),
		Agents: make(map[string]int),
	}}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	s.Stages = maps.Clone(m.snap.Stages)
	s.Tools = maps.Clone(m.snap.Tools)
	s.Agents = maps.Clone(m.snap.Agents)
	return s
}

func (m *Metrics) iteration() {
	m.mu.Lock()
	m.snap.Iterations++
	m.mu.Unlock()
}

func (m *Metrics) invocation(stage types.Stage, d time.Duration, err error) {
	m.update(stage, func(sm *StageMetrics) {
		sm.Invocations++
		sm.Duration += d
		if err != nil {
			sm.Errors++
		}
	})
}

func (m *Metrics) skipped(stage types.Stage) {
	m.update(stage, func(sm *StageMetrics) { sm.Skipped++ })
}

func (m *Metrics) rejected(stage types.Stage) {
	m.update(stage, func(sm *StageMetrics) { sm.Rejections++ })
}

func (m *Metrics) illegalTransition(stage types.Stage) {
	m.update(stage, func(sm *StageMetrics) { sm.IllegalTransitions++ })
}

func (m *Metrics) recovery() {
	m.mu.Lock()
	m.snap.Recoveries++
	m.mu.Unlock()
}

func (m *Metrics) termination() {
	m.mu.Lock()
	m.snap.Terminations++
	m.mu.Unlock()
}

// tools counts the agents and tools named in the metadata of msgs.
func (m *Metrics) tools(msgs []types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg.Meta == nil {
			continue
		}
		if msg.Meta.Agent != "" {
			m.snap.Agents[msg.Meta.Agent]++
		}
		for _, tool := range msg.Meta.ToolsUsed {
			m.snap.Tools[tool]++
		}
	}
}

func (m *Metrics) update(stage types.Stage, f func(*StageMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm := m.snap.Stages[stage]
	f(&sm)
	m.snap.Stages[stage] = sm
}
