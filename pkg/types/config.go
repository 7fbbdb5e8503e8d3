// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by handlers that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "research-orchestrator/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds retries on HTTP 429 responses (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// SearchConfig holds settings for the retrieval handler's search backends.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MaxResults is the number of sources kept per retrieval task (default 5).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// EnableArxiv controls whether the arXiv backend is used.
	EnableArxiv bool `json:"enable_arxiv" yaml:"enable_arxiv" mapstructure:"enable_arxiv"`

	// EnableOpenAlex controls whether the OpenAlex backend is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex" mapstructure:"enable_openalex"`

	// OpenAlexEmail is sent as the mailto parameter for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`
}

// OrchestratorConfig holds the run loop and stall controller settings.
type OrchestratorConfig struct {
	// MaxIterations is the iteration budget of a run (default 20).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`

	// StallRecoverAfter is the number of stalled iterations that triggers a
	// corrective action (default 3).
	StallRecoverAfter int `json:"stall_recover_after" yaml:"stall_recover_after" mapstructure:"stall_recover_after"`

	// StallTerminateAfter is the number of stalled iterations that forces a
	// fallback completion (default 5).
	StallTerminateAfter int `json:"stall_terminate_after" yaml:"stall_terminate_after" mapstructure:"stall_terminate_after"`
}

// ApprovalMode selects the approval channel.
type ApprovalMode string

const (
	ApprovalConsole ApprovalMode = "console"
	ApprovalAuto    ApprovalMode = "auto"
	ApprovalDeny    ApprovalMode = "deny"
)

// ApprovalConfig holds the approval gate policy.
type ApprovalConfig struct {
	// Mode selects console, auto, or deny.
	Mode ApprovalMode `json:"mode" yaml:"mode" mapstructure:"mode"`

	// CriticalStages always require approval before they run.
	CriticalStages []Stage `json:"critical_stages" yaml:"critical_stages" mapstructure:"critical_stages"`

	// SensitiveStages require approval of their output.
	SensitiveStages []Stage `json:"sensitive_stages" yaml:"sensitive_stages" mapstructure:"sensitive_stages"`

	// HighRiskPhrases trigger approval when found in a pending task description.
	HighRiskPhrases []string `json:"high_risk_phrases" yaml:"high_risk_phrases" mapstructure:"high_risk_phrases"`

	// ContextMessages is how many recent messages accompany a request (default 3).
	ContextMessages int `json:"context_messages" yaml:"context_messages" mapstructure:"context_messages"`

	// ExcerptLength truncates draft and evaluation excerpts (default 500).
	ExcerptLength int `json:"excerpt_length" yaml:"excerpt_length" mapstructure:"excerpt_length"`
}

// StoreBackend selects the run store implementation.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreSQLite StoreBackend = "sqlite"
)

// StoreConfig holds run store settings.
type StoreConfig struct {
	// Backend selects memory or sqlite.
	Backend StoreBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dir is the directory holding the SQLite database (contains runs.db).
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console.
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Depth presets the iteration budget of a run.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// MaxIterations returns the iteration budget for the depth.
func (d Depth) MaxIterations() int {
	switch d {
	case DepthQuick:
		return 10
	case DepthDeep:
		return 30
	}
	return 20
}

// ParseDepth validates a depth name. The empty string means standard.
func ParseDepth(s string) (Depth, error) {
	switch Depth(s) {
	case "":
		return DepthStandard, nil
	case DepthQuick, DepthStandard, DepthDeep:
		return Depth(s), nil
	}
	return "", fmt.Errorf("unknown depth %q: use quick, standard, or deep", s)
}

// Config groups all component configurations.
type Config struct {
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	Approval     ApprovalConfig     `json:"approval" yaml:"approval" mapstructure:"approval"`
	Store        StoreConfig        `json:"store" yaml:"store" mapstructure:"store"`
	Search       SearchConfig       `json:"search" yaml:"search" mapstructure:"search"`
	Log          LogConfig          `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			MaxIterations:       DepthStandard.MaxIterations(),
			StallRecoverAfter:   3,
			StallTerminateAfter: 5,
		},
		Approval: ApprovalConfig{
			Mode:            ApprovalConsole,
			CriticalStages:  []Stage{StageReport},
			SensitiveStages: []Stage{StageEvaluate, StageReport},
			HighRiskPhrases: []string{"delete", "publish", "external", "send", "purchase", "personal data"},
			ContextMessages: 3,
			ExcerptLength:   500,
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
			Dir:     "runs",
		},
		Search: SearchConfig{
			HTTPConfig: HTTPConfig{
				Timeout:    30 * time.Second,
				UserAgent:  "research-orchestrator/0.1",
				MaxRetries: 5,
			},
			MaxResults:     5,
			EnableArxiv:    true,
			EnableOpenAlex: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
