// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package approval gates stage invocations on human decisions. A gate asks
// before a critical or high-risk stage runs and again after a sensitive
// stage has produced output, rolling the output back on rejection.
package approval

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/internal/scheduler"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Policy decides which stages need approval.
type Policy struct {
	// Critical stages are approved before they run.
	Critical []types.Stage

	// Sensitive stages have their output approved after they run.
	Sensitive []types.Stage

	// HighRiskPhrases force a before-approval when any pending task of the
	// selected stage mentions one of them. Matching is case-insensitive.
	HighRiskPhrases []string
}

// PolicyFromConfig builds a Policy from the approval configuration.
func PolicyFromConfig(cfg types.ApprovalConfig) Policy {
	return Policy{
		Critical:        slices.Clone(cfg.CriticalStages),
		Sensitive:       slices.Clone(cfg.SensitiveStages),
		HighRiskPhrases: slices.Clone(cfg.HighRiskPhrases),
	}
}

// RequiresBefore reports whether stage needs approval before it runs on s,
// and why.
func (p Policy) RequiresBefore(stage types.Stage, s *types.ResearchState) (bool, string) {
	if slices.Contains(p.Critical, stage) {
		return true, "critical stage"
	}
	t, ok := stage.TaskType()
	if !ok {
		return false, ""
	}
	for _, task := range s.PendingTasks(t) {
		desc := strings.ToLower(task.Description)
		for _, phrase := range p.HighRiskPhrases {
			if phrase != "" && strings.Contains(desc, strings.ToLower(phrase)) {
				return true, fmt.Sprintf("task %q mentions %q", task.Description, phrase)
			}
		}
	}
	return false, ""
}

// RequiresAfter reports whether the output of stage needs approval.
func (p Policy) RequiresAfter(stage types.Stage) bool {
	return slices.Contains(p.Sensitive, stage)
}

// Gate asks a Channel for decisions according to a Policy and applies the
// consequences of each decision to the research state.
type Gate struct {
	channel         Channel
	policy          Policy
	contextMessages int
	excerptLength   int
	logger          *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = logging.OrNop(l) }
}

// WithContextMessages sets how many recent messages accompany a request.
func WithContextMessages(n int) Option {
	return func(g *Gate) { g.contextMessages = n }
}

// WithExcerptLength sets the length of draft and evaluation excerpts.
func WithExcerptLength(n int) Option {
	return func(g *Gate) { g.excerptLength = n }
}

// NewGate returns a gate sending requests to ch.
func NewGate(ch Channel, policy Policy, opts ...Option) *Gate {
	g := &Gate{
		channel:         ch,
		policy:          policy,
		contextMessages: 3,
		excerptLength:   500,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGateFromConfig builds a gate from the approval configuration.
func NewGateFromConfig(ch Channel, cfg types.ApprovalConfig, logger *zap.Logger) *Gate {
	opts := []Option{WithLogger(logger)}
	if cfg.ContextMessages > 0 {
		opts = append(opts, WithContextMessages(cfg.ContextMessages))
	}
	if cfg.ExcerptLength > 0 {
		opts = append(opts, WithExcerptLength(cfg.ExcerptLength))
	}
	return NewGate(ch, PolicyFromConfig(cfg), opts...)
}

// Before asks whether stage may run on s. It returns true without asking
// when the policy does not require approval. Decisions are recorded in the
// message log of s. When a report stage is rejected, the report task it
// would have worked on is marked completed so the run can move on.
func (g *Gate) Before(ctx context.Context, stage types.Stage, s *types.ResearchState) (bool, error) {
	required, reason := g.policy.RequiresBefore(stage, s)
	if !required {
		return true, nil
	}

	req := Request{
		Stage:   stage,
		Action:  fmt.Sprintf("run %s (%s)", stage, reason),
		Context: g.requestContext(stage, s),
	}
	approved, err := g.channel.Request(ctx, req)
	if err != nil {
		return false, fmt.Errorf("requesting approval before %s: %w", stage, err)
	}
	g.logger.Info("approval decision",
		logging.RunID(s.ID), logging.Stage(stage), logging.Approved(approved),
		logging.Reason(reason), zap.String("phase", "before"))

	if approved {
		s.AddMessage(types.KindHuman, stage, fmt.Sprintf("Approved running %s.", stage))
		return true, nil
	}

	s.AddMessage(types.KindHumanIntervention, stage, fmt.Sprintf("Rejected running %s; the stage was skipped.", stage))
	if stage == types.StageReport {
		if task, ok := scheduler.NextTask(s, stage); ok {
			s.CompleteTask(task.ID)
			s.AddMessage(types.KindSystem, stage,
				fmt.Sprintf("Report task %q marked completed without a report after rejection.", task.Description))
		}
	}
	return false, nil
}

// After asks whether the output of stage may be kept. before is the state
// the stage was invoked with and after the state it returned. On approval
// after is returned unchanged apart from the audit message. On rejection
// the stage's artifacts are cleared, the task ids it completed are removed,
// and the status is restored so the stage can be selected again.
func (g *Gate) After(ctx context.Context, stage types.Stage, before, after *types.ResearchState) (*types.ResearchState, bool, error) {
	if !g.policy.RequiresAfter(stage) {
		return after, true, nil
	}

	req := Request{
		Stage:   stage,
		Action:  fmt.Sprintf("accept output of %s", stage),
		Context: g.requestContext(stage, after),
	}
	approved, err := g.channel.Request(ctx, req)
	if err != nil {
		return after, false, fmt.Errorf("requesting approval after %s: %w", stage, err)
	}
	g.logger.Info("approval decision",
		logging.RunID(after.ID), logging.Stage(stage), logging.Approved(approved),
		zap.String("phase", "after"))

	if approved {
		after.AddMessage(types.KindHuman, stage, fmt.Sprintf("Approved output of %s.", stage))
		return after, true, nil
	}

	rolled := after
	switch stage {
	case types.StageEvaluate:
		rolled.Evaluation = nil
	case types.StageReport:
		rolled.Draft = ""
		rolled.Report = ""
		rolled.Summary = ""
	}
	for _, id := range after.Completed.Diff(before.Completed) {
		rolled.Completed.Remove(id)
	}
	rolled.Status = before.Status
	rolled.AddMessage(types.KindHumanIntervention, stage,
		fmt.Sprintf("Rejected output of %s; changes were rolled back for another attempt.", stage))
	return rolled, false, nil
}

// requestContext builds the summary shown with a request.
func (g *Gate) requestContext(stage types.Stage, s *types.ResearchState) map[string]any {
	var incomplete []string
	for _, t := range s.IncompleteTasks() {
		incomplete = append(incomplete, t.Description)
	}

	var recent []string
	msgs := s.Messages
	if len(msgs) > g.contextMessages {
		msgs = msgs[len(msgs)-g.contextMessages:]
	}
	for _, m := range msgs {
		recent = append(recent, m.Content)
	}

	c := map[string]any{
		"question":         s.Question,
		"status":           string(s.Status),
		"incomplete_tasks": incomplete,
		"recent_messages":  recent,
	}

	switch stage {
	case types.StageReport:
		draft := s.Draft
		if draft == "" {
			draft = s.Report
		}
		if draft != "" {
			c["draft_excerpt"] = truncate(draft, g.excerptLength)
		}
	case types.StageEvaluate:
		if ev := s.Evaluation; ev != nil {
			c["evaluation_excerpt"] = truncate(fmt.Sprintf(
				"quality %d/10, comprehensiveness %d/10, consistency %d/10, sufficient %t. %s",
				ev.Quality, ev.Comprehensiveness, ev.Consistency, ev.Sufficient, ev.Notes), g.excerptLength)
		}
	}
	return c
}
