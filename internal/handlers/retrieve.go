// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/internal/search"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// maxKeywords bounds the terms sent to the search backends.
const maxKeywords = 8

// stopwords are dropped when building search keywords.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"from": true, "how": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "the": true, "this": true, "to": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"with": true, "about": true, "information": true, "find": true,
}

// Searcher runs a search query. *search.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, query search.Query) (search.Output, error)
}

// Retriever gathers sources for the first pending retrieval task.
type Retriever struct {
	// Searcher queries the academic backends. Nil means offline.
	Searcher Searcher
	Logger   *zap.Logger
}

// Handle searches for the task's sub-question and appends the hits as
// sources. When the search is offline, fails, or finds nothing, a single
// general-information source is recorded so the run can make progress.
func (r *Retriever) Handle(ctx context.Context, s *types.ResearchState) (*types.ResearchState, error) {
	task, ok := firstPending(s, types.TaskRetrieve)
	if !ok {
		note(s, types.StageRetrieve, AgentRetrieval, "No pending retrieval tasks.")
		return s, nil
	}
	sub := topic(task, s.Question)
	log := logging.OrNop(r.Logger).With(logging.RunID(s.ID), logging.Stage(types.StageRetrieve), logging.TaskID(task.ID))
	now := time.Now()

	var added []types.Source
	tools := []string{ToolSearch}
	if r.Searcher == nil {
		tools = []string{ToolFallback}
	} else {
		out, err := r.Searcher.Search(ctx, search.Query{FreeText: strings.Join(Keywords(s.Question, sub), " ")})
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("search failed", zap.Error(err))
		default:
			for _, be := range out.BackendErrors {
				log.Warn("search backend error", logging.Reason(be))
			}
			for _, res := range out.Results {
				if hasURL(s.Sources, res.URL) || hasURL(added, res.URL) {
					continue
				}
				added = append(added, res.Source(len(s.Sources)+len(added), now))
			}
		}
	}
	if len(added) == 0 {
		if r.Searcher != nil {
			tools = append(tools, ToolFallback)
		}
		added = append(added, fallbackSource(sub, len(s.Sources), now))
	}

	s.Sources = append(s.Sources, added...)
	s.CompleteTask(task.ID)
	if s.Status == types.StatusPlanning {
		s.Status = types.StatusResearching
	}
	note(s, types.StageRetrieve, AgentRetrieval,
		fmt.Sprintf("Retrieved %d relevant sources for: %s", len(added), sub), tools...)
	log.Debug("retrieval complete", zap.Int("sources", len(added)))
	return s, nil
}

// Keywords extracts search terms from the sub-question, padded with terms
// from the research question, without stopwords or duplicates.
func Keywords(question, sub string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, text := range []string{sub, question} {
		for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
		}) {
			w = strings.Trim(w, "-")
			if len(w) < 2 || stopwords[w] || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
			if len(out) == maxKeywords {
				return out
			}
		}
	}
	return out
}

func fallbackSource(sub string, index int, now time.Time) types.Source {
	return types.Source{
		Index:       index,
		Title:       "General information about " + sub,
		URL:         "https://example.com/general-info",
		Type:        "web",
		Credibility: 5,
		Summary:     "This source provides general information about " + sub + ".",
		RetrievedAt: now,
	}
}

func hasURL(sources []types.Source, url string) bool {
	if url == "" {
		return false
	}
	for _, src := range sources {
		if src.URL == url {
			return true
		}
	}
	return false
}
