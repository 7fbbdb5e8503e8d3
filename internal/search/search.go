// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search queries academic APIs for the retrieval stage and returns
// unified, deduplicated, ranked results.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// ErrEmptyQuery is returned when a query has no searchable terms.
var ErrEmptyQuery = errors.New("query is empty")

// Result is one search hit.
type Result struct {
	// Identifier is the backend's stable id (arXiv ID or DOI).
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors,omitempty"`
	Abstract   string    `json:"abstract,omitempty"`
	Date       time.Time `json:"date,omitzero"`
	URL        string    `json:"url"`

	// Backend lists the backends that returned the hit, comma separated.
	Backend string `json:"backend"`

	// Score is a 0-1 relevance score.
	Score float64 `json:"score"`
}

// Source converts the hit into a research source at position index.
// Credibility grows with relevance: 5 for the weakest hit, 10 for the best.
func (r Result) Source(index int, now time.Time) types.Source {
	summary := r.Abstract
	if len(r.Authors) > 0 {
		summary = strings.TrimSpace(formatAuthors(r.Authors) + ": " + summary)
	}
	return types.Source{
		Index:       index,
		Title:       r.Title,
		URL:         r.URL,
		Type:        "paper",
		Credibility: math.Round((5+5*r.Score)*10) / 10,
		Summary:     summary,
		RetrievedAt: now,
	}
}

// Backend searches a single academic API.
type Backend interface {
	Name() string
	Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]Result, error)
}

// Query holds the search parameters.
type Query struct {
	FreeText string
	Keywords []string
}

// IsEmpty reports whether the query contains no searchable terms.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.FreeText) == "" && len(q.Keywords) == 0
}

// Output holds the results and dedup statistics.
type Output struct {
	Results       []Result `json:"results"`
	DupsRemoved   int      `json:"dups_removed"`
	BackendErrors []string `json:"backend_errors,omitempty"`
}

// DefaultBackends returns the backends enabled in cfg.
func DefaultBackends(cfg types.SearchConfig, client *http.Client) []Backend {
	var out []Backend
	if cfg.EnableArxiv {
		out = append(out, &ArxivBackend{Client: client})
	}
	if cfg.EnableOpenAlex {
		out = append(out, &OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail})
	}
	return out
}

// Searcher fans queries out to its backends. Each backend sits behind a
// circuit breaker so a failing API is skipped for a while instead of
// slowing down every retrieval.
type Searcher struct {
	backends []Backend
	cfg      types.SearchConfig
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]circuitbreaker.CircuitBreaker[[]Result]
}

// BreakerThreshold is the number of consecutive failures that opens a
// backend's circuit.
const BreakerThreshold = 3

// BreakerTimeout is how long an open circuit stays open.
var BreakerTimeout = 60 * time.Second

// NewSearcher returns a searcher over backends.
func NewSearcher(cfg types.SearchConfig, logger *zap.Logger, backends ...Backend) *Searcher {
	return &Searcher{
		backends: backends,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		breakers: make(map[string]circuitbreaker.CircuitBreaker[[]Result]),
	}
}

// Backends returns the names of the configured backends.
func (s *Searcher) Backends() []string {
	names := make([]string, len(s.backends))
	for i, b := range s.backends {
		names[i] = b.Name()
	}
	return names
}

// Search queries all backends concurrently, deduplicates results, ranks
// them, and returns the top cfg.MaxResults. A failing backend is reported
// in Output.BackendErrors; Search only fails when the query is unusable or
// no backend is configured.
func (s *Searcher) Search(ctx context.Context, query Query) (Output, error) {
	if query.IsEmpty() {
		return Output{}, ErrEmptyQuery
	}
	if len(s.backends) == 0 {
		return Output{}, fmt.Errorf("no search backends configured")
	}

	type backendResult struct {
		results []Result
		err     error
		name    string
	}

	ch := make(chan backendResult, len(s.backends))
	var wg sync.WaitGroup

	for _, b := range s.backends {
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			results, err := s.breaker(b.Name()).Execute(ctx, func(ctx context.Context) ([]Result, error) {
				return b.Search(ctx, query, s.cfg)
			})
			ch <- backendResult{results: results, err: err, name: b.Name()}
		}(b)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	var all []Result
	var backendErrors []string
	for br := range ch {
		if br.err != nil {
			backendErrors = append(backendErrors, fmt.Sprintf("%s: %v", br.name, br.err))
			s.logger.Warn("search backend failed", logging.Backend(br.name), zap.Error(br.err))
			continue
		}
		s.logger.Debug("search backend returned", logging.Backend(br.name), zap.Int("results", len(br.results)))
		all = append(all, br.results...)
	}
	sort.Strings(backendErrors)

	deduped, removed := deduplicate(all)

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})

	if s.cfg.MaxResults > 0 && len(deduped) > s.cfg.MaxResults {
		deduped = deduped[:s.cfg.MaxResults]
	}

	return Output{
		Results:       deduped,
		DupsRemoved:   removed,
		BackendErrors: backendErrors,
	}, nil
}

func (s *Searcher) breaker(name string) circuitbreaker.CircuitBreaker[[]Result] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := circuitbreaker.New[[]Result](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    BreakerTimeout,
		Timeout:     BreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= BreakerThreshold
		},
	})
	s.breakers[name] = b
	return b
}

// deduplicate merges results that share an identifier or normalized title.
func deduplicate(results []Result) ([]Result, int) {
	seen := make(map[string]int) // dedup key → index in deduped
	var deduped []Result
	removed := 0

	for _, r := range results {
		key := ""
		if r.Identifier != "" {
			key = "id:" + strings.ToLower(r.Identifier)
		}
		if idx, ok := seen[key]; ok && key != "" {
			mergeInto(&deduped[idx], r)
			removed++
			continue
		}

		titleKey := "title:" + normalizeTitle(r.Title)
		if titleKey != "title:" {
			if idx, ok := seen[titleKey]; ok {
				mergeInto(&deduped[idx], r)
				removed++
				continue
			}
		}

		idx := len(deduped)
		deduped = append(deduped, r)
		if key != "" {
			seen[key] = idx
		}
		if titleKey != "title:" {
			seen[titleKey] = idx
		}
	}
	return deduped, removed
}

// mergeInto fills empty fields of dst from src and keeps the higher score.
func mergeInto(dst *Result, src Result) {
	if dst.Title == "" && src.Title != "" {
		dst.Title = src.Title
	}
	if len(dst.Authors) == 0 && len(src.Authors) > 0 {
		dst.Authors = src.Authors
	}
	if dst.Abstract == "" && src.Abstract != "" {
		dst.Abstract = src.Abstract
	}
	if dst.Date.IsZero() && !src.Date.IsZero() {
		dst.Date = src.Date
	}
	if dst.URL == "" && src.URL != "" {
		dst.URL = src.URL
	}
	if src.Score > dst.Score {
		dst.Score = src.Score
	}
	if dst.Backend != src.Backend && !strings.Contains(dst.Backend, src.Backend) {
		dst.Backend = dst.Backend + "," + src.Backend
	}
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// positionScore is the relevance assigned to the i-th of total hits from a
// backend that returns results in relevance order.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0]
	default:
		return authors[0] + " et al."
	}
}
