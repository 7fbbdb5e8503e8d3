// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/research-orchestrator/internal/httputil"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// arxivAPIBase is the arXiv query endpoint. Tests point it at an httptest
// server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivBackend finds preprints on arXiv.
type ArxivBackend struct {
	Client *http.Client
}

// Name returns "arxiv".
func (b *ArxivBackend) Name() string { return "arxiv" }

// Search runs query against arXiv. Free text is matched on any of its
// terms, so a sub-question's keyword list widens the net instead of
// requiring every word; keywords are required phrases. arXiv ranks by
// relevance and the rank becomes the score.
func (b *ArxivBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]Result, error) {
	expr := buildArxivQuery(query)
	if expr == "" {
		return nil, ErrEmptyQuery
	}

	limit := cfg.MaxResults
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{
		"search_query": {expr},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(limit)},
		"sortBy":       {"relevance"},
		"sortOrder":    {"descending"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	results := make([]Result, 0, len(feed.Entries))
	for i, e := range feed.Entries {
		// A rejected query comes back as a single entry describing the error.
		if strings.Contains(e.ID, "/api/errors") {
			return nil, fmt.Errorf("arXiv rejected query %q: %s", expr, collapse(e.Summary))
		}
		if r, ok := e.result(i, len(feed.Entries)); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// buildArxivQuery turns a query into an arXiv search expression:
// free-text terms OR'ed together, AND'ed with one clause per keyword.
func buildArxivQuery(q Query) string {
	var clauses []string

	var terms []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(q.FreeText)) {
		w = strings.Trim(w, `?!.,;:"'()`)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, "all:"+w)
	}
	switch len(terms) {
	case 0:
	case 1:
		clauses = append(clauses, terms[0])
	default:
		clauses = append(clauses, "("+strings.Join(terms, " OR ")+")")
	}

	for _, kw := range q.Keywords {
		words := strings.Fields(kw)
		switch len(words) {
		case 0:
		case 1:
			clauses = append(clauses, "all:"+words[0])
		default:
			clauses = append(clauses, `all:"`+strings.Join(words, " ")+`"`)
		}
	}
	return strings.Join(clauses, " AND ")
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// result maps the entry at rank of total into a Result. Entries without an
// arXiv id or title are dropped.
func (e arxivEntry) result(rank, total int) (Result, bool) {
	id := extractArxivID(e.ID)
	title := collapse(e.Title)
	if id == "" || title == "" {
		return Result{}, false
	}

	r := Result{
		Identifier: id,
		Title:      title,
		Abstract:   collapse(e.Summary),
		URL:        "https://arxiv.org/abs/" + id,
		Backend:    "arxiv",
		Score:      positionScore(rank, total),
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			r.Authors = append(r.Authors, name)
		}
	}
	for _, stamp := range []string{e.Published, e.Updated} {
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			r.Date = t
			break
		}
	}
	return r, true
}

// collapse joins the whitespace-separated words of s with single spaces.
// Atom titles and abstracts are hard-wrapped.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractArxivID returns the version-less id of an abs URL
// ("http://arxiv.org/abs/2301.07041v1" is "2301.07041").
func extractArxivID(absURL string) string {
	_, id, ok := strings.Cut(absURL, "/abs/")
	if !ok || id == "" {
		return ""
	}
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			id = id[:v]
		}
	}
	return id
}
