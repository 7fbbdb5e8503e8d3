// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdiddy/research-orchestrator/internal/httputil"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// mockBackend returns canned results or an error.
type mockBackend struct {
	name    string
	results []Result
	err     error
	calls   atomic.Int32
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Search(_ context.Context, _ Query, _ types.SearchConfig) ([]Result, error) {
	m.calls.Add(1)
	return m.results, m.err
}

func testCfg() types.SearchConfig {
	return types.SearchConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:    10 * time.Second,
			UserAgent:  "test/0.1",
			MaxRetries: 1,
		},
		MaxResults: 20,
	}
}

func TestQueryIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  bool
	}{
		{"empty", Query{}, true},
		{"whitespace", Query{FreeText: "   "}, true},
		{"free text", Query{FreeText: "attention"}, false},
		{"keywords only", Query{Keywords: []string{"ml"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- Deduplication ---

func TestDeduplicateByIdentifier(t *testing.T) {
	results := []Result{
		{Identifier: "2301.07041", Title: "Paper A", Backend: "arxiv", Score: 0.9},
		{Identifier: "2301.07041", Title: "Paper A (from OpenAlex)", Backend: "openalex", Score: 0.8},
	}
	deduped, removed := deduplicate(results)
	if len(deduped) != 1 {
		t.Fatalf("len(deduped) = %d, want 1", len(deduped))
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if deduped[0].Backend != "arxiv,openalex" {
		t.Errorf("Backend = %q, want %q", deduped[0].Backend, "arxiv,openalex")
	}
	if deduped[0].Score != 0.9 {
		t.Errorf("Score = %f, want 0.9", deduped[0].Score)
	}
}

func TestDeduplicateByTitle(t *testing.T) {
	results := []Result{
		{Identifier: "2301.07041", Title: "Attention Is All You Need", Backend: "arxiv", Score: 0.5},
		{Identifier: "10.5555/3295222", Title: "Attention is all you need!", Backend: "openalex", Score: 0.7, URL: "https://doi.org/10.5555/3295222"},
	}
	deduped, removed := deduplicate(results)
	if len(deduped) != 1 || removed != 1 {
		t.Fatalf("deduped=%d removed=%d, want 1 and 1", len(deduped), removed)
	}
	if deduped[0].Score != 0.7 {
		t.Errorf("Score = %f, want the higher 0.7", deduped[0].Score)
	}
	if deduped[0].Identifier != "2301.07041" {
		t.Errorf("Identifier = %q, want first result's identifier kept", deduped[0].Identifier)
	}
}

func TestDeduplicateMergesEmptyFields(t *testing.T) {
	results := []Result{
		{Identifier: "X", Title: "T", Backend: "arxiv"},
		{Identifier: "X", Backend: "openalex", Abstract: "abs", Authors: []string{"A"}, URL: "https://u"},
	}
	deduped, _ := deduplicate(results)
	r := deduped[0]
	if r.Abstract != "abs" || len(r.Authors) != 1 || r.URL != "https://u" {
		t.Errorf("merge did not fill empty fields: %+v", r)
	}
}

func TestDeduplicateKeepsDistinct(t *testing.T) {
	results := []Result{
		{Identifier: "A", Title: "One"},
		{Identifier: "B", Title: "Two"},
		{Title: ""},
	}
	deduped, removed := deduplicate(results)
	if len(deduped) != 3 || removed != 0 {
		t.Errorf("deduped=%d removed=%d, want 3 and 0", len(deduped), removed)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Attention Is All You Need", "attention is all you need"},
		{"  BERT:  Pre-training! ", "bert pretraining"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeTitle(tt.in); got != tt.want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPositionScore(t *testing.T) {
	if got := positionScore(0, 1); got != 1.0 {
		t.Errorf("positionScore(0,1) = %f, want 1.0", got)
	}
	if got := positionScore(0, 5); got != 1.0 {
		t.Errorf("positionScore(0,5) = %f, want 1.0", got)
	}
	if got := positionScore(4, 5); got < 0.0999 || got > 0.1001 {
		t.Errorf("positionScore(4,5) = %f, want 0.1", got)
	}
}

// --- Result conversion ---

func TestResultSource(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Result{
		Title:    "Attention Is All You Need",
		Authors:  []string{"Ashish Vaswani", "Noam Shazeer"},
		Abstract: "We propose a new architecture.",
		URL:      "https://arxiv.org/abs/1706.03762",
		Score:    1.0,
	}
	src := r.Source(3, now)
	if src.Index != 3 {
		t.Errorf("Index = %d, want 3", src.Index)
	}
	if src.Credibility != 10 {
		t.Errorf("Credibility = %f, want 10", src.Credibility)
	}
	if src.Type != "paper" {
		t.Errorf("Type = %q, want paper", src.Type)
	}
	if src.Summary != "Ashish Vaswani et al.: We propose a new architecture." {
		t.Errorf("Summary = %q", src.Summary)
	}
	if !src.RetrievedAt.Equal(now) {
		t.Errorf("RetrievedAt = %v, want %v", src.RetrievedAt, now)
	}

	low := Result{Title: "x", Score: 0}.Source(0, now)
	if low.Credibility != 5 {
		t.Errorf("Credibility = %f, want 5", low.Credibility)
	}
}

// --- Searcher ---

func TestSearcherMergesAndRanks(t *testing.T) {
	a := &mockBackend{name: "arxiv", results: []Result{
		{Identifier: "1", Title: "Low", Backend: "arxiv", Score: 0.2},
		{Identifier: "2", Title: "Shared", Backend: "arxiv", Score: 0.5},
	}}
	b := &mockBackend{name: "openalex", results: []Result{
		{Identifier: "3", Title: "High", Backend: "openalex", Score: 0.9},
		{Identifier: "2", Title: "Shared", Backend: "openalex", Score: 0.6},
	}}
	s := NewSearcher(testCfg(), nil, a, b)

	out, err := s.Search(context.Background(), Query{FreeText: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if out.DupsRemoved != 1 {
		t.Errorf("DupsRemoved = %d, want 1", out.DupsRemoved)
	}
	var titles []string
	for _, r := range out.Results {
		titles = append(titles, r.Title)
	}
	if got := strings.Join(titles, ","); got != "High,Shared,Low" {
		t.Errorf("order = %s, want High,Shared,Low", got)
	}
}

func TestSearcherMaxResults(t *testing.T) {
	var results []Result
	for i := range 10 {
		results = append(results, Result{Identifier: fmt.Sprint(i), Title: fmt.Sprintf("Paper %d", i), Score: float64(i) / 10})
	}
	cfg := testCfg()
	cfg.MaxResults = 3
	s := NewSearcher(cfg, nil, &mockBackend{name: "m", results: results})

	out, err := s.Search(context.Background(), Query{FreeText: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(out.Results))
	}
	if out.Results[0].Title != "Paper 9" {
		t.Errorf("top = %q, want Paper 9", out.Results[0].Title)
	}
}

func TestSearcherBackendErrorIsReported(t *testing.T) {
	good := &mockBackend{name: "good", results: []Result{{Identifier: "1", Title: "One"}}}
	bad := &mockBackend{name: "bad", err: errors.New("boom")}
	s := NewSearcher(testCfg(), nil, good, bad)

	out, err := s.Search(context.Background(), Query{FreeText: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1", len(out.Results))
	}
	if len(out.BackendErrors) != 1 || !strings.HasPrefix(out.BackendErrors[0], "bad: ") {
		t.Errorf("BackendErrors = %v", out.BackendErrors)
	}
}

func TestSearcherBreakerSkipsFailingBackend(t *testing.T) {
	bad := &mockBackend{name: "bad", err: errors.New("boom")}
	s := NewSearcher(testCfg(), nil, bad)

	for range BreakerThreshold + 3 {
		out, err := s.Search(context.Background(), Query{FreeText: "x"})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(out.BackendErrors) != 1 {
			t.Fatalf("BackendErrors = %v, want one entry", out.BackendErrors)
		}
	}
	if got := bad.calls.Load(); got != BreakerThreshold {
		t.Errorf("backend called %d times, want %d", got, BreakerThreshold)
	}
}

func TestSearcherRejectsEmptyQuery(t *testing.T) {
	s := NewSearcher(testCfg(), nil, &mockBackend{name: "m"})
	if _, err := s.Search(context.Background(), Query{}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestSearcherNoBackends(t *testing.T) {
	s := NewSearcher(testCfg(), nil)
	if _, err := s.Search(context.Background(), Query{FreeText: "x"}); err == nil {
		t.Error("expected error with no backends")
	}
}

func TestDefaultBackends(t *testing.T) {
	cfg := testCfg()
	cfg.EnableArxiv = true
	cfg.EnableOpenAlex = true
	cfg.OpenAlexEmail = "me@example.com"

	backends := DefaultBackends(cfg, http.DefaultClient)
	if len(backends) != 2 {
		t.Fatalf("len = %d, want 2", len(backends))
	}
	s := NewSearcher(cfg, nil, backends...)
	if got := strings.Join(s.Backends(), ","); got != "arxiv,openalex" {
		t.Errorf("Backends() = %s", got)
	}
	if oa := backends[1].(*OpenAlexBackend); oa.Email != "me@example.com" {
		t.Errorf("Email = %q", oa.Email)
	}

	cfg.EnableArxiv = false
	cfg.EnableOpenAlex = false
	if got := DefaultBackends(cfg, http.DefaultClient); len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

// --- arXiv backend ---

const sampleArxivSearchXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v1</id>
    <title>Attention Is All
      You Need</title>
    <summary>We propose a new architecture based solely on attention mechanisms.</summary>
    <published>2017-06-12T17:57:34Z</published>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1810.04805v2</id>
    <title>BERT: Pre-training of Deep Bidirectional Transformers</title>
    <summary>We introduce BERT.</summary>
    <published>2018-10-11T00:00:00Z</published>
    <author><name>Jacob Devlin</name></author>
  </entry>
</feed>`

func TestArxivBackendSearch(t *testing.T) {
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, sampleArxivSearchXML)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: ts.Client()}
	results, err := b.Search(context.Background(), Query{FreeText: "attention"}, testCfg())
	if err != nil {
		t.Fatalf("ArxivBackend.Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if gotUA != "test/0.1" {
		t.Errorf("User-Agent = %q", gotUA)
	}

	r := results[0]
	if r.Identifier != "1706.03762" {
		t.Errorf("Identifier = %q, want %q", r.Identifier, "1706.03762")
	}
	if r.Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", r.Title)
	}
	if r.URL != "https://arxiv.org/abs/1706.03762" {
		t.Errorf("URL = %q", r.URL)
	}
	if len(r.Authors) != 2 {
		t.Errorf("len(Authors) = %d, want 2", len(r.Authors))
	}
	if r.Backend != "arxiv" {
		t.Errorf("Backend = %q, want %q", r.Backend, "arxiv")
	}
	if r.Score != 1.0 || results[1].Score >= r.Score {
		t.Errorf("scores = %f, %f; want descending from 1.0", r.Score, results[1].Score)
	}
	if r.Date.Year() != 2017 {
		t.Errorf("Date = %v", r.Date)
	}
}

func TestArxivBackendHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: ts.Client()}
	_, err := b.Search(context.Background(), Query{FreeText: "attention"}, testCfg())
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("err = %v, want HTTP 500", err)
	}
}

func TestArxivBackendRetriesRateLimit(t *testing.T) {
	oldDelay := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	defer func() { httputil.RetryBaseDelay = oldDelay }()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, sampleArxivSearchXML)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: ts.Client()}
	results, err := b.Search(context.Background(), Query{FreeText: "attention"}, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(results))
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/1706.03762v5", "1706.03762"},
		{"http://arxiv.org/abs/2301.12345", "2301.12345"},
		{"https://arxiv.org/abs/2301.07041v2", "2301.07041"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := extractArxivID(tt.input)
			if got != tt.want {
				t.Errorf("extractArxivID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildArxivQuery(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{"single term", Query{FreeText: "attention"}, "all:attention"},
		{"sub-question terms are any-of", Query{FreeText: "Permafrost methane release?"},
			"(all:permafrost OR all:methane OR all:release)"},
		{"repeated terms", Query{FreeText: "methane Methane"}, "all:methane"},
		{"keywords are required", Query{Keywords: []string{"transformers", "machine translation"}},
			`all:transformers AND all:"machine translation"`},
		{"combined", Query{FreeText: "attention heads", Keywords: []string{"nlp"}},
			"(all:attention OR all:heads) AND all:nlp"},
		{"blank keyword", Query{Keywords: []string{" "}}, ""},
		{"punctuation only", Query{FreeText: "?"}, ""},
		{"empty", Query{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildArxivQuery(tt.query)
			if got != tt.want {
				t.Errorf("buildArxivQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArxivBackendRequestParameters(t *testing.T) {
	var got url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, sampleArxivSearchXML)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	cfg := testCfg()
	cfg.MaxResults = 7
	b := &ArxivBackend{Client: ts.Client()}
	if _, err := b.Search(context.Background(), Query{FreeText: "permafrost methane"}, cfg); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if q := got.Get("search_query"); q != "(all:permafrost OR all:methane)" {
		t.Errorf("search_query = %q", q)
	}
	if got.Get("max_results") != "7" || got.Get("sortBy") != "relevance" {
		t.Errorf("params = %v", got)
	}
}

func TestArxivBackendRejectedQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<feed xmlns="http://www.w3.org/2005/Atom"><entry>
  <id>http://arxiv.org/api/errors#incorrect_query</id>
  <title>Error</title>
  <summary>malformed
    query</summary>
</entry></feed>`)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: ts.Client()}
	_, err := b.Search(context.Background(), Query{FreeText: "attention"}, testCfg())
	if err == nil || !strings.Contains(err.Error(), "malformed query") {
		t.Errorf("err = %v, want rejected query error", err)
	}
}

func TestArxivEntryResult(t *testing.T) {
	e := arxivEntry{
		ID:      "http://arxiv.org/abs/2401.00001v3",
		Title:   " Methane\n  flux ",
		Updated: "2024-01-02T00:00:00Z",
	}
	r, ok := e.result(0, 1)
	if !ok {
		t.Fatal("result dropped")
	}
	if r.Title != "Methane flux" || r.Identifier != "2401.00001" {
		t.Errorf("result = %+v", r)
	}
	if r.Date.Day() != 2 {
		t.Errorf("Date = %v, want updated stamp", r.Date)
	}

	if _, ok := (arxivEntry{ID: "http://arxiv.org/abs/2401.00001"}).result(0, 1); ok {
		t.Error("entry without title kept")
	}
}
