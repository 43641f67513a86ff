package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]Hit
	errs    map[string]error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, num int) ([]Hit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	hits := f.results[query]
	if len(hits) > num {
		hits = hits[:num]
	}
	return hits, nil
}

type fakeKeywords struct {
	out  string
	err  error
	seen string
}

func (f *fakeKeywords) ExtractKeywords(_ context.Context, text string) (string, error) {
	f.seen = text
	return f.out, f.err
}

func hits(prefix string, n int) []Hit {
	out := make([]Hit, n)
	for i := range out {
		out[i] = Hit{Title: fmt.Sprintf("%s %d", prefix, i), Link: fmt.Sprintf("https://%s.example/%d", prefix, i)}
	}
	return out
}

func links(res *Result) []string {
	out := make([]string, len(res.Sources))
	for i, s := range res.Sources {
		out[i] = s.Link
	}
	return out
}

func TestAggregator_Gather_MergesUniqueResults(t *testing.T) {
	s := &fakeSearcher{results: map[string][]Hit{
		"toddler sleep":             hits("kw", 3),
		"how long should kids nap?": hits("q", 3),
	}}
	kw := &fakeKeywords{out: "toddler sleep"}
	a := NewAggregator(s, kw, WithLogger(zap.NewNop()))

	res, err := a.Gather(context.Background(), "how long should kids nap?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Keywords != "toddler sleep" {
		t.Errorf("Keywords = %q", res.Keywords)
	}
	want := []string{
		"https://kw.example/0", "https://kw.example/1", "https://kw.example/2",
		"https://q.example/0", "https://q.example/1", "https://q.example/2",
	}
	if diff := cmp.Diff(want, links(res)); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_Gather_AllDuplicates(t *testing.T) {
	shared := hits("shared", 3)
	fromQuestion := make([]Hit, len(shared))
	for i, h := range shared {
		h.Title = "question copy"
		fromQuestion[i] = h
	}
	s := &fakeSearcher{results: map[string][]Hit{"kw": shared, "q": fromQuestion}}
	a := NewAggregator(s, &fakeKeywords{out: "kw"})

	res, err := a.Gather(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) != 3 {
		t.Fatalf("len(Sources) = %d, want 3", len(res.Sources))
	}
	for _, src := range res.Sources {
		if src.Title == "question copy" {
			t.Errorf("kept the verbatim-search copy of %s; keyword copy must win", src.Link)
		}
	}
}

func TestAggregator_Gather_SearchFailureIsNotFatal(t *testing.T) {
	s := &fakeSearcher{
		results: map[string][]Hit{"q": hits("q", 2)},
		errs:    map[string]error{"kw": errors.New("quota exceeded")},
	}
	a := NewAggregator(s, &fakeKeywords{out: "kw"})

	res, err := a.Gather(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) != 2 {
		t.Errorf("len(Sources) = %d, want 2", len(res.Sources))
	}
}

func TestAggregator_Gather_BothSearchesFail(t *testing.T) {
	boom := errors.New("down")
	s := &fakeSearcher{errs: map[string]error{"kw": boom, "q": boom}}
	a := NewAggregator(s, &fakeKeywords{out: "kw"})

	res, err := a.Gather(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(res.Sources))
	}
}

func TestAggregator_Gather_KeywordFallback(t *testing.T) {
	s := &fakeSearcher{results: map[string][]Hit{"q": hits("q", 1)}}
	a := NewAggregator(s, &fakeKeywords{err: errors.New("llm down")})

	res, err := a.Gather(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Keywords != "q" {
		t.Errorf("Keywords = %q, want raw question", res.Keywords)
	}
	if len(res.Sources) != 1 {
		t.Errorf("len(Sources) = %d, want 1 after dedupe of identical queries", len(res.Sources))
	}
}

func TestAggregator_Gather_KeywordContextUsesLastTwoQuestions(t *testing.T) {
	s := &fakeSearcher{}
	kw := &fakeKeywords{out: "x"}
	a := NewAggregator(s, kw)

	if _, err := a.Gather(context.Background(), "now", []string{"first", "second", "third"}); err != nil {
		t.Fatal(err)
	}
	if kw.seen != "second\nthird\nnow" {
		t.Errorf("keyword input = %q", kw.seen)
	}
}

func TestAggregator_Gather_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAggregator(&fakeSearcher{}, nil)
	if _, err := a.Gather(ctx, "q", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMerge_TruncatesToLimit(t *testing.T) {
	got := Merge(MaxSources, hits("a", 5), hits("b", 5))
	if len(got) != MaxSources {
		t.Fatalf("len = %d, want %d", len(got), MaxSources)
	}
	if got[5].Link != "https://b.example/0" {
		t.Errorf("last kept = %s", got[5].Link)
	}
}
