// Package search gathers grounding sources for a question from an external web-search provider.
package search

import "context"

// Hit is one raw provider result before normalization.
type Hit struct {
	Title   string
	Link    string
	Snippet string
	// Meta holds the page's meta tags (first metatags block of the provider's page map).
	Meta map[string]string
}

// Searcher is a web-search provider.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]Hit, error)
}

// KeywordExtractor turns the recent question texts into a short web query.
type KeywordExtractor interface {
	ExtractKeywords(ctx context.Context, text string) (string, error)
}

// NopSearcher returns no hits. It backs the "none" provider, so turns run ungrounded.
type NopSearcher struct{}

// Search returns nil.
func (NopSearcher) Search(context.Context, string, int) ([]Hit, error) { return nil, nil }
