package search

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// GoogleSearcher queries the Google Custom Search JSON API.
type GoogleSearcher struct {
	svc      *customsearch.Service
	engineID string
}

// NewGoogleSearcher creates a searcher for the given API key and search engine id.
// Extra client options (endpoint, HTTP client) are passed through.
func NewGoogleSearcher(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	if apiKey == "" || engineID == "" {
		return nil, fmt.Errorf("google search requires an api key and a search engine id")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create custom search service: %w", err)
	}
	return &GoogleSearcher{svc: svc, engineID: engineID}, nil
}

// Search returns at most num results for query.
func (g *GoogleSearcher) Search(ctx context.Context, query string, num int) ([]Hit, error) {
	resp, err := g.svc.Cse.List().Q(query).Cx(g.engineID).Num(int64(num)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("custom search %q: %w", query, err)
	}
	hits := make([]Hit, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		hits = append(hits, Hit{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
			Meta:    metatags(item.Pagemap),
		})
	}
	return hits, nil
}

// metatags decodes the first metatags entry of a page map, keeping string values only.
func metatags(pagemap []byte) map[string]string {
	if len(pagemap) == 0 {
		return nil
	}
	var pm struct {
		Metatags []map[string]any `json:"metatags"`
	}
	if err := json.Unmarshal(pagemap, &pm); err != nil || len(pm.Metatags) == 0 {
		return nil
	}
	out := make(map[string]string, len(pm.Metatags[0]))
	for k, v := range pm.Metatags[0] {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
