package search

import (
	"strings"
	"time"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// DisplayDateLayout is how source dates are shown to clients.
const DisplayDateLayout = "Jan 2, 2006"

var dateMetaKeys = []string{"article:published_time", "date", "og:updated_time"}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToSource normalizes a provider hit. The date comes from the first non-empty of
// article:published_time, date, og:updated_time; the passage from og:description,
// falling back to the snippet.
func ToSource(h Hit) models.Source {
	s := models.Source{
		Title:   strings.TrimSpace(h.Title),
		Link:    h.Link,
		Passage: strings.TrimSpace(h.Snippet),
	}
	if d := strings.TrimSpace(h.Meta["og:description"]); d != "" {
		s.Passage = d
	}
	for _, k := range dateMetaKeys {
		if v := strings.TrimSpace(h.Meta[k]); v != "" {
			formatted := FormatDate(v)
			s.Date = &formatted
			break
		}
	}
	return s
}

// FormatDate renders a provider date as DisplayDateLayout, or returns raw unchanged when it
// cannot be parsed.
func FormatDate(raw string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DisplayDateLayout)
		}
	}
	return raw
}

// Merge concatenates the lists in order, keeps the first occurrence of each link, and
// truncates the result to limit entries.
func Merge(limit int, lists ...[]Hit) []Hit {
	seen := make(map[string]bool)
	var out []Hit
	for _, list := range lists {
		for _, h := range list {
			if seen[h.Link] {
				continue
			}
			seen[h.Link] = true
			out = append(out, h)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}
