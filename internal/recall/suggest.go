package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"

	"github.com/wenhaiyang6/parenting/pkg/utils"
)

const (
	// MaxSuggestDistance is the largest edit distance a correction may have.
	MaxSuggestDistance = 2
	// vocabularyDocs caps how many of the user's turns feed the vocabulary.
	vocabularyDocs = 500
	minTermLength  = 3
)

// Suggest returns a corrected query built from the user's own vocabulary, or "" when every
// term is known or no close term exists. Only the user's turns are consulted, so no
// vocabulary crosses users.
func (x *Index) Suggest(ctx context.Context, userID, query string) (string, error) {
	terms := x.terms(query)
	if userID == "" || len(terms) == 0 {
		return "", nil
	}
	vocab, err := x.vocabulary(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(vocab) == 0 {
		return "", nil
	}

	corrected := make([]string, len(terms))
	changed := false
	for i, term := range terms {
		corrected[i] = term
		if _, known := vocab[term]; known || len([]rune(term)) < minTermLength {
			continue
		}
		if best, ok := closest(term, vocab); ok {
			corrected[i] = best
			changed = true
		}
	}
	if !changed {
		return "", nil
	}
	return strings.Join(corrected, " "), nil
}

// vocabulary maps each term of the user's questions and titles to the number of turns that
// contain it.
func (x *Index) vocabulary(ctx context.Context, userID string) (map[string]int, error) {
	req := bleve.NewSearchRequest(exactQuery("user_id", userID))
	req.Size = vocabularyDocs
	req.Fields = []string{"title", "question"}
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recall vocabulary failed: %w", err)
	}
	vocab := make(map[string]int)
	for _, h := range res.Hits {
		seen := make(map[string]bool)
		for _, term := range x.terms(field(h.Fields, "title") + " " + field(h.Fields, "question")) {
			if !seen[term] {
				seen[term] = true
				vocab[term]++
			}
		}
	}
	return vocab, nil
}

// closest picks the vocabulary term nearest to term, preferring frequent terms. Ties break
// alphabetically so results are stable.
func closest(term string, vocab map[string]int) (string, bool) {
	type candidate struct {
		term  string
		score float64
	}
	var found []candidate
	n := len([]rune(term))
	for v, freq := range vocab {
		diff := len([]rune(v)) - n
		if diff < -MaxSuggestDistance || diff > MaxSuggestDistance {
			continue
		}
		d := utils.LevenshteinDistance(term, v)
		if d == 0 || d > MaxSuggestDistance {
			continue
		}
		found = append(found, candidate{term: v, score: float64(freq) / float64(d+1)})
	}
	if len(found) == 0 {
		return "", false
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].score != found[j].score {
			return found[i].score > found[j].score
		}
		return found[i].term < found[j].term
	})
	return found[0].term, true
}
