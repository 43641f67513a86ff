// Package recall provides full-text search over a user's past turns.
package recall

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/pkg/utils"
)

const (
	// DefaultLimit is used when Search is called with limit <= 0.
	DefaultLimit = 10
	snippetLength = 160
	// fuzzyMinRunes is the shortest analyzed term that also gets a fuzzy clause. Shorter
	// terms, including single CJK ideographs, match exactly.
	fuzzyMinRunes = 4
	// deleteBatch bounds how many hits one delete pass collects.
	deleteBatch = 1000
)

// SearchOptions tunes recall queries. Nil means defaults.
type SearchOptions struct {
	// QuestionBoost weights matches in the question above matches in the answer.
	QuestionBoost float64
	// Fuzziness enables typo-tolerant matching with the given edit distance (1 or 2).
	Fuzziness int
}

// Hit is one matching turn.
type Hit struct {
	ConversationID string  `json:"conversationId"`
	MessageID      string  `json:"messageId"`
	Title          string  `json:"title"`
	Question       string  `json:"question"`
	Snippet        string  `json:"snippet"`
	Timestamp      string  `json:"timestamp"`
	Score          float64 `json:"score"`
}

// turnDoc is the indexed form of a turn.
type turnDoc struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
	Timestamp      string `json:"timestamp"`
}

// Index is a bleve index of turns keyed by message id.
type Index struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase + tokenize, no stemming.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("question", text)
	doc.AddFieldMappingsAt("answer", text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	doc.AddFieldMappingsAt("user_id", exact)
	doc.AddFieldMappingsAt("conversation_id", exact)

	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	doc.AddFieldMappingsAt("timestamp", stored)

	im.AddDocumentMapping("turn", doc)
	im.DefaultType = "turn"
	im.DefaultMapping = doc
	return im
}

// Open creates or opens an index at path. An empty path gives an in-memory index.
func Open(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory recall index: %w", err)
		}
		return &Index{index: idx}, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open recall index: %w", err)
		}
		return &Index{index: idx}, nil
	}
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create recall index: %w", err)
	}
	return &Index{index: idx}, nil
}

// IndexTurn adds or replaces the turn msg of conv.
func (x *Index) IndexTurn(ctx context.Context, conv *models.Conversation, msg models.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message has no id")
	}
	return x.index.Index(msg.ID, turnDoc{
		UserID:         conv.UserID,
		ConversationID: conv.ID,
		Title:          conv.Title,
		Question:       msg.Text,
		Answer:         msg.Answer,
		Timestamp:      msg.Timestamp,
	})
}

// Search returns the user's turns matching query, best first.
func (x *Index) Search(ctx context.Context, userID, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if userID == "" || query == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	boost := 2.0
	fuzziness := 0
	if opts != nil {
		if opts.QuestionBoost > 0 {
			boost = opts.QuestionBoost
		}
		fuzziness = opts.Fuzziness
	}

	terms := x.terms(query)
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	text := bleve.NewDisjunctionQuery(
		fieldQuery(query, terms, "question", boost, fuzziness),
		fieldQuery(query, terms, "answer", 1, fuzziness),
		fieldQuery(query, terms, "title", 1, fuzziness),
	)
	q := bleve.NewConjunctionQuery(exactQuery("user_id", userID), text)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"conversation_id", "title", "question", "answer", "timestamp"}
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recall search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{
			ConversationID: field(h.Fields, "conversation_id"),
			MessageID:      h.ID,
			Title:          field(h.Fields, "title"),
			Question:       field(h.Fields, "question"),
			Snippet:        utils.Truncate(field(h.Fields, "answer"), snippetLength),
			Timestamp:      field(h.Fields, "timestamp"),
			Score:          h.Score,
		})
	}
	return hits, nil
}

// DeleteConversation removes every indexed turn of the user's conversation.
func (x *Index) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	q := bleve.NewConjunctionQuery(
		exactQuery("user_id", userID),
		exactQuery("conversation_id", conversationID),
	)
	for {
		req := bleve.NewSearchRequest(q)
		req.Size = deleteBatch
		res, err := x.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("recall lookup failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := x.index.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := x.index.Batch(batch); err != nil {
			return fmt.Errorf("recall delete failed: %w", err)
		}
		if len(res.Hits) < deleteBatch {
			return nil
		}
	}
}

// DocCount returns the number of indexed turns.
func (x *Index) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *Index) Close() error {
	return x.index.Close()
}

func exactQuery(fieldName, value string) blevequery.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(fieldName)
	return q
}

// fieldQuery matches the analyzed query against one field. With fuzziness > 0 each analyzed
// term long enough gets an extra FuzzyQuery, so typos still match while punctuation and CJK
// text go through the same analyzer as the indexed text.
func fieldQuery(query string, terms []string, fieldName string, boost float64, fuzziness int) blevequery.Query {
	mq := bleve.NewMatchQuery(query)
	mq.SetField(fieldName)
	mq.SetBoost(boost)
	if fuzziness <= 0 {
		return mq
	}
	queries := []blevequery.Query{mq}
	for _, term := range terms {
		if utf8.RuneCountInString(term) < fuzzyMinRunes {
			continue
		}
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldName)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return mq
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// terms runs s through the analyzer of the text fields.
func (x *Index) terms(s string) []string {
	analyzer := x.index.Mapping().AnalyzerNamed(standard.Name)
	if analyzer == nil {
		return strings.Fields(strings.ToLower(s))
	}
	var out []string
	for _, tok := range analyzer.Analyze([]byte(s)) {
		out = append(out, string(tok.Term))
	}
	return out
}

func field(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}
