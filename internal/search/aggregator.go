package search

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/pkg/utils"
)

const (
	// ResultsPerQuery is how many hits each of the two searches requests.
	ResultsPerQuery = 3
	// MaxSources bounds the merged source list.
	MaxSources = 6
	// KeywordContextQuestions is how many prior questions feed keyword extraction.
	KeywordContextQuestions = 2
)

// Result is the outcome of one Gather call.
type Result struct {
	// Keywords is the query sent alongside the verbatim question.
	Keywords string
	Sources  []models.Source
}

// Aggregator runs the keyword and verbatim searches for a question and merges their hits.
type Aggregator struct {
	searcher  Searcher
	keywords  KeywordExtractor
	keywordRP utils.RetryPolicy
	searchRP  utils.RetryPolicy
	logger    *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithKeywordPolicy sets the timeout and retry budget of keyword extraction.
func WithKeywordPolicy(p utils.RetryPolicy) Option {
	return func(a *Aggregator) { a.keywordRP = p }
}

// WithSearchPolicy sets the timeout and retry budget of each search call.
func WithSearchPolicy(p utils.RetryPolicy) Option {
	return func(a *Aggregator) { a.searchRP = p }
}

// WithLogger sets the aggregator logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates an aggregator. keywords may be nil, in which case the verbatim
// question is used as the keyword query.
func NewAggregator(searcher Searcher, keywords KeywordExtractor, opts ...Option) *Aggregator {
	a := &Aggregator{
		searcher: searcher,
		keywords: keywords,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Gather returns at most MaxSources sources for question. recent holds prior questions,
// oldest first; only the last KeywordContextQuestions are used.
// Search failures are logged and treated as empty result lists, so Gather only fails when
// ctx is done.
func (a *Aggregator) Gather(ctx context.Context, question string, recent []string) (*Result, error) {
	keywords := a.extractKeywords(ctx, question, recent)

	var keywordHits, questionHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keywordHits = a.search(gctx, keywords)
		return nil
	})
	g.Go(func() error {
		questionHits = a.search(gctx, question)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := Merge(MaxSources, keywordHits, questionHits)
	sources := make([]models.Source, 0, len(merged))
	for _, h := range merged {
		sources = append(sources, ToSource(h))
	}

	a.logger.Debug("sources gathered",
		zap.String("keywords", keywords),
		zap.Int("keyword_hits", len(keywordHits)),
		zap.Int("question_hits", len(questionHits)),
		zap.Int("sources", len(sources)))

	return &Result{Keywords: keywords, Sources: sources}, nil
}

func (a *Aggregator) extractKeywords(ctx context.Context, question string, recent []string) string {
	if a.keywords == nil {
		return question
	}
	if len(recent) > KeywordContextQuestions {
		recent = recent[len(recent)-KeywordContextQuestions:]
	}
	text := strings.Join(append(append([]string{}, recent...), question), "\n")

	kw, err := utils.Retry(ctx, a.keywordRP, func(ctx context.Context) (string, error) {
		return a.keywords.ExtractKeywords(ctx, text)
	})
	kw = strings.TrimSpace(kw)
	if err != nil || kw == "" {
		a.logger.Warn("keyword extraction failed, using question", zap.Error(err))
		return question
	}
	return kw
}

func (a *Aggregator) search(ctx context.Context, query string) []Hit {
	hits, err := utils.Retry(ctx, a.searchRP, func(ctx context.Context) ([]Hit, error) {
		return a.searcher.Search(ctx, query, ResultsPerQuery)
	})
	if err != nil {
		a.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	return hits
}
