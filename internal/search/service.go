// Package search merges semantic retrieval with keyword matching into a
// single ranked result list.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultLimit is the result cap when the caller doesn't set one.
	DefaultLimit = 5

	// DefaultThreshold is the minimum cosine similarity for semantic hits.
	DefaultThreshold = 0.3

	// keywordBaseScore is the fixed score for a keyword match.
	keywordBaseScore = 0.8

	// hybridKeywordWeight discounts keyword hits in hybrid mode so a
	// keyword-only hit always ranks below a semantic hit for the same id.
	hybridKeywordWeight = 0.8
)

// Service answers retrieval queries over the vector store and the
// document store's literal-match scan.
type Service struct {
	vectors contracts.VectorStore
	docs    contracts.DocumentStore
}

// NewService creates a search service.
func NewService(vectors contracts.VectorStore, docs contracts.DocumentStore) *Service {
	return &Service{vectors: vectors, docs: docs}
}

// Search runs a retrieval query in the requested mode. An absent mode
// defaults to hybrid. Semantic search returning nothing (including
// embedding-backend failure) is not an error; hybrid degrades to the
// keyword side alone.
func (s *Service) Search(ctx context.Context, query, ownerID string, opts models.SearchOptions) ([]models.SearchResult, error) {
	start := time.Now()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	mode := opts.Mode
	if mode == "" {
		mode = models.SearchHybrid
	}

	var results []models.SearchResult
	var err error

	switch mode {
	case models.SearchSemantic:
		results, err = s.vectors.Search(ctx, query, ownerID, limit, threshold)
	case models.SearchKeyword:
		results, err = s.keywordSearch(ctx, query, ownerID, limit, keywordBaseScore)
	default:
		results, err = s.hybridSearch(ctx, query, ownerID, limit, threshold)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("mode", string(mode)).
		Int("results", len(results)).
		Dur("elapsed", time.Since(start)).
		Msg("search complete")
	return results, nil
}

// hybridSearch fetches 0.7×limit semantic hits and 0.3×limit keyword
// hits, inserts keyword hits only for unseen document ids at a
// discounted score, re-sorts and truncates.
func (s *Service) hybridSearch(ctx context.Context, query, ownerID string, limit int, threshold float64) ([]models.SearchResult, error) {
	semLimit := (limit*7 + 9) / 10
	kwLimit := (limit*3 + 9) / 10
	if semLimit < 1 {
		semLimit = 1
	}
	if kwLimit < 1 {
		kwLimit = 1
	}

	semantic, err := s.vectors.Search(ctx, query, ownerID, semLimit, threshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(semantic))
	merged := make([]models.SearchResult, 0, len(semantic)+kwLimit)
	for _, r := range semantic {
		seen[sourceID(r.Record)] = true
		merged = append(merged, r)
	}

	keyword, err := s.keywordSearch(ctx, query, ownerID, kwLimit, keywordBaseScore*hybridKeywordWeight)
	if err != nil {
		return nil, err
	}
	for _, r := range keyword {
		if seen[sourceID(r.Record)] {
			continue
		}
		seen[sourceID(r.Record)] = true
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// keywordSearch scans document fields and wraps matches as results with
// the given fixed score.
func (s *Service) keywordSearch(ctx context.Context, query, ownerID string, limit int, score float64) ([]models.SearchResult, error) {
	docs, err := s.docs.KeywordSearch(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, models.SearchResult{
			Record: models.VectorRecord{
				ID:      d.ID,
				OwnerID: d.OwnerID,
				Content: excerpt(d),
				Metadata: models.VectorMetadata{
					DocumentID: d.ID,
					Tags:       d.Tags,
					MIMEType:   d.MIMEType,
				},
				CreatedAt: d.CreatedAt,
			},
			Similarity: score,
		})
	}
	return results, nil
}

// sourceID is the identity used for hybrid de-duplication: the document
// a record came from, falling back to the record id.
func sourceID(r models.VectorRecord) string {
	if r.Metadata.DocumentID != "" {
		return r.Metadata.DocumentID
	}
	return r.ID
}

// excerpt returns the most useful short text for a keyword hit.
func excerpt(d models.Document) string {
	if d.Summary != "" {
		return d.Summary
	}
	runes := []rune(d.Content)
	if len(runes) > 500 {
		return string(runes[:500])
	}
	return d.Content
}
