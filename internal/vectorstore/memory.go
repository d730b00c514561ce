// Package vectorstore holds embedded content chunks and answers cosine
// similarity queries. Ships an in-memory brute-force store (the default,
// single-process scope) and a pgvector-backed store for deployments that
// need the index to survive restarts.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
	"github.com/rs/zerolog/log"
)

var errEmptyEmbedding = errors.New("embedding driver returned no vector")

// MemoryStore is an in-memory vector store using brute-force cosine
// similarity. Records are kept in insertion order so equal-similarity
// results rank stably. Safe for concurrent use.
type MemoryStore struct {
	embedder contracts.EmbeddingDriver

	mu      sync.RWMutex
	records []*models.VectorRecord // insertion order
	byID    map[string]*models.VectorRecord
}

// NewMemoryStore creates an in-memory vector store backed by the given
// embedding driver.
func NewMemoryStore(embedder contracts.EmbeddingDriver) *MemoryStore {
	log.Info().Str("embedder", embedder.Kind()).Int("dims", embedder.Dimensions()).Msg("In-memory vector store initialized")
	return &MemoryStore{
		embedder: embedder,
		byID:     make(map[string]*models.VectorRecord),
	}
}

// Add embeds content and upserts a record. Any existing record with the
// same id is removed first, so replaced content is recomputed rather
// than appended.
func (s *MemoryStore) Add(ctx context.Context, id, ownerID, content string, meta models.VectorMetadata) error {
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return errEmptyEmbedding
	}

	rec := &models.VectorRecord{
		ID:        id,
		OwnerID:   ownerID,
		Content:   content,
		Embedding: vectors[0],
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[id]; exists {
		s.removeLocked(id)
	}
	s.records = append(s.records, rec)
	s.byID[id] = rec
	return nil
}

// Remove deletes the record with the given id. Unknown ids are a no-op.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

// RemoveByDocument deletes every record referencing the document id.
func (s *MemoryStore) RemoveByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.Metadata.DocumentID == documentID {
			delete(s.byID, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return nil
}

// Search embeds the query and ranks the owner's records by cosine
// similarity. Results below threshold are discarded; the rest are sorted
// descending with ties kept in insertion order. If the embedding backend
// is unavailable, Search returns an empty set so callers can fall back
// to keyword search.
func (s *MemoryStore) Search(ctx context.Context, query, ownerID string, limit int, threshold float64) ([]models.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Warn().Err(err).Msg("Embedding backend unavailable, semantic search returns empty")
		return nil, nil
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}
	qv := vectors[0]

	s.mu.RLock()
	var results []models.SearchResult
	for _, r := range s.records {
		if r.OwnerID != ownerID {
			continue
		}
		if len(r.Embedding) != len(qv) {
			continue
		}
		sim := cosineSimilarity(qv, r.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, models.SearchResult{Record: *r, Similarity: sim})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of records owned by ownerID.
func (s *MemoryStore) Count(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.records {
		if r.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

func (s *MemoryStore) removeLocked(id string) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return
		}
	}
}

// cosineSimilarity returns dot(a,b) / (‖a‖·‖b‖). A zero-magnitude vector
// has similarity 0 to every query rather than dividing by zero.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
