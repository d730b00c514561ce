package vectorstore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kbchat/kbchat/pkg/models"
)

// fakeEmbedder returns canned vectors keyed by text.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Kind() string      { return "fake" }
func (f *fakeEmbedder) Dimensions() int   { return 3 }
func (f *fakeEmbedder) MaxBatchSize() int { return 16 }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float64{1, 0, 0}
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) HealthCheck(context.Context) error { return f.err }

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors: got %f, want 1", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: got %f, want 0", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite vectors: got %f, want -1", got)
	}
	if got := cosineSimilarity([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Errorf("zero vector: got %f, want 0", got)
	}
}

func TestSearchRankingAndThreshold(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"query":    {1, 0, 0},
		"close":    {0.9, 0.1, 0},
		"far":      {0.5, 0.5, 0},
		"opposite": {-1, 0, 0},
	}}
	s := NewMemoryStore(emb)

	for _, id := range []string{"close", "far", "opposite"} {
		if err := s.Add(ctx, id, "owner", id, models.VectorMetadata{}); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	results, err := s.Search(ctx, "query", "owner", 10, 0.3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (opposite is below threshold)", len(results))
	}
	if results[0].Record.ID != "close" || results[1].Record.ID != "far" {
		t.Errorf("wrong order: %s, %s", results[0].Record.ID, results[1].Record.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("results not sorted descending")
	}
}

func TestSearchFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&fakeEmbedder{vectors: map[string][]float64{}})

	if err := s.Add(ctx, "a", "alice", "a", models.VectorMetadata{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "b", "bob", "b", models.VectorMetadata{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Search(ctx, "q", "alice", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Record.OwnerID != "alice" {
		t.Errorf("expected only alice's record, got %d results", len(results))
	}
}

func TestAddReplacesSameID(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"old text": {0, 1, 0},
		"new text": {1, 0, 0},
	}}
	s := NewMemoryStore(emb)

	if err := s.Add(ctx, "doc#0", "owner", "old text", models.VectorMetadata{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "doc#0", "owner", "new text", models.VectorMetadata{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	count, _ := s.Count(ctx, "owner")
	if count != 1 {
		t.Fatalf("got %d records after replace, want 1", count)
	}

	results, err := s.Search(ctx, "new text", "owner", 1, 0.9)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Record.Content != "new text" {
		t.Errorf("replaced record not found with new content")
	}
}

func TestSearchEmbedderFailureReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float64{}}
	s := NewMemoryStore(emb)
	if err := s.Add(ctx, "a", "owner", "a", models.VectorMetadata{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	emb.err = errors.New("backend down")
	results, err := s.Search(ctx, "q", "owner", 10, 0)
	if err != nil {
		t.Fatalf("Search should not propagate embedder errors, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from failed embed, want 0", len(results))
	}
}

func TestRemoveByDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&fakeEmbedder{vectors: map[string][]float64{}})

	meta := models.VectorMetadata{DocumentID: "doc-1"}
	for _, id := range []string{"doc-1#0", "doc-1#1"} {
		if err := s.Add(ctx, id, "owner", id, meta); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := s.Add(ctx, "doc-2#0", "owner", "other", models.VectorMetadata{DocumentID: "doc-2"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.RemoveByDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("RemoveByDocument: %v", err)
	}
	count, _ := s.Count(ctx, "owner")
	if count != 1 {
		t.Errorf("got %d records after RemoveByDocument, want 1", count)
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	s := NewMemoryStore(&fakeEmbedder{vectors: map[string][]float64{}})
	if err := s.Remove(context.Background(), "missing"); err != nil {
		t.Fatalf("Remove unknown id: %v", err)
	}
}
