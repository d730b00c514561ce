package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// PgvectorStore implements VectorStore on PostgreSQL with the pgvector
// extension, for deployments where the index must survive restarts.
// Connection URL comes from KBCHAT_PGVECTOR_URL.
type PgvectorStore struct {
	pool     *pgxpool.Pool
	embedder contracts.EmbeddingDriver
}

// NewPgvectorStore creates a pgvector-backed vector store. It creates the
// required table and indexes if they don't exist.
func NewPgvectorStore(ctx context.Context, connURL string, embedder contracts.EmbeddingDriver) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, embedder: embedder}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", embedder.Dimensions()).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS kb_vectors (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			tags        TEXT[] NOT NULL DEFAULT '{}',
			mime_type   TEXT NOT NULL DEFAULT '',
			embedding   vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_kb_vectors_owner ON kb_vectors (owner_id);
		CREATE INDEX IF NOT EXISTS idx_kb_vectors_document ON kb_vectors (document_id);
	`, s.embedder.Dimensions())

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Add embeds content and upserts the record under id.
func (s *PgvectorStore) Add(ctx context.Context, id, ownerID, content string, meta models.VectorMetadata) error {
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return errEmptyEmbedding
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO kb_vectors (id, owner_id, document_id, content, tags, mime_type, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			tags = EXCLUDED.tags,
			mime_type = EXCLUDED.mime_type,
			embedding = EXCLUDED.embedding`,
		id, ownerID, meta.DocumentID, content, meta.Tags, meta.MIMEType,
		pgvectorArray(vectors[0]), time.Now().UTC())
	return err
}

// Remove deletes the record with the given id.
func (s *PgvectorStore) Remove(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM kb_vectors WHERE id = $1", id)
	return err
}

// RemoveByDocument deletes every record referencing the document id.
func (s *PgvectorStore) RemoveByDocument(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM kb_vectors WHERE document_id = $1", documentID)
	return err
}

// Search embeds the query and ranks by cosine similarity. Embedding
// backend failure yields an empty result set, matching the in-memory
// store's fallback contract.
func (s *PgvectorStore) Search(ctx context.Context, query, ownerID string, limit int, threshold float64) ([]models.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Warn().Err(err).Msg("Embedding backend unavailable, semantic search returns empty")
		return nil, nil
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, document_id, content, tags, mime_type, created_at,
			1 - (embedding <=> $1) AS similarity
		FROM kb_vectors
		WHERE owner_id = $2 AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvectorArray(vectors[0]), ownerID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var rec models.VectorRecord
		var sim float64
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Metadata.DocumentID, &rec.Content,
			&rec.Metadata.Tags, &rec.Metadata.MIMEType, &rec.CreatedAt, &sim); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, models.SearchResult{Record: rec, Similarity: sim})
	}
	return results, rows.Err()
}

// Count returns the number of records owned by ownerID.
func (s *PgvectorStore) Count(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM kb_vectors WHERE owner_id = $1", ownerID).Scan(&count)
	return count, err
}

// HealthCheck pings the database.
func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
