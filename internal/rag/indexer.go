package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
)

// Indexer keeps the vector store in sync with document content.
type Indexer struct {
	vectors contracts.VectorStore
	chunker *Chunker
}

func NewIndexer(vectors contracts.VectorStore, chunker *Chunker) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &Indexer{vectors: vectors, chunker: chunker}
}

// Reindex replaces all vector records of a document with freshly
// chunked and embedded content. Chunk ids are derived from the document
// id so a second Reindex of the same document upserts cleanly.
func (ix *Indexer) Reindex(ctx context.Context, doc *models.Document) (int, error) {
	if err := ix.vectors.RemoveByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clearing stale vectors for document %s: %w", doc.ID, err)
	}

	chunks := ix.chunker.Split(indexableText(doc))
	meta := models.VectorMetadata{
		DocumentID: doc.ID,
		Tags:       doc.Tags,
		MIMEType:   doc.MIMEType,
	}
	for i, chunk := range chunks {
		id := fmt.Sprintf("%s#%d", doc.ID, i)
		if err := ix.vectors.Add(ctx, id, doc.OwnerID, chunk, meta); err != nil {
			return i, fmt.Errorf("indexing chunk %s: %w", id, err)
		}
	}

	log.Info().Str("document_id", doc.ID).Int("chunks", len(chunks)).Msg("Document reindexed")
	return len(chunks), nil
}

// Remove deletes every vector record belonging to the document.
func (ix *Indexer) Remove(ctx context.Context, documentID string) error {
	return ix.vectors.RemoveByDocument(ctx, documentID)
}

// indexableText concatenates the document fields worth embedding. The
// title and summary give short queries something to latch onto even
// when the body is long.
func indexableText(doc *models.Document) string {
	text := doc.Title
	if doc.Description != "" {
		text += "\n" + doc.Description
	}
	if doc.Summary != "" {
		text += "\n" + doc.Summary
	}
	if doc.Content != "" {
		text += "\n\n" + doc.Content
	}
	return text
}
