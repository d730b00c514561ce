// Package contracts defines the service interfaces of the kbchat chat plane.
//
// These interfaces form the boundary between the response pipeline and its
// external collaborators: the document/history stores, the embedding and
// completion backends, and message delivery. The pipeline only ever sees
// these interfaces, so a persistent or distributed implementation can be
// swapped in without touching pipeline logic.
package contracts

import (
	"context"

	"github.com/kbchat/kbchat/pkg/models"
)

// ── Embedding ───────────────────────────────────────────────

// EmbeddingDriver generates vector embeddings for batches of text.
// Drivers must truncate oversized input themselves or reject it.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g. "openai", "ollama").
	Kind() string

	// Dimensions returns the fixed embedding dimensionality.
	Dimensions() int

	// MaxBatchSize returns the max texts per Embed call.
	MaxBatchSize() int

	// Embed generates one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Vector store ────────────────────────────────────────────

// VectorStore holds embedded content chunks and answers similarity
// queries. Add embeds the content itself and replaces any existing
// record with the same id. Implementations must be safe for concurrent
// use by multiple in-flight pipelines.
type VectorStore interface {
	// Add embeds content and upserts a record under id.
	Add(ctx context.Context, id, ownerID, content string, meta models.VectorMetadata) error

	// Remove deletes the record with the given id. Unknown ids are a no-op.
	Remove(ctx context.Context, id string) error

	// RemoveByDocument deletes every record whose metadata references
	// the given document id.
	RemoveByDocument(ctx context.Context, documentID string) error

	// Search embeds the query and returns records owned by ownerID with
	// cosine similarity >= threshold, sorted descending, at most limit.
	// If the embedding backend is unavailable it returns an empty set,
	// not an error — callers fall back to keyword search.
	Search(ctx context.Context, query, ownerID string, limit int, threshold float64) ([]models.SearchResult, error)

	// Count returns the number of records owned by ownerID.
	Count(ctx context.Context, ownerID string) (int, error)

	// HealthCheck verifies the store is usable.
	HealthCheck(ctx context.Context) error
}

// ── Completion ──────────────────────────────────────────────

// CompletionRequest is a composed prompt for a text completion call.
type CompletionRequest struct {
	System      string
	Messages    []models.ChatMessage
	MaxTokens   int
	Temperature float32
}

// CompletionDriver produces text and vision completions.
type CompletionDriver interface {
	// Kind returns the driver identifier.
	Kind() string

	// Complete returns the model's reply to the composed prompt.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// CompleteVision returns the model's analysis of an image with an
	// accompanying instruction.
	CompleteVision(ctx context.Context, instruction string, image []byte, mimeType string) (string, error)
}

// TextClassifier runs a structured classification instruction against a
// text and returns the raw model output. Guardrail checks parse the
// output themselves and fail open when the call errors.
type TextClassifier interface {
	Classify(ctx context.Context, instruction, text string) (string, error)
}

// ── Stores ──────────────────────────────────────────────────

// DocumentStore is the read/write surface over the document table the
// pipeline consumes. KeywordSearch is a case-insensitive substring scan
// over title, description, content, summary and tag fields.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	PutDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error)
	KeywordSearch(ctx context.Context, query, ownerID string, limit int) ([]models.Document, error)
}

// AgentStore resolves agent configurations.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*models.AgentConfig, error)
	PutAgent(ctx context.Context, agent *models.AgentConfig) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context, ownerID string) ([]models.AgentConfig, error)
}

// HistoryStore is the append-only conversation history. Turns are never
// mutated after the fact except through Tag, which attaches enrichment
// metadata to an existing turn.
type HistoryStore interface {
	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error

	// RecentTurns returns up to limit turns for the conversation,
	// oldest first, filtered by strategy.
	RecentTurns(ctx context.Context, ownerID, channelID, agentID string, limit int, strategy models.HistoryStrategy) ([]models.ConversationTurn, error)

	// Tag attaches metadata to an existing turn, such as the delivery
	// marker written after an analysis follow-up goes out.
	Tag(ctx context.Context, turnID string, meta map[string]string) error
}

// BinaryStore persists fetched media content.
type BinaryStore interface {
	SaveBinary(ctx context.Context, id string, data []byte, contentType string) error
}

// ── Transport-side collaborators ────────────────────────────

// BinaryFetcher downloads media content referenced by an inbound event.
type BinaryFetcher interface {
	// Fetch returns the content bytes and their content type.
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// Messenger delivers outbound messages. Reply consumes a single-use
// reply token; Push is a repeatable out-of-band send.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, recipient, text string) error
}
