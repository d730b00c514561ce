// Package models defines the shared data types for the kbchat chat plane.
//
// The types here form the contract between the retrieval layer (vector
// store, hybrid search), the guardrail engine, the context assembler and
// the inbound message pipeline.
package models

import "time"

// ── Documents ───────────────────────────────────────────────

// Document is a knowledge-base document as seen by the pipeline.
// The relational schema behind it is out of scope; the pipeline only
// reads the extracted text fields used for retrieval and context.
type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	MIMEType    string    `json:"mime_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ── Vector records & search ─────────────────────────────────

// VectorMetadata carries the provenance of a stored content chunk.
type VectorMetadata struct {
	DocumentID string   `json:"document_id"`
	Tags       []string `json:"tags,omitempty"`
	MIMEType   string   `json:"mime_type,omitempty"`
}

// VectorRecord is one embedded content chunk in the vector store.
// All records in one store share the embedding model's dimensionality.
type VectorRecord struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Content   string         `json:"content"`
	Embedding []float64      `json:"embedding,omitempty"`
	Metadata  VectorMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// SearchResult pairs a record with its similarity to the query.
// Similarity is cosine similarity, in [-1, 1]; keyword-derived results
// carry a fixed baseline score instead.
type SearchResult struct {
	Record     VectorRecord `json:"record"`
	Similarity float64      `json:"similarity"`
}

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchKeyword  SearchMode = "keyword"
	SearchHybrid   SearchMode = "hybrid"
)

// SearchOptions controls a retrieval call.
type SearchOptions struct {
	Mode      SearchMode `json:"mode,omitempty"`      // default: hybrid
	Limit     int        `json:"limit,omitempty"`     // default: 5
	Threshold float64    `json:"threshold,omitempty"` // default: 0.3 (semantic only)
}

// ── Conversation history ────────────────────────────────────

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn metadata keys. System-role enrichment turns carry MetaMessageType
// plus a back-reference to the inbound message that produced them, and
// are tagged MetaDeliveredAt once their follow-up message goes out.
const (
	MetaMessageType     = "message_type"
	MetaSourceMessageID = "source_message_id"
	MetaDeliveredAt     = "delivered_at"

	MessageTypeImageAnalysis = "image_analysis"
)

// ConversationTurn is one append-only entry in the conversation history.
type ConversationTurn struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	ChannelID string            `json:"channel_id"`
	AgentID   string            `json:"agent_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// IsEnrichment reports whether the turn is a system-authored enrichment
// entry (e.g. a stored image analysis).
func (t ConversationTurn) IsEnrichment() bool {
	return t.Role == RoleSystem && t.Metadata[MetaMessageType] == MessageTypeImageAnalysis
}

// HistoryStrategy selects which roles a history fetch returns.
type HistoryStrategy string

const (
	// HistoryUserAssistant returns only user and assistant turns.
	HistoryUserAssistant HistoryStrategy = "user-assistant"
	// HistoryAllRoles returns every turn, including system-generated
	// enrichment entries.
	HistoryAllRoles HistoryStrategy = "all"
)

// ChatMessage is one message in a composed completion prompt.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ── Agents ──────────────────────────────────────────────────

// AgentConfig describes a chat agent: its persona, linked documents,
// guardrail configuration and memory settings.
type AgentConfig struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	PersonaPrompt   string          `json:"persona_prompt"`
	BehaviorPrompt  string          `json:"behavior_prompt,omitempty"`
	DocumentIDs     []string        `json:"document_ids,omitempty"`
	Guardrails      GuardrailConfig `json:"guardrails,omitempty"`
	MemoryEnabled   bool            `json:"memory_enabled"`
	HistoryWindow   int             `json:"history_window,omitempty"` // default: 10
	HistoryStrategy HistoryStrategy `json:"history_strategy,omitempty"`
	Temperature     float32         `json:"temperature,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ── Guardrails ──────────────────────────────────────────────

// GuardrailConfig is a tree of independently enabled feature blocks.
// A nil or disabled block means the corresponding check is skipped
// entirely, not evaluated-and-ignored.
type GuardrailConfig struct {
	ContentFilter   *ContentFilterConfig   `json:"content_filter,omitempty"`
	TopicControl    *TopicControlConfig    `json:"topic_control,omitempty"`
	Privacy         *PrivacyConfig         `json:"privacy,omitempty"`
	Toxicity        *ToxicityConfig        `json:"toxicity,omitempty"`
	ResponseQuality *ResponseQualityConfig `json:"response_quality,omitempty"`
	BusinessTone    *BusinessToneConfig    `json:"business_tone,omitempty"`
}

// ContentFilterConfig blocks literal words/phrases and, when
// BlockedCategories is set, classifier-detected content categories.
type ContentFilterConfig struct {
	Enabled           bool     `json:"enabled"`
	BlockedWords      []string `json:"blocked_words,omitempty"`
	BlockedCategories []string `json:"blocked_categories,omitempty"`
	CaseSensitive     bool     `json:"case_sensitive,omitempty"`
}

// TopicControlConfig restricts conversation topics by keyword match.
type TopicControlConfig struct {
	Enabled       bool     `json:"enabled"`
	AllowedTopics []string `json:"allowed_topics,omitempty"`
	BlockedTopics []string `json:"blocked_topics,omitempty"`
}

// PrivacyConfig masks PII patterns. Privacy protection never blocks;
// it only proposes masked content.
type PrivacyConfig struct {
	Enabled         bool `json:"enabled"`
	MaskEmails      bool `json:"mask_emails"`
	MaskPhones      bool `json:"mask_phones"`
	MaskNationalIDs bool `json:"mask_national_ids"`
}

// ToxicityConfig blocks content whose classifier toxicity score is
// strictly greater than Threshold (default 0.6).
type ToxicityConfig struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold,omitempty"`
}

// ResponseQualityConfig validates model output. Length bounds are
// exclusive: length > MaxLength or length < MinLength is a violation.
// The hallucination check only runs when source documents are supplied.
type ResponseQualityConfig struct {
	Enabled            bool `json:"enabled"`
	MinLength          int  `json:"min_length,omitempty"`
	MaxLength          int  `json:"max_length,omitempty"`
	CheckHallucination bool `json:"check_hallucination,omitempty"`
}

// BusinessToneConfig checks model output against an expected tone.
// Non-strict mode only records suggestions; Strict blocks mismatches.
type BusinessToneConfig struct {
	Enabled bool   `json:"enabled"`
	Tone    string `json:"tone,omitempty"` // default: "professional"
	Strict  bool   `json:"strict,omitempty"`
}

// GuardrailResult is produced by a single check and by the combinator
// that folds all check results into one verdict.
type GuardrailResult struct {
	Allowed         bool     `json:"allowed"`
	Reason          string   `json:"reason,omitempty"`
	ModifiedContent string   `json:"modified_content,omitempty"`
	Confidence      float64  `json:"confidence"`
	TriggeredRules  []string `json:"triggered_rules,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

// GuardrailContext carries side information into an evaluation.
// SourceDocuments enables the hallucination check on the output side.
type GuardrailContext struct {
	OwnerID         string   `json:"owner_id,omitempty"`
	AgentID         string   `json:"agent_id,omitempty"`
	SourceDocuments []string `json:"source_documents,omitempty"`
}

// ── Inbound events ──────────────────────────────────────────

// EventKind identifies the payload type of an inbound message event.
type EventKind string

const (
	EventText    EventKind = "text"
	EventSticker EventKind = "sticker"
	EventImage   EventKind = "image"
	EventFile    EventKind = "file"
)

// InboundEvent is one message event delivered by the transport layer.
// MessageID is the external id used for deduplication; ReplyToken is a
// single-use token for the synchronous reply channel.
type InboundEvent struct {
	MessageID  string    `json:"message_id"`
	OwnerID    string    `json:"owner_id"`
	ChannelID  string    `json:"channel_id"`
	AgentID    string    `json:"agent_id"`
	SenderID   string    `json:"sender_id"`
	ReplyToken string    `json:"reply_token,omitempty"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	BinaryRef  string    `json:"binary_ref,omitempty"` // content fetch reference for media events
	ReceivedAt time.Time `json:"received_at"`
}
