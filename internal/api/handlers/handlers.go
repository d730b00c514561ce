// Package handlers implements the HTTP handlers for the kbchat chat
// plane: the inbound webhook, knowledge-base search, guardrail
// evaluation and document/agent management.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kbchat/kbchat/internal/embeddings"
	"github.com/kbchat/kbchat/internal/guardrails"
	"github.com/kbchat/kbchat/internal/messenger"
	"github.com/kbchat/kbchat/internal/pipeline"
	"github.com/kbchat/kbchat/internal/rag"
	"github.com/kbchat/kbchat/internal/search"
	"github.com/kbchat/kbchat/internal/store"
	"github.com/kbchat/kbchat/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Search   *search.Service
	Guards   *guardrails.Engine
	Indexer  *rag.Indexer
	Pipeline *pipeline.Pipeline
	Registry *embeddings.Registry

	// ChannelSecret verifies inbound webhook signatures. Empty disables
	// verification (local development only).
	ChannelSecret string
}

func New(s store.Store, svc *search.Service, guards *guardrails.Engine, ix *rag.Indexer, p *pipeline.Pipeline, reg *embeddings.Registry, channelSecret string) *Handlers {
	return &Handlers{
		Store:         s,
		Search:        svc,
		Guards:        guards,
		Indexer:       ix,
		Pipeline:      p,
		Registry:      reg,
		ChannelSecret: channelSecret,
	}
}

// ── Webhook ─────────────────────────────────────────────────

type webhookBody struct {
	Events []models.InboundEvent `json:"events"`
}

// Webhook accepts inbound message events from the chat channel. The
// response is sent as soon as the events are accepted; replies flow
// through the messenger, not this HTTP response.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unreadable request body")
		return
	}

	if h.ChannelSecret != "" {
		sig := r.Header.Get("X-Signature")
		if !messenger.VerifySignature(h.ChannelSecret, body, sig) {
			respondError(w, http.StatusUnauthorized, "Invalid webhook signature")
			return
		}
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	for i := range payload.Events {
		event := &payload.Events[i]
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = time.Now()
		}
		if err := h.Pipeline.HandleInbound(ctx, event); err != nil {
			log.Error().Err(err).Str("message_id", event.MessageID).Msg("Inbound event handling failed")
		}
	}

	respondJSON(w, http.StatusOK, map[string]int{"accepted": len(payload.Events)})
}

// ── Search ──────────────────────────────────────────────────

type searchRequest struct {
	Query   string               `json:"query"`
	OwnerID string               `json:"owner_id"`
	Options models.SearchOptions `json:"options"`
}

func (h *Handlers) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.Search.Search(r.Context(), req.Query, req.OwnerID, req.Options)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ── Guardrails ──────────────────────────────────────────────

type guardrailRequest struct {
	Direction string                  `json:"direction"` // "input" or "output"
	Text      string                  `json:"text"`
	Config    models.GuardrailConfig  `json:"config"`
	Context   models.GuardrailContext `json:"context"`
}

func (h *Handlers) EvaluateGuardrails(w http.ResponseWriter, r *http.Request) {
	var req guardrailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var result models.GuardrailResult
	switch req.Direction {
	case "output":
		result = h.Guards.EvaluateOutput(r.Context(), req.Text, req.Config, req.Context)
	case "", "input":
		result = h.Guards.EvaluateInput(r.Context(), req.Text, req.Config, req.Context)
	default:
		respondError(w, http.StatusBadRequest, "direction must be input or output")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Documents ───────────────────────────────────────────────

func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Store.ListDocuments(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt

	if err := h.Store.PutDocument(r.Context(), &doc); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := h.Indexer.Reindex(r.Context(), &doc); err != nil {
		log.Error().Err(err).Str("document_id", doc.ID).Msg("Indexing new document failed")
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentId")
	existing, err := h.Store.GetDocument(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	doc.ID = id
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = time.Now()

	if err := h.Store.PutDocument(r.Context(), &doc); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := h.Indexer.Reindex(r.Context(), &doc); err != nil {
		log.Error().Err(err).Str("document_id", doc.ID).Msg("Reindexing updated document failed")
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentId")
	if err := h.Store.DeleteDocument(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := h.Indexer.Remove(r.Context(), id); err != nil {
		log.Error().Err(err).Str("document_id", id).Msg("Removing document vectors failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	chunks, err := h.Indexer.Reindex(r.Context(), doc)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"document_id": doc.ID, "chunks": chunks})
}

// ── Agents ──────────────────────────────────────────────────

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	agent.CreatedAt = time.Now()
	agent.UpdatedAt = agent.CreatedAt

	if err := h.Store.PutAgent(r.Context(), &agent); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Store.GetAgent(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentId")
	existing, err := h.Store.GetAgent(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var agent models.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	agent.ID = id
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now()

	if err := h.Store.PutAgent(r.Context(), &agent); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteAgent(r.Context(), chi.URLParam(r, "agentId")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Embeddings ──────────────────────────────────────────────

func (h *Handlers) EmbeddingsHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.Registry.HealthCheckAll(r.Context())
	status := http.StatusOK
	out := make(map[string]string, len(checks))
	for name, err := range checks {
		if err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			out[name] = "ok"
		}
	}
	respondJSON(w, status, out)
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
