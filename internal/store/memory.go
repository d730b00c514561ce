package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kbchat/kbchat/pkg/models"
)

// MemoryStore is a thread-safe in-memory implementation of Store.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	agents    map[string]*models.AgentConfig
	turns     []*models.ConversationTurn // append-only, creation order
	turnsByID map[string]*models.ConversationTurn
	binaries  map[string]binaryEntry
}

type binaryEntry struct {
	data        []byte
	contentType string
	savedAt     time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*models.Document),
		agents:    make(map[string]*models.AgentConfig),
		turnsByID: make(map[string]*models.ConversationTurn),
		binaries:  make(map[string]binaryEntry),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// ─── Documents ──────────────────────────────────────────────

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, &NotFoundError{Kind: "document", ID: id}
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) PutDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return &NotFoundError{Kind: "document", ID: id}
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, ownerID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Document
	for _, d := range s.documents {
		if d.OwnerID == ownerID {
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// KeywordSearch is a case-insensitive substring scan over title,
// description, content, summary and tags.
func (s *MemoryStore) KeywordSearch(_ context.Context, query, ownerID string, limit int) ([]models.Document, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Document
	for _, d := range s.documents {
		if d.OwnerID != ownerID {
			continue
		}
		if docMatches(d, needle) {
			matched = append(matched, *d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func docMatches(d *models.Document, needle string) bool {
	for _, field := range []string{d.Title, d.Description, d.Content, d.Summary} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, tag := range d.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// ─── Agents ─────────────────────────────────────────────────

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, &NotFoundError{Kind: "agent", ID: id}
	}
	cp := *agent
	return &cp, nil
}

func (s *MemoryStore) PutAgent(_ context.Context, agent *models.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return &NotFoundError{Kind: "agent", ID: id}
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) ListAgents(_ context.Context, ownerID string) ([]models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.AgentConfig
	for _, a := range s.agents {
		if a.OwnerID == ownerID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ─── Conversation history ───────────────────────────────────

func (s *MemoryStore) AppendTurn(_ context.Context, turn *models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	cp := *turn
	if cp.Metadata != nil {
		cp.Metadata = copyMeta(cp.Metadata)
	}
	s.turns = append(s.turns, &cp)
	s.turnsByID[cp.ID] = &cp
	return nil
}

// RecentTurns returns up to limit turns for the conversation, oldest
// first. Strategy controls whether system-generated enrichment entries
// are visible.
func (s *MemoryStore) RecentTurns(_ context.Context, ownerID, channelID, agentID string, limit int, strategy models.HistoryStrategy) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []models.ConversationTurn
	for _, t := range s.turns {
		if t.OwnerID != ownerID || t.ChannelID != channelID || t.AgentID != agentID {
			continue
		}
		if strategy != models.HistoryAllRoles && t.Role == models.RoleSystem {
			continue
		}
		filtered = append(filtered, *t)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Tag attaches metadata to an existing turn. This is the only mutation
// history supports after append.
func (s *MemoryStore) Tag(_ context.Context, turnID string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turnsByID[turnID]
	if !ok {
		return &NotFoundError{Kind: "turn", ID: turnID}
	}
	if turn.Metadata == nil {
		turn.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		turn.Metadata[k] = v
	}
	return nil
}

// ─── Binaries ───────────────────────────────────────────────

func (s *MemoryStore) SaveBinary(_ context.Context, id string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.binaries[id] = binaryEntry{data: cp, contentType: contentType, savedAt: time.Now().UTC()}
	return nil
}

func copyMeta(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
