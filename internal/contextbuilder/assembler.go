// Package contextbuilder composes completion prompts from an agent's
// persona, its linked documents and the recent conversation history.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
)

const (
	// DefaultHistoryWindow bounds the number of history turns included
	// when the agent config doesn't set one.
	DefaultHistoryWindow = 10

	// maxDocumentChars caps each document's contribution to the system
	// prompt. Longer content is cut and marked with an ellipsis.
	maxDocumentChars = 2000

	// maxEnrichmentTurns bounds how many stored media analyses are
	// appended to the user message.
	maxEnrichmentTurns = 3
)

// Prompt is a fully assembled completion input. SourceDocuments carries
// the document texts that went into the system prompt so downstream
// checks can validate the response against them.
type Prompt struct {
	System          string
	Messages        []models.ChatMessage
	SourceDocuments []string
}

// Assembler builds prompts for the response pipeline.
type Assembler struct {
	history contracts.HistoryStore
	docs    contracts.DocumentStore
}

func NewAssembler(history contracts.HistoryStore, docs contracts.DocumentStore) *Assembler {
	return &Assembler{history: history, docs: docs}
}

// Build assembles the prompt for one inbound user message. Document
// lookups that fail are skipped so a single missing document never
// takes down the whole response.
func (a *Assembler) Build(ctx context.Context, agent *models.AgentConfig, channelID, userText string, strategy models.HistoryStrategy) (*Prompt, error) {
	prompt := &Prompt{}

	var docBlocks []string
	for _, docID := range agent.DocumentIDs {
		doc, err := a.docs.GetDocument(ctx, docID)
		if err != nil {
			log.Warn().Err(err).Str("document_id", docID).Str("agent_id", agent.ID).
				Msg("Skipping unavailable document in prompt assembly")
			continue
		}
		text := doc.Content
		if text == "" {
			text = doc.Summary
		}
		truncated := false
		if runes := []rune(text); len(runes) > maxDocumentChars {
			text = string(runes[:maxDocumentChars])
			truncated = true
		}
		block := "## " + doc.Title + "\n" + text
		if truncated {
			block += "\n[...]"
		}
		docBlocks = append(docBlocks, block)
		prompt.SourceDocuments = append(prompt.SourceDocuments, text)
	}

	prompt.System = buildSystemPrompt(agent, docBlocks)

	turns, err := a.recentTurns(ctx, agent, channelID, strategy)
	if err != nil {
		return nil, fmt.Errorf("fetching conversation history: %w", err)
	}

	var enrichments []models.ConversationTurn
	for _, turn := range turns {
		switch {
		case turn.IsEnrichment():
			enrichments = append(enrichments, turn)
		case turn.Role == models.RoleUser || turn.Role == models.RoleAssistant:
			prompt.Messages = append(prompt.Messages, models.ChatMessage{
				Role:    turn.Role,
				Content: turn.Content,
			})
		}
	}

	prompt.Messages = append(prompt.Messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: attachEnrichments(userText, enrichments),
	})
	return prompt, nil
}

func (a *Assembler) recentTurns(ctx context.Context, agent *models.AgentConfig, channelID string, strategy models.HistoryStrategy) ([]models.ConversationTurn, error) {
	if !agent.MemoryEnabled {
		return nil, nil
	}
	window := agent.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return a.history.RecentTurns(ctx, agent.OwnerID, channelID, agent.ID, window, strategy)
}

func buildSystemPrompt(agent *models.AgentConfig, docBlocks []string) string {
	var b strings.Builder
	persona := agent.PersonaPrompt
	if persona == "" {
		persona = "You are a helpful assistant."
	}
	b.WriteString(persona)

	if len(docBlocks) > 0 {
		b.WriteString("\n\n# Knowledge base\n")
		b.WriteString("Answer using the documents below. If they don't cover the question, say so.\n\n")
		b.WriteString(strings.Join(docBlocks, "\n\n"))
	}

	if agent.BehaviorPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(agent.BehaviorPrompt)
	}
	return b.String()
}

// attachEnrichments appends the most recent stored media analyses to the
// user's message so the model can refer back to previously sent images.
func attachEnrichments(userText string, enrichments []models.ConversationTurn) string {
	if len(enrichments) == 0 {
		return userText
	}
	if len(enrichments) > maxEnrichmentTurns {
		enrichments = enrichments[len(enrichments)-maxEnrichmentTurns:]
	}
	var b strings.Builder
	b.WriteString(userText)
	b.WriteString("\n\n[Previously shared media]")
	for i, turn := range enrichments {
		fmt.Fprintf(&b, "\n\n### Analysis %d\n%s", i+1, turn.Content)
	}
	return b.String()
}
