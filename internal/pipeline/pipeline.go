// Package pipeline drives the end-to-end handling of inbound message
// events: dedup, context assembly, guarded completion and delivery.
//
// Text events are answered synchronously on the reply channel. Media
// events are acknowledged immediately, then analyzed in a background
// goroutine whose follow-up message is pushed out-of-band because the
// reply token has already been spent on the acknowledgment.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kbchat/kbchat/internal/contextbuilder"
	"github.com/kbchat/kbchat/internal/dedup"
	"github.com/kbchat/kbchat/internal/guardrails"
	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
)

const (
	// enrichmentTimeout bounds the whole background media turn: fetch,
	// vision analysis, history write and follow-up generation.
	enrichmentTimeout = 2 * time.Minute

	visionInstruction = "Describe this image in detail. Mention any text, people, objects and context that would help answer follow-up questions about it."
)

// Pipeline handles inbound events for all agents.
type Pipeline struct {
	seen      *dedup.Map
	agents    contracts.AgentStore
	history   contracts.HistoryStore
	binaries  contracts.BinaryStore
	assembler *contextbuilder.Assembler
	guards    *guardrails.Engine
	completer contracts.CompletionDriver
	fetcher   contracts.BinaryFetcher
	messenger contracts.Messenger

	apologyText string
	ackText     string
}

type Options struct {
	Seen      *dedup.Map
	Agents    contracts.AgentStore
	History   contracts.HistoryStore
	Binaries  contracts.BinaryStore
	Assembler *contextbuilder.Assembler
	Guards    *guardrails.Engine
	Completer contracts.CompletionDriver
	Fetcher   contracts.BinaryFetcher
	Messenger contracts.Messenger

	ApologyText string
	AckText     string
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		seen:        opts.Seen,
		agents:      opts.Agents,
		history:     opts.History,
		binaries:    opts.Binaries,
		assembler:   opts.Assembler,
		guards:      opts.Guards,
		completer:   opts.Completer,
		fetcher:     opts.Fetcher,
		messenger:   opts.Messenger,
		apologyText: opts.ApologyText,
		ackText:     opts.AckText,
	}
}

// HandleInbound processes one inbound event. Duplicate deliveries are
// dropped before any side effect. Errors returned here are transport
// errors only; generation failures are converted into apology messages
// so the sender always hears back.
func (p *Pipeline) HandleInbound(ctx context.Context, event *models.InboundEvent) error {
	if !p.seen.CheckAndInsert(event.MessageID) {
		log.Debug().Str("message_id", event.MessageID).Msg("Dropping duplicate event")
		return nil
	}

	agent, err := p.agents.GetAgent(ctx, event.AgentID)
	if err != nil {
		return fmt.Errorf("resolving agent %s: %w", event.AgentID, err)
	}

	switch event.Kind {
	case models.EventImage, models.EventFile:
		return p.handleMedia(ctx, agent, event)
	case models.EventSticker:
		// Stickers carry no analyzable content; treat the alt text as a
		// plain message.
		fallthrough
	default:
		return p.handleText(ctx, agent, event)
	}
}

// handleText runs the full guarded completion flow and replies in-line.
func (p *Pipeline) handleText(ctx context.Context, agent *models.AgentConfig, event *models.InboundEvent) error {
	strategy := agent.HistoryStrategy
	if strategy == "" {
		strategy = models.HistoryUserAssistant
	}

	userText := event.Text
	gctx := models.GuardrailContext{OwnerID: agent.OwnerID, AgentID: agent.ID}

	inVerdict := p.guards.EvaluateInput(ctx, userText, agent.Guardrails, gctx)
	if !inVerdict.Allowed {
		log.Info().Str("agent_id", agent.ID).Str("reason", inVerdict.Reason).
			Strs("rules", inVerdict.TriggeredRules).Msg("Inbound message blocked")
		return p.messenger.Reply(ctx, event.ReplyToken, blockedReply(inVerdict))
	}
	if inVerdict.ModifiedContent != "" {
		userText = inVerdict.ModifiedContent
	}

	prompt, err := p.assembler.Build(ctx, agent, event.ChannelID, userText, strategy)
	if err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID).Msg("Prompt assembly failed")
		return p.messenger.Reply(ctx, event.ReplyToken, p.apologyText)
	}

	answer, err := p.complete(ctx, agent, prompt)
	if err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID).Msg("Completion failed")
		return p.messenger.Reply(ctx, event.ReplyToken, p.apologyText)
	}

	gctx.SourceDocuments = prompt.SourceDocuments
	outVerdict := p.guards.EvaluateOutput(ctx, answer, agent.Guardrails, gctx)
	if !outVerdict.Allowed {
		log.Warn().Str("agent_id", agent.ID).Str("reason", outVerdict.Reason).
			Strs("rules", outVerdict.TriggeredRules).Msg("Generated response blocked")
		return p.messenger.Reply(ctx, event.ReplyToken, p.apologyText)
	}
	if outVerdict.ModifiedContent != "" {
		answer = outVerdict.ModifiedContent
	}

	if err := p.messenger.Reply(ctx, event.ReplyToken, answer); err != nil {
		return fmt.Errorf("delivering reply: %w", err)
	}

	p.appendTurn(ctx, agent, event, models.RoleUser, userText, nil)
	p.appendTurn(ctx, agent, event, models.RoleAssistant, answer, nil)
	return nil
}

// handleMedia acknowledges the event on the reply channel, then runs
// fetch, analysis and the follow-up response in the background. The
// follow-up is pushed because the reply token was spent on the ack.
func (p *Pipeline) handleMedia(ctx context.Context, agent *models.AgentConfig, event *models.InboundEvent) error {
	if err := p.messenger.Reply(ctx, event.ReplyToken, p.ackText); err != nil {
		return fmt.Errorf("acknowledging media event: %w", err)
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), enrichmentTimeout)
		defer cancel()
		if err := p.enrich(bg, agent, event); err != nil {
			log.Error().Err(err).Str("message_id", event.MessageID).Msg("Media enrichment failed")
			if pushErr := p.messenger.Push(bg, event.ChannelID, p.apologyText); pushErr != nil {
				log.Error().Err(pushErr).Str("channel_id", event.ChannelID).Msg("Apology push failed")
			}
		}
	}()
	return nil
}

// enrich runs the background media turn. The analysis turn is written
// before the follow-up is generated, and the follow-up prompt fetches
// all roles so it can see that turn. Every step before the final push
// is all-or-nothing: a partial turn is never left behind.
func (p *Pipeline) enrich(ctx context.Context, agent *models.AgentConfig, event *models.InboundEvent) error {
	data, contentType, err := p.fetcher.Fetch(ctx, event.BinaryRef)
	if err != nil {
		return fmt.Errorf("fetching media content: %w", err)
	}

	if err := p.binaries.SaveBinary(ctx, event.MessageID, data, contentType); err != nil {
		return fmt.Errorf("storing media content: %w", err)
	}

	analysis, err := p.completer.CompleteVision(ctx, visionInstruction, data, contentType)
	if err != nil {
		return fmt.Errorf("analyzing media content: %w", err)
	}

	turn := &models.ConversationTurn{
		ID:        uuid.NewString(),
		OwnerID:   agent.OwnerID,
		ChannelID: event.ChannelID,
		AgentID:   agent.ID,
		Role:      models.RoleSystem,
		Content:   analysis,
		Metadata: map[string]string{
			models.MetaMessageType:     models.MessageTypeImageAnalysis,
			models.MetaSourceMessageID: event.MessageID,
		},
		CreatedAt: time.Now(),
	}
	if err := p.history.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("recording analysis turn: %w", err)
	}
	if err := p.verifyEnrichmentTurn(ctx, agent, event); err != nil {
		return err
	}

	followUpQuestion := event.Text
	if followUpQuestion == "" {
		followUpQuestion = "I just sent you an image. What do you see in it?"
	}

	prompt, err := p.assembler.Build(ctx, agent, event.ChannelID, followUpQuestion, models.HistoryAllRoles)
	if err != nil {
		return fmt.Errorf("assembling follow-up prompt: %w", err)
	}

	answer, err := p.complete(ctx, agent, prompt)
	if err != nil {
		return fmt.Errorf("generating follow-up: %w", err)
	}

	gctx := models.GuardrailContext{
		OwnerID:         agent.OwnerID,
		AgentID:         agent.ID,
		SourceDocuments: prompt.SourceDocuments,
	}
	verdict := p.guards.EvaluateOutput(ctx, answer, agent.Guardrails, gctx)
	if !verdict.Allowed {
		return fmt.Errorf("follow-up blocked: %s", verdict.Reason)
	}
	if verdict.ModifiedContent != "" {
		answer = verdict.ModifiedContent
	}

	if err := p.messenger.Push(ctx, event.ChannelID, answer); err != nil {
		return fmt.Errorf("pushing follow-up: %w", err)
	}

	p.appendTurn(ctx, agent, event, models.RoleAssistant, answer, map[string]string{
		models.MetaSourceMessageID: event.MessageID,
	})

	// Mark the analysis turn delivered so undelivered ones stand out
	// when inspecting a channel's history.
	if err := p.history.Tag(ctx, turn.ID, map[string]string{
		models.MetaDeliveredAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Error().Err(err).Str("turn_id", turn.ID).Msg("Tagging analysis turn failed")
	}
	return nil
}

// verifyEnrichmentTurn confirms the analysis turn is readable from
// history before the follow-up is generated against it.
func (p *Pipeline) verifyEnrichmentTurn(ctx context.Context, agent *models.AgentConfig, event *models.InboundEvent) error {
	turns, err := p.history.RecentTurns(ctx, agent.OwnerID, event.ChannelID, agent.ID, contextbuilder.DefaultHistoryWindow, models.HistoryAllRoles)
	if err != nil {
		return fmt.Errorf("reading back analysis turn: %w", err)
	}
	for _, t := range turns {
		if t.IsEnrichment() && t.Metadata[models.MetaSourceMessageID] == event.MessageID {
			return nil
		}
	}
	return fmt.Errorf("analysis turn for message %s not found after append", event.MessageID)
}

func (p *Pipeline) complete(ctx context.Context, agent *models.AgentConfig, prompt *contextbuilder.Prompt) (string, error) {
	return p.completer.Complete(ctx, contracts.CompletionRequest{
		System:      prompt.System,
		Messages:    prompt.Messages,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	})
}

// appendTurn records a turn, logging instead of failing. A history
// write error must never undo an already delivered message.
func (p *Pipeline) appendTurn(ctx context.Context, agent *models.AgentConfig, event *models.InboundEvent, role models.Role, content string, meta map[string]string) {
	turn := &models.ConversationTurn{
		ID:        uuid.NewString(),
		OwnerID:   agent.OwnerID,
		ChannelID: event.ChannelID,
		AgentID:   agent.ID,
		Role:      role,
		Content:   content,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	if err := p.history.AppendTurn(ctx, turn); err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID).Str("role", string(role)).Msg("Recording conversation turn failed")
	}
}

// blockedReply converts a blocking verdict into user-facing text.
func blockedReply(verdict models.GuardrailResult) string {
	if verdict.Reason != "" {
		return "I can't help with that: " + verdict.Reason
	}
	return "I can't help with that request."
}
