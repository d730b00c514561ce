package guardrails

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbchat/kbchat/internal/llmjson"
	"github.com/kbchat/kbchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultToxicityThreshold blocks content with a toxicity score strictly
// greater than this value when the config doesn't set one.
const DefaultToxicityThreshold = 0.6

const serviceUnavailableReason = "guardrail classifier unavailable"

// failOpen is returned when a classifier call or parse fails. The
// evaluation never blocks on classifier unavailability.
func failOpen(rule string, err error) models.GuardrailResult {
	log.Warn().Err(err).Str("rule", rule).Msg("Guardrail classifier failed, failing open")
	return models.GuardrailResult{
		Allowed:    true,
		Reason:     serviceUnavailableReason,
		Confidence: 0.5,
	}
}

func (e *Engine) classify(ctx context.Context, rule, instruction, text string, v any) error {
	if e.classifier == nil {
		return fmt.Errorf("no classifier configured")
	}
	raw, err := e.classifier.Classify(ctx, instruction, text)
	if err != nil {
		return err
	}
	return llmjson.ParseObject(raw, v)
}

// checkContentCategory asks the classifier which category the text falls
// into and blocks configured categories.
func (e *Engine) checkContentCategory(ctx context.Context, cfg models.ContentFilterConfig, text string) models.GuardrailResult {
	instruction := fmt.Sprintf(
		`Classify the message into exactly one of these categories: %s, none. Respond with JSON: {"category": "<category>", "confidence": <0..1>}`,
		strings.Join(cfg.BlockedCategories, ", "))

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := e.classify(ctx, RuleContentCategory, instruction, text, &parsed); err != nil {
		return failOpen(RuleContentCategory, err)
	}

	for _, blocked := range cfg.BlockedCategories {
		if strings.EqualFold(parsed.Category, blocked) {
			return models.GuardrailResult{
				Allowed:        false,
				Reason:         fmt.Sprintf("content classified as blocked category: %s", parsed.Category),
				Confidence:     clampConfidence(parsed.Confidence),
				TriggeredRules: []string{RuleContentCategory},
			}
		}
	}
	return models.GuardrailResult{Allowed: true, Confidence: clampConfidence(parsed.Confidence)}
}

// checkToxicity blocks text whose classifier toxicity score is strictly
// greater than the configured threshold.
func (e *Engine) checkToxicity(ctx context.Context, cfg models.ToxicityConfig, text string) models.GuardrailResult {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultToxicityThreshold
	}

	instruction := `Rate the toxicity of the message. Respond with JSON: {"toxicity_score": <0..1>, "confidence": <0..1>}`

	var parsed struct {
		ToxicityScore float64 `json:"toxicity_score"`
		Confidence    float64 `json:"confidence"`
	}
	if err := e.classify(ctx, RuleToxicity, instruction, text, &parsed); err != nil {
		return failOpen(RuleToxicity, err)
	}

	if parsed.ToxicityScore > threshold {
		return models.GuardrailResult{
			Allowed:        false,
			Reason:         fmt.Sprintf("toxicity score %.2f exceeds threshold %.2f", parsed.ToxicityScore, threshold),
			Confidence:     clampConfidence(parsed.Confidence),
			TriggeredRules: []string{RuleToxicity},
		}
	}
	return models.GuardrailResult{Allowed: true, Confidence: clampConfidence(parsed.Confidence)}
}

// checkHallucination verifies the response is grounded in the supplied
// source documents. Only called when documents are present.
func (e *Engine) checkHallucination(ctx context.Context, text string, sourceDocs []string) models.GuardrailResult {
	instruction := fmt.Sprintf(
		`Given these source documents, does the response contain claims not supported by them? Respond with JSON: {"grounded": <true|false>, "confidence": <0..1>}

Source documents:
%s`, strings.Join(sourceDocs, "\n---\n"))

	var parsed struct {
		Grounded   bool    `json:"grounded"`
		Confidence float64 `json:"confidence"`
	}
	if err := e.classify(ctx, RuleHallucination, instruction, text, &parsed); err != nil {
		return failOpen(RuleHallucination, err)
	}

	if !parsed.Grounded {
		return models.GuardrailResult{
			Allowed:        false,
			Reason:         "response contains claims not grounded in source documents",
			Confidence:     clampConfidence(parsed.Confidence),
			TriggeredRules: []string{RuleHallucination},
		}
	}
	return models.GuardrailResult{Allowed: true, Confidence: clampConfidence(parsed.Confidence)}
}

// checkBusinessTone verifies the response matches the expected tone.
// Non-strict mode never blocks; it records the mismatch and the
// classifier's suggestions instead.
func (e *Engine) checkBusinessTone(ctx context.Context, cfg models.BusinessToneConfig, text string) models.GuardrailResult {
	tone := cfg.Tone
	if tone == "" {
		tone = "professional"
	}

	instruction := fmt.Sprintf(
		`Does the response match a %s tone? Respond with JSON: {"matches": <true|false>, "suggestions": ["..."], "confidence": <0..1>}`, tone)

	var parsed struct {
		Matches     bool     `json:"matches"`
		Suggestions []string `json:"suggestions"`
		Confidence  float64  `json:"confidence"`
	}
	if err := e.classify(ctx, RuleBusinessTone, instruction, text, &parsed); err != nil {
		return failOpen(RuleBusinessTone, err)
	}

	if !parsed.Matches {
		result := models.GuardrailResult{
			Allowed:        !cfg.Strict,
			Confidence:     clampConfidence(parsed.Confidence),
			TriggeredRules: []string{RuleBusinessTone},
			Suggestions:    parsed.Suggestions,
		}
		if cfg.Strict {
			result.Reason = fmt.Sprintf("response does not match expected %s tone", tone)
		}
		return result
	}
	return models.GuardrailResult{Allowed: true, Confidence: clampConfidence(parsed.Confidence)}
}

func clampConfidence(c float64) float64 {
	if c <= 0 {
		return 0.5 // classifier omitted confidence
	}
	if c > 1 {
		return 1
	}
	return c
}
