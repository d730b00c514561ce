package guardrails

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kbchat/kbchat/pkg/models"
)

// Rule names reported in TriggeredRules.
const (
	RuleContentFilter   = "content_filter"
	RuleContentCategory = "content_category"
	RuleTopicControl    = "topic_control"
	RulePrivacyMask     = "privacy_mask"
	RuleToxicity        = "toxicity"
	RuleResponseLength  = "response_length"
	RuleHallucination   = "hallucination"
	RuleBusinessTone    = "business_tone"
)

// checkContentFilter blocks literal words and, when categories are
// configured, classifier-detected content categories.
func (e *Engine) checkContentFilter(ctx context.Context, cfg models.ContentFilterConfig, text string) models.GuardrailResult {
	haystack := text
	if !cfg.CaseSensitive {
		haystack = strings.ToLower(text)
	}
	for _, word := range cfg.BlockedWords {
		needle := word
		if !cfg.CaseSensitive {
			needle = strings.ToLower(word)
		}
		if needle != "" && strings.Contains(haystack, needle) {
			return models.GuardrailResult{
				Allowed:        false,
				Reason:         "content contains a prohibited word or phrase",
				Confidence:     1.0,
				TriggeredRules: []string{RuleContentFilter},
			}
		}
	}

	if len(cfg.BlockedCategories) > 0 {
		return e.checkContentCategory(ctx, cfg, text)
	}
	return models.GuardrailResult{Allowed: true, Confidence: 1.0}
}

// checkTopicControl applies blocked topics first, then the allowed-topic
// requirement when one is configured.
func checkTopicControl(cfg models.TopicControlConfig, text string) models.GuardrailResult {
	lower := strings.ToLower(text)

	for _, topic := range cfg.BlockedTopics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			return models.GuardrailResult{
				Allowed:        false,
				Reason:         fmt.Sprintf("blocked topic: %s", topic),
				Confidence:     1.0,
				TriggeredRules: []string{RuleTopicControl},
			}
		}
	}

	if len(cfg.AllowedTopics) > 0 {
		found := false
		for _, topic := range cfg.AllowedTopics {
			if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
				found = true
				break
			}
		}
		if !found {
			return models.GuardrailResult{
				Allowed:        false,
				Reason:         "message does not match any allowed topic",
				Confidence:     1.0,
				TriggeredRules: []string{RuleTopicControl},
			}
		}
	}

	return models.GuardrailResult{Allowed: true, Confidence: 1.0}
}

// checkResponseQuality validates output length (exclusive bounds) and,
// when source documents are supplied, runs the hallucination check.
// With no documents the hallucination check is skipped, not failed.
func (e *Engine) checkResponseQuality(ctx context.Context, cfg models.ResponseQualityConfig, text string, sourceDocs []string) models.GuardrailResult {
	length := utf8.RuneCountInString(text)

	if cfg.MaxLength > 0 && length > cfg.MaxLength {
		return models.GuardrailResult{
			Allowed:        false,
			Reason:         fmt.Sprintf("response length %d exceeds maximum %d", length, cfg.MaxLength),
			Confidence:     1.0,
			TriggeredRules: []string{RuleResponseLength},
		}
	}
	if cfg.MinLength > 0 && length < cfg.MinLength {
		return models.GuardrailResult{
			Allowed:        false,
			Reason:         fmt.Sprintf("response length %d below minimum %d", length, cfg.MinLength),
			Confidence:     1.0,
			TriggeredRules: []string{RuleResponseLength},
		}
	}

	if cfg.CheckHallucination && len(sourceDocs) > 0 {
		return e.checkHallucination(ctx, text, sourceDocs)
	}
	return models.GuardrailResult{Allowed: true, Confidence: 1.0}
}
