// Package guardrails evaluates user input and model output against a
// configured set of rule checks.
//
// The engine is a pure evaluation pipeline: no state machine, no stored
// verdicts. Each enabled check produces a GuardrailResult and a
// combinator folds them into one. Checks that call an external
// classifier fail open — guardrail unavailability must never itself
// deny service.
//
// Check kinds:
//   - content_filter: word blocklist plus optional classifier categories
//   - topic_control: allowed/blocked topic keywords
//   - privacy: regex PII masking (never blocks)
//   - toxicity: classifier score vs threshold
//   - response_quality: length bounds plus optional hallucination check
//   - business_tone: classifier tone check
package guardrails

import (
	"context"

	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
)

// Engine runs guardrail evaluations. The classifier may be nil, in which
// case every classifier-backed check fails open.
type Engine struct {
	classifier contracts.TextClassifier
}

// NewEngine creates a guardrail engine.
func NewEngine(classifier contracts.TextClassifier) *Engine {
	return &Engine{classifier: classifier}
}

type check func(ctx context.Context, text string) models.GuardrailResult

// EvaluateInput runs the input-side checks: content filtering, topic
// control, privacy protection, toxicity prevention.
func (e *Engine) EvaluateInput(ctx context.Context, text string, cfg models.GuardrailConfig, gctx models.GuardrailContext) models.GuardrailResult {
	var checks []check
	if cf := cfg.ContentFilter; cf != nil && cf.Enabled {
		checks = append(checks, func(ctx context.Context, t string) models.GuardrailResult {
			return e.checkContentFilter(ctx, *cf, t)
		})
	}
	if tc := cfg.TopicControl; tc != nil && tc.Enabled {
		checks = append(checks, func(_ context.Context, t string) models.GuardrailResult {
			return checkTopicControl(*tc, t)
		})
	}
	if pv := cfg.Privacy; pv != nil && pv.Enabled {
		checks = append(checks, func(_ context.Context, t string) models.GuardrailResult {
			return checkPrivacy(*pv, t)
		})
	}
	if tx := cfg.Toxicity; tx != nil && tx.Enabled {
		checks = append(checks, func(ctx context.Context, t string) models.GuardrailResult {
			return e.checkToxicity(ctx, *tx, t)
		})
	}
	return e.run(ctx, text, checks)
}

// EvaluateOutput runs the output-side checks: response quality, business
// context, content filtering.
func (e *Engine) EvaluateOutput(ctx context.Context, text string, cfg models.GuardrailConfig, gctx models.GuardrailContext) models.GuardrailResult {
	var checks []check
	if rq := cfg.ResponseQuality; rq != nil && rq.Enabled {
		checks = append(checks, func(ctx context.Context, t string) models.GuardrailResult {
			return e.checkResponseQuality(ctx, *rq, t, gctx.SourceDocuments)
		})
	}
	if bt := cfg.BusinessTone; bt != nil && bt.Enabled {
		checks = append(checks, func(ctx context.Context, t string) models.GuardrailResult {
			return e.checkBusinessTone(ctx, *bt, t)
		})
	}
	if cf := cfg.ContentFilter; cf != nil && cf.Enabled {
		checks = append(checks, func(ctx context.Context, t string) models.GuardrailResult {
			return e.checkContentFilter(ctx, *cf, t)
		})
	}
	return e.run(ctx, text, checks)
}

func (e *Engine) run(ctx context.Context, text string, checks []check) models.GuardrailResult {
	results := make([]models.GuardrailResult, 0, len(checks))
	for _, c := range checks {
		results = append(results, c(ctx, text))
	}
	return combine(results)
}

// combine folds per-check results into one verdict:
//   - allowed: AND over all checks
//   - reason: the first blocking check's reason, in evaluation order
//   - modifiedContent: the first check that proposed one (masking wins
//     even when nothing blocked)
//   - confidence: arithmetic mean of all confidences
//   - triggeredRules: every triggered rule, repeats kept for audit counts
func combine(results []models.GuardrailResult) models.GuardrailResult {
	out := models.GuardrailResult{Allowed: true, Confidence: 1.0}
	if len(results) == 0 {
		return out
	}

	var confidenceSum float64
	for _, r := range results {
		if !r.Allowed {
			out.Allowed = false
			if out.Reason == "" {
				out.Reason = r.Reason
			}
		}
		if out.ModifiedContent == "" && r.ModifiedContent != "" {
			out.ModifiedContent = r.ModifiedContent
		}
		confidenceSum += r.Confidence
		out.TriggeredRules = append(out.TriggeredRules, r.TriggeredRules...)
		out.Suggestions = append(out.Suggestions, r.Suggestions...)
	}
	out.Confidence = confidenceSum / float64(len(results))
	return out
}
