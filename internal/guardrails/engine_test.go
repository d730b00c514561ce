package guardrails

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kbchat/kbchat/pkg/models"
)

// stubClassifier returns a canned response or error for every call.
type stubClassifier struct {
	response string
	err      error
	calls    int
}

func (s *stubClassifier) Classify(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func boolCfg(b bool) *models.ContentFilterConfig {
	return &models.ContentFilterConfig{Enabled: b, BlockedWords: []string{"forbidden"}}
}

func TestEvaluateInputNoChecksAllows(t *testing.T) {
	e := NewEngine(nil)
	res := e.EvaluateInput(context.Background(), "hello", models.GuardrailConfig{}, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("empty config should allow")
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", res.Confidence)
	}
}

func TestContentFilterBlocksWord(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{ContentFilter: boolCfg(true)}

	res := e.EvaluateInput(context.Background(), "this is FORBIDDEN text", cfg, models.GuardrailContext{})
	if res.Allowed {
		t.Fatal("blocked word should deny")
	}
	if len(res.TriggeredRules) != 1 || res.TriggeredRules[0] != RuleContentFilter {
		t.Errorf("triggered rules = %v", res.TriggeredRules)
	}
}

func TestContentFilterCaseSensitive(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{ContentFilter: &models.ContentFilterConfig{
		Enabled:       true,
		BlockedWords:  []string{"Forbidden"},
		CaseSensitive: true,
	}}

	res := e.EvaluateInput(context.Background(), "this is forbidden", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("case-sensitive filter should not match different case")
	}
}

func TestDisabledCheckIsSkipped(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{ContentFilter: boolCfg(false)}

	res := e.EvaluateInput(context.Background(), "forbidden", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("disabled check must be skipped entirely")
	}
}

func TestTopicControlBlockedBeforeAllowed(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{TopicControl: &models.TopicControlConfig{
		Enabled:       true,
		AllowedTopics: []string{"billing"},
		BlockedTopics: []string{"politics"},
	}}

	res := e.EvaluateInput(context.Background(), "billing and politics", cfg, models.GuardrailContext{})
	if res.Allowed {
		t.Fatal("blocked topic must win even when an allowed topic matches")
	}
	if !strings.Contains(res.Reason, "politics") {
		t.Errorf("reason = %q", res.Reason)
	}

	res = e.EvaluateInput(context.Background(), "talk about weather", cfg, models.GuardrailContext{})
	if res.Allowed {
		t.Error("message outside allowed topics should be denied")
	}

	res = e.EvaluateInput(context.Background(), "a billing question", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("allowed topic should pass")
	}
}

func TestPrivacyMasksPhoneWithoutBlocking(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{Privacy: &models.PrivacyConfig{
		Enabled:    true,
		MaskPhones: true,
	}}

	res := e.EvaluateInput(context.Background(), "call me at 081-234-5678 please", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Fatal("privacy masking must never block")
	}
	if !strings.Contains(res.ModifiedContent, "[PHONE_MASKED]") {
		t.Errorf("modified content = %q, want phone masked", res.ModifiedContent)
	}
	if strings.Contains(res.ModifiedContent, "081-234-5678") {
		t.Errorf("raw phone number leaked: %q", res.ModifiedContent)
	}
}

func TestPrivacyNoMatchLeavesContentUnset(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{Privacy: &models.PrivacyConfig{
		Enabled: true, MaskEmails: true, MaskPhones: true,
	}}

	res := e.EvaluateInput(context.Background(), "no personal info here", cfg, models.GuardrailContext{})
	if !res.Allowed || res.ModifiedContent != "" {
		t.Errorf("clean text: allowed=%v modified=%q", res.Allowed, res.ModifiedContent)
	}
}

func TestToxicityBlocksAboveThreshold(t *testing.T) {
	cls := &stubClassifier{response: `{"toxicity_score": 0.75, "confidence": 0.9}`}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{Toxicity: &models.ToxicityConfig{Enabled: true}}

	res := e.EvaluateInput(context.Background(), "angry text", cfg, models.GuardrailContext{})
	if res.Allowed {
		t.Fatal("score 0.75 over default threshold 0.6 must block")
	}
	if len(res.TriggeredRules) != 1 || res.TriggeredRules[0] != RuleToxicity {
		t.Errorf("triggered rules = %v", res.TriggeredRules)
	}
}

func TestToxicityAtThresholdAllows(t *testing.T) {
	cls := &stubClassifier{response: `{"toxicity_score": 0.6, "confidence": 0.9}`}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{Toxicity: &models.ToxicityConfig{Enabled: true}}

	res := e.EvaluateInput(context.Background(), "borderline", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("score exactly at threshold must pass (strictly-greater comparison)")
	}
}

func TestClassifierFailureFailsOpen(t *testing.T) {
	cls := &stubClassifier{err: errors.New("upstream 500")}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{Toxicity: &models.ToxicityConfig{Enabled: true}}

	res := e.EvaluateInput(context.Background(), "text", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Fatal("classifier failure must fail open")
	}
	if res.Confidence != 0.5 {
		t.Errorf("confidence = %f, want 0.5", res.Confidence)
	}

	// The per-check result carries the unavailability reason.
	direct := failOpen(RuleToxicity, errors.New("upstream 500"))
	if !strings.Contains(direct.Reason, "unavailable") {
		t.Errorf("reason = %q", direct.Reason)
	}
}

func TestNilClassifierFailsOpen(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{Toxicity: &models.ToxicityConfig{Enabled: true}}

	res := e.EvaluateInput(context.Background(), "text", cfg, models.GuardrailContext{})
	if !res.Allowed || res.Confidence != 0.5 {
		t.Errorf("nil classifier: allowed=%v confidence=%f", res.Allowed, res.Confidence)
	}
}

func TestUnparsableClassifierOutputFailsOpen(t *testing.T) {
	cls := &stubClassifier{response: "I cannot answer that."}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{Toxicity: &models.ToxicityConfig{Enabled: true}}

	res := e.EvaluateInput(context.Background(), "text", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("unparsable output must fail open")
	}
}

func TestResponseLengthBoundsAreExclusive(t *testing.T) {
	e := NewEngine(nil)
	cfg := models.GuardrailConfig{ResponseQuality: &models.ResponseQualityConfig{
		Enabled: true, MinLength: 5, MaxLength: 10,
	}}
	ctx := context.Background()

	if res := e.EvaluateOutput(ctx, "12345", cfg, models.GuardrailContext{}); !res.Allowed {
		t.Error("length == MinLength must pass")
	}
	if res := e.EvaluateOutput(ctx, "1234567890", cfg, models.GuardrailContext{}); !res.Allowed {
		t.Error("length == MaxLength must pass")
	}
	if res := e.EvaluateOutput(ctx, "1234", cfg, models.GuardrailContext{}); res.Allowed {
		t.Error("length < MinLength must block")
	}
	if res := e.EvaluateOutput(ctx, "12345678901", cfg, models.GuardrailContext{}); res.Allowed {
		t.Error("length > MaxLength must block")
	}
}

func TestHallucinationSkippedWithoutSourceDocs(t *testing.T) {
	cls := &stubClassifier{response: `{"grounded": false, "confidence": 0.9}`}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{ResponseQuality: &models.ResponseQualityConfig{
		Enabled: true, CheckHallucination: true,
	}}

	res := e.EvaluateOutput(context.Background(), "made-up claim", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Error("hallucination check must be skipped without source documents")
	}
	if cls.calls != 0 {
		t.Errorf("classifier called %d times, want 0", cls.calls)
	}
}

func TestHallucinationBlocksUngroundedResponse(t *testing.T) {
	cls := &stubClassifier{response: `{"grounded": false, "confidence": 0.9}`}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{ResponseQuality: &models.ResponseQualityConfig{
		Enabled: true, CheckHallucination: true,
	}}
	gctx := models.GuardrailContext{SourceDocuments: []string{"the sky is blue"}}

	res := e.EvaluateOutput(context.Background(), "the sky is green", cfg, gctx)
	if res.Allowed {
		t.Fatal("ungrounded response must block")
	}
	if res.TriggeredRules[0] != RuleHallucination {
		t.Errorf("triggered rules = %v", res.TriggeredRules)
	}
}

func TestBusinessToneNonStrictAllowsWithSuggestions(t *testing.T) {
	cls := &stubClassifier{response: `{"matches": false, "suggestions": ["be more formal"], "confidence": 0.8}`}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{BusinessTone: &models.BusinessToneConfig{Enabled: true}}

	res := e.EvaluateOutput(context.Background(), "yo what's up", cfg, models.GuardrailContext{})
	if !res.Allowed {
		t.Fatal("non-strict tone mismatch must not block")
	}
	if len(res.Suggestions) != 1 {
		t.Errorf("suggestions = %v", res.Suggestions)
	}
}

func TestBusinessToneStrictBlocks(t *testing.T) {
	cls := &stubClassifier{response: `{"matches": false, "confidence": 0.8}`}
	e := NewEngine(cls)
	cfg := models.GuardrailConfig{BusinessTone: &models.BusinessToneConfig{Enabled: true, Strict: true}}

	res := e.EvaluateOutput(context.Background(), "yo", cfg, models.GuardrailContext{})
	if res.Allowed {
		t.Error("strict tone mismatch must block")
	}
}

func TestCombineAggregates(t *testing.T) {
	results := []models.GuardrailResult{
		{Allowed: true, Confidence: 1.0, TriggeredRules: []string{RulePrivacyMask}, ModifiedContent: "masked"},
		{Allowed: false, Confidence: 0.8, Reason: "first block", TriggeredRules: []string{RuleToxicity}},
		{Allowed: false, Confidence: 0.6, Reason: "second block", TriggeredRules: []string{RuleToxicity}},
	}
	out := combine(results)

	if out.Allowed {
		t.Error("any blocking check must deny")
	}
	if out.Reason != "first block" {
		t.Errorf("reason = %q, want first blocking reason", out.Reason)
	}
	if out.ModifiedContent != "masked" {
		t.Errorf("modified content = %q", out.ModifiedContent)
	}
	want := (1.0 + 0.8 + 0.6) / 3
	if out.Confidence != want {
		t.Errorf("confidence = %f, want %f", out.Confidence, want)
	}
	if len(out.TriggeredRules) != 3 {
		t.Errorf("triggered rules = %v, repeats must be kept", out.TriggeredRules)
	}
}

func TestMaskEmail(t *testing.T) {
	cfg := models.PrivacyConfig{Enabled: true, MaskEmails: true}
	res := checkPrivacy(cfg, "reach me at jane.doe@example.com today")
	if !strings.Contains(res.ModifiedContent, "[EMAIL_MASKED]") {
		t.Errorf("modified = %q", res.ModifiedContent)
	}
}
