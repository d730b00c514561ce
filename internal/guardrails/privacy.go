package guardrails

import (
	"regexp"

	"github.com/kbchat/kbchat/pkg/models"
)

// Mask tokens substituted for detected PII.
const (
	MaskEmail      = "[EMAIL_MASKED]"
	MaskPhone      = "[PHONE_MASKED]"
	MaskNationalID = "[ID_MASKED]"
)

// Fixed PII patterns. National-ID covers 13-digit Thai-style IDs and
// SSN-shaped sequences; phone covers local 0-prefixed and international
// formats with optional separators.
var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern      = regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?0?\d{1,2}[-.\s]?\d{3,4}[-.\s]?\d{4}\b`)
	nationalIDPattern = regexp.MustCompile(`\b\d{13}\b|\b\d{3}-\d{2}-\d{4}\b|\b\d-\d{4}-\d{5}-\d{2}-\d\b`)
)

// checkPrivacy masks configured PII patterns. It never blocks: the
// verdict is always allowed, with ModifiedContent set when anything was
// masked so the combinator can propagate the masked text.
func checkPrivacy(cfg models.PrivacyConfig, text string) models.GuardrailResult {
	masked := text
	var triggered []string

	// National IDs first so a 13-digit run is not half-eaten by the
	// phone pattern.
	if cfg.MaskNationalIDs && nationalIDPattern.MatchString(masked) {
		masked = nationalIDPattern.ReplaceAllString(masked, MaskNationalID)
		triggered = append(triggered, RulePrivacyMask)
	}
	if cfg.MaskEmails && emailPattern.MatchString(masked) {
		masked = emailPattern.ReplaceAllString(masked, MaskEmail)
		triggered = append(triggered, RulePrivacyMask)
	}
	if cfg.MaskPhones && phonePattern.MatchString(masked) {
		masked = phonePattern.ReplaceAllString(masked, MaskPhone)
		triggered = append(triggered, RulePrivacyMask)
	}

	result := models.GuardrailResult{
		Allowed:        true,
		Confidence:     1.0,
		TriggeredRules: triggered,
	}
	if masked != text {
		result.ModifiedContent = masked
	}
	return result
}
