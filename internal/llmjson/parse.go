// Package llmjson extracts JSON objects from model completions.
//
// Models asked for structured output often wrap the object in markdown
// fencing or prose. Parsing runs in three stages: direct parse, fenced
// block extraction, then a scan for the first balanced brace block.
// Callers treat a ParseError the same as an unavailable classifier.
package llmjson

import (
	"encoding/json"
	"strings"
)

// ParseError reports that no stage could produce a valid JSON object.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return "llmjson: no parseable JSON object in completion: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseObject unmarshals the first JSON object found in text into v.
func ParseObject(text string, v any) error {
	trimmed := strings.TrimSpace(text)

	// Stage 1: direct parse.
	err := json.Unmarshal([]byte(trimmed), v)
	if err == nil {
		return nil
	}
	firstErr := err

	// Stage 2: strip markdown fencing.
	if fenced, ok := extractFenced(trimmed); ok {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}

	// Stage 3: first balanced brace block.
	if block, ok := extractBraceBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return nil
		}
	}

	return &ParseError{Input: text, Err: firstErr}
}

// extractFenced returns the contents of the first ``` fenced block.
// A language tag after the opening fence (```json) is skipped.
func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the fence line itself (may carry a language tag).
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || isFenceTag(firstLine) {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// extractBraceBlock scans for the first balanced {...} block, ignoring
// braces inside JSON strings.
func extractBraceBlock(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
