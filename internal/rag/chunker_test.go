package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	c := NewChunker(100, 20)
	chunks := c.Split("a short paragraph")
	if len(chunks) != 1 || chunks[0] != "a short paragraph" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitEmptyText(t *testing.T) {
	c := NewChunker(100, 20)
	if chunks := c.Split("   \n  "); chunks != nil {
		t.Errorf("whitespace-only text produced %v", chunks)
	}
}

func TestSplitRespectsChunkSize(t *testing.T) {
	c := NewChunker(100, 20)
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("This is sentence number something. ")
	}

	chunks := c.Split(b.String())
	if len(chunks) < 2 {
		t.Fatalf("long text produced %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 100+20 {
			t.Errorf("chunk %d has %d chars, want ≤ size+overlap", i, len(chunk))
		}
		if strings.TrimSpace(chunk) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	c := NewChunker(50, 0)
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."

	chunks := c.Split(text)
	for i, chunk := range chunks {
		if strings.Contains(chunk, "First") && strings.Contains(chunk, "Third") {
			t.Errorf("chunk %d spans non-adjacent paragraphs: %q", i, chunk)
		}
	}
}

func TestSplitHandlesUnbrokenRun(t *testing.T) {
	c := NewChunker(50, 10)
	for name, text := range map[string]string{
		"ascii": strings.Repeat("x", 500),
		"thai":  strings.Repeat("ก", 500),
	} {
		chunks := c.Split(text)
		if len(chunks) < 5 {
			t.Fatalf("%s: unbroken run produced %d chunks", name, len(chunks))
		}
		total := 0
		for i, chunk := range chunks {
			if !utf8.ValidString(chunk) {
				t.Errorf("%s: chunk %d is invalid UTF-8", name, i)
			}
			if n := utf8.RuneCountInString(chunk); n > 50+10 {
				t.Errorf("%s: chunk %d has %d runes, want ≤ size+overlap", name, i, n)
			}
			total += utf8.RuneCountInString(chunk)
		}
		if total < 500 {
			t.Errorf("%s: chunks cover %d chars of %d input", name, total, 500)
		}
	}
}

func TestSplitCoversAllWords(t *testing.T) {
	c := NewChunker(60, 20)
	text := "alpha bravo charlie delta echo. foxtrot golf hotel india juliet. kilo lima mike november oscar."

	chunks := c.Split(text)
	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(strings.ReplaceAll(text, ".", "")) {
		if !strings.Contains(joined, word) {
			t.Errorf("word %q lost during chunking", word)
		}
	}
}
