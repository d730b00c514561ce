// Package rag turns knowledge-base documents into embedded, searchable
// chunks in the vector store.
package rag

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is how many trailing characters each chunk
	// shares with the next one.
	DefaultChunkOverlap = 200
)

// separators are tried in order when splitting oversized text. Falling
// through to "" splits on character boundaries as a last resort.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits document text into overlapping chunks sized for the
// embedding model.
type Chunker struct {
	chunkSize int
	overlap   int
}

func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split breaks text into chunks of at most the configured size, keeping
// paragraph and sentence boundaries intact where possible. Empty chunks
// are dropped.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}

	pieces := c.split(text, 0)

	var chunks []string
	var current strings.Builder
	currentRunes := 0
	for _, piece := range pieces {
		pieceRunes := utf8.RuneCountInString(piece)
		if currentRunes > 0 && currentRunes+pieceRunes > c.chunkSize {
			chunk := strings.TrimSpace(current.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			tail := overlapTail(current.String(), c.overlap)
			current.Reset()
			current.WriteString(tail)
			currentRunes = utf8.RuneCountInString(tail)
		}
		current.WriteString(piece)
		currentRunes += pieceRunes
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// split recursively breaks text along the separator hierarchy until
// every piece fits within the chunk size.
func (c *Chunker) split(text string, sepIdx int) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		return []string{text}
	}

	sep := separators[sepIdx]
	if sep == "" {
		// Character-level fallback for pathological unbroken runs.
		runes := []rune(text)
		var out []string
		for len(runes) > c.chunkSize {
			out = append(out, string(runes[:c.chunkSize]))
			runes = runes[c.chunkSize:]
		}
		if len(runes) > 0 {
			out = append(out, string(runes))
		}
		return out
	}

	parts := strings.SplitAfter(text, sep)
	var out []string
	for _, part := range parts {
		if utf8.RuneCountInString(part) > c.chunkSize {
			out = append(out, c.split(part, sepIdx+1)...)
		} else if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// overlapTail returns the last n characters of s, extended left to the
// nearest word boundary so the overlap doesn't start mid-word.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return tail
}
