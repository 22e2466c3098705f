package chunk

import (
	"strings"

	"docvoice/internal/models"
)

// Split cuts text into ordered chunks no longer than limit runes, preferring
// sentence boundaries, then clause boundaries, then word boundaries. The split
// is purely positional, so identical input always produces identical chunks.
// Joining the chunks with single spaces reconstructs the normalized text
// (hard cuts inside an over-long word are the only exception).
func Split(text string, limit int) []models.TextChunk {
	if limit <= 0 {
		limit = 200
	}
	norm := Normalize(text)
	if norm == "" {
		return nil
	}

	runes := []rune(norm)
	var chunks []models.TextChunk
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = appendChunk(chunks, string(runes))
			break
		}

		cut := findCut(runes, limit)
		chunks = appendChunk(chunks, strings.TrimRight(string(runes[:cut]), " "))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	return chunks
}

// Normalize collapses all whitespace runs to single spaces and trims the ends.
// Chunk boundaries are defined over this form.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func appendChunk(chunks []models.TextChunk, text string) []models.TextChunk {
	if text == "" {
		return chunks
	}
	return append(chunks, models.TextChunk{Index: len(chunks), Text: text})
}

// findCut returns the rune index to cut before, at most limit. The window
// includes position limit itself so a boundary space sitting exactly on the
// limit still counts.
func findCut(runes []rune, limit int) int {
	if i := lastBoundary(runes, limit, isSentenceEnd); i > 0 {
		return i
	}
	if i := lastBoundary(runes, limit, isClauseEnd); i > 0 {
		return i
	}
	for i := limit; i >= 1; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	// One unbroken word longer than the limit: hard cut.
	return limit
}

func lastBoundary(runes []rune, limit int, ends func(rune) bool) int {
	for i := limit; i >= 1; i-- {
		if !ends(runes[i-1]) {
			continue
		}
		// A fullwidth ender bounds a cut on its own; CJK prose carries
		// no spaces. ASCII enders still need one, so "3.14" stays whole.
		if runes[i] == ' ' || isFullwidth(runes[i-1]) {
			return i
		}
	}
	return -1
}

func isFullwidth(r rune) bool {
	return r >= 0x3000
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isClauseEnd(r rune) bool {
	switch r {
	case ',', ';', ':', '、', '，', '；':
		return true
	}
	return false
}
