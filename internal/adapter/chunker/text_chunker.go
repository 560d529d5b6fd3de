package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"supportrag/internal/domain"
)

// TextChunker splits raw document text into overlapping chunks, preferring
// to break at paragraph, line, or sentence boundaries near the size limit
// before falling back to a hard cut. Sizes and offsets are in runes.
type TextChunker struct {
	chunkSize int
	overlap   int
}

// New validates the chunking parameters at construction time.
func New(chunkSize, overlap int) (*TextChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0 (got %d)", domain.ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must satisfy 0 <= overlap < chunk size (got overlap=%d, size=%d)",
			domain.ErrInvalidConfig, overlap, chunkSize)
	}
	return &TextChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Chunk splits text into ordered chunks. Empty or whitespace-only text
// yields no chunks. Text shorter than the chunk size yields exactly one.
// Deterministic for identical inputs.
//
// Each chunk i+1 starts overlap runes before the end of chunk i, so
// concatenating the non-overlapping spans [prevEnd:end] reconstructs the
// document text exactly.
func (c *TextChunker) Chunk(doc domain.Document, text string) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	var chunks []domain.Chunk
	start := 0
	position := 0

	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.breakPoint(runes, start, end)
		}

		chunks = append(chunks, domain.Chunk{
			ID:        chunkID(doc.ID, position),
			DocID:     doc.ID,
			Text:      string(runes[start:end]),
			Position:  position,
			CharStart: start,
			CharEnd:   end,
		})

		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			// A short boundary-broken chunk must still advance.
			next = start + 1
		}
		start = next
		position++
	}

	return chunks, nil
}

// breakPoint picks the best split position in (window, limit], scanning
// backwards from the hard limit. Preference order: paragraph break, line
// break, sentence end, any whitespace. The window is half a chunk back;
// past that a hard cut loses less context than a tiny chunk would.
func (c *TextChunker) breakPoint(runes []rune, start, limit int) int {
	window := start + (limit-start)/2

	for i := limit; i > window; i-- {
		if i >= start+2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := limit; i > window; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := limit; i > window; i-- {
		if i >= start+2 && runes[i-1] == ' ' && isSentenceEnd(runes[i-2]) {
			return i
		}
	}
	for i := limit; i > window; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';':
		return true
	default:
		return false
	}
}

func chunkID(docID string, position int) string {
	data := fmt.Sprintf("%s:%d", docID, position)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
