package ingest

import "unicode/utf8"

const (
	// DefaultChunkSize is the chunk length in bytes before boundary
	// adjustment.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is how many bytes consecutive chunks share.
	DefaultChunkOverlap = 100

	// boundaryScanWindow is how far past the nominal chunk end the
	// chunker looks for a sentence terminator so chunks don't split
	// mid-sentence.
	boundaryScanWindow = 100
)

// Chunk is one bounded, overlap-adjacent slice of document text. Start
// and End are byte offsets into the source text.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// sentenceTerminator reports whether r ends a sentence. Covers ASCII
// and CJK full-width terminators.
func sentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	}
	return false
}

// Split chunks text into overlapping slices. Each chunk spans size
// bytes, extended up to boundaryScanWindow bytes to the nearest
// sentence terminator; each subsequent chunk starts size−overlap bytes
// after the previous chunk's start, guaranteeing overlap for context
// continuity. Deterministic for a given (size, overlap).
func Split(text string, size, overlap int) []Chunk {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []Chunk
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = adjustBoundary(text, end)
		}

		chunks = append(chunks, Chunk{
			Text:  text[start:end],
			Start: start,
			End:   end,
		})

		if start+size >= len(text) {
			break
		}
		// Chunk starts must not land mid-rune either.
		start += step
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
	}
	return chunks
}

// adjustBoundary scans forward from end, up to boundaryScanWindow
// bytes, for the nearest sentence terminator. Returns the offset just
// past the terminator, or end unchanged when none is found.
func adjustBoundary(text string, end int) int {
	// Never start a scan mid-rune.
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	limit := end + boundaryScanWindow
	if limit > len(text) {
		limit = len(text)
	}

	for i := end; i < limit; {
		r, width := utf8.DecodeRuneInString(text[i:])
		i += width
		if sentenceTerminator(r) {
			return i
		}
	}
	return end
}
