package extract

import (
	"fmt"
	"strings"
)

// Chunker splits text into character-bounded chunks with overlap.
// It prefers cutting at paragraph breaks, then sentence ends, and accepts a
// boundary only if it lands past 60% of the window so chunks stay full.
type Chunker struct {
	Size    int // max chunk size in runes. Default 2000.
	Overlap int // runes carried into the next chunk. Default 0.
}

const boundaryFraction = 0.6

var sentenceEnds = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// Chunk splits text. Short inputs come back as a single chunk; empty input
// yields no chunks.
func (c Chunker) Chunk(text string) []string {
	size := c.Size
	if size <= 0 {
		size = 2000
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	minCut := int(float64(size) * boundaryFraction)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		window := string(runes[start:end])
		cut := boundaryCut(window, minCut)
		chunkEnd := start + cut
		if chunk := strings.TrimSpace(string(runes[start:chunkEnd])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := chunkEnd - overlap
		if next <= start {
			next = chunkEnd
		}
		start = next
	}
	return chunks
}

// boundaryCut returns the rune offset to cut the window at: the last
// paragraph break past minCut, else the last sentence end past minCut, else
// the full window.
func boundaryCut(window string, minCut int) int {
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		if off := len([]rune(window[:idx])); off >= minCut {
			return off
		}
	}
	best := -1
	for _, end := range sentenceEnds {
		if idx := strings.LastIndex(window, end); idx >= 0 {
			// Cut after the sentence terminator itself.
			if off := len([]rune(window[:idx+1])); off >= minCut && off > best {
				best = off
			}
		}
	}
	if best >= 0 {
		return best
	}
	return len([]rune(window))
}

// ChunkID names the i-th chunk (zero-based) of a source's document.
func ChunkID(sourceID string, i, total int) string {
	return fmt.Sprintf("%s_chunk_%03d_of_%03d", sourceID, i+1, total)
}
