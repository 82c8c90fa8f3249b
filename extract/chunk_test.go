package extract_test

import (
	"strings"
	"testing"

	"github.com/hazyhaar/kbsync/extract"
)

func TestChunkShortText(t *testing.T) {
	c := extract.Chunker{Size: 100}
	chunks := c.Chunk("short text")
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestChunkEmpty(t *testing.T) {
	c := extract.Chunker{Size: 100}
	if chunks := c.Chunk("   \n "); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	// WHAT: a paragraph break past 60% of the window wins over a hard cut.
	para1 := strings.Repeat("a", 80)
	para2 := strings.Repeat("b", 80)
	c := extract.Chunker{Size: 100}

	chunks := c.Chunk(para1 + "\n\n" + para2)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want split", len(chunks))
	}
	if chunks[0] != para1 {
		t.Errorf("chunk[0] = %q (len %d), want first paragraph", chunks[0][:20], len(chunks[0]))
	}
}

func TestChunkPrefersSentenceBoundary(t *testing.T) {
	s1 := strings.Repeat("a", 78) + ". "
	s2 := strings.Repeat("b", 80)
	c := extract.Chunker{Size: 100}

	chunks := c.Chunk(s1 + s2)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want split", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("chunk[0] does not end at sentence: %q", chunks[0][len(chunks[0])-10:])
	}
}

func TestChunkHardCutWithoutBoundary(t *testing.T) {
	c := extract.Chunker{Size: 50}
	text := strings.Repeat("x", 120)

	chunks := c.Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 50 {
		t.Errorf("chunk[0] len = %d, want 50", len(chunks[0]))
	}

	// No content lost.
	if len(strings.Join(chunks, "")) != 120 {
		t.Error("content lost across chunks")
	}
}

func TestChunkOverlap(t *testing.T) {
	c := extract.Chunker{Size: 50, Overlap: 10}
	text := strings.Repeat("x", 90)

	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	// Second chunk starts 10 runes before the first cut.
	if len(chunks[1]) != 50 {
		t.Errorf("chunk[1] len = %d, want 50 (40 remaining + 10 overlap)", len(chunks[1]))
	}
}

func TestChunkAlwaysTerminates(t *testing.T) {
	// Overlap equal to size would stall; the chunker must still make progress.
	c := extract.Chunker{Size: 10, Overlap: 10}
	chunks := c.Chunk(strings.Repeat("y", 100))
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
}

func TestChunkID(t *testing.T) {
	if got := extract.ChunkID("takanon", 0, 12); got != "takanon_chunk_001_of_012" {
		t.Fatalf("ChunkID = %q", got)
	}
	if got := extract.ChunkID("src", 11, 12); got != "src_chunk_012_of_012" {
		t.Fatalf("ChunkID = %q", got)
	}
}
