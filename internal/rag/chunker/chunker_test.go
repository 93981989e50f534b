package chunker

import (
	"strings"
	"testing"

	"docqa/internal/rag/schema"
)

func testConfig() Config {
	return Config{TargetSize: 100, MinSize: 20, MaxSize: 150, Overlap: 10}
}

func TestChunkEmptyText(t *testing.T) {
	engine := New(testConfig())
	chunks := engine.Chunk(schema.ExtractedContent{Text: "   \n  "}, "doc-1")
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank text, got %d", len(chunks))
	}
}

func TestChunkShortTextYieldsSingleChunk(t *testing.T) {
	engine := New(testConfig())
	text := "A short note."

	chunks := engine.Chunk(schema.ExtractedContent{Text: text}, "doc-1")
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("expected chunk text %q, got %q", text, chunks[0].Text)
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("expected ordinal 0, got %d", chunks[0].Ordinal)
	}
	if chunks[0].ID != "doc-1:0" {
		t.Errorf("expected deterministic id doc-1:0, got %s", chunks[0].ID)
	}
}

func TestChunkDeterministic(t *testing.T) {
	engine := New(testConfig())
	content := schema.ExtractedContent{
		Text: strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40),
	}

	first := engine.Chunk(content, "doc-1")
	second := engine.Chunk(content, "doc-1")

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Errorf("chunk %d differs between runs:\n%q\n%q", i, first[i].Text, second[i].Text)
		}
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d id differs: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestChunkOverlapInvariant(t *testing.T) {
	cfg := testConfig()
	engine := New(cfg)
	content := schema.ExtractedContent{
		Text: strings.Repeat("Sentences pile up one after another in this text. ", 30),
	}

	chunks := engine.Chunk(content, "doc-1")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		curr := []rune(chunks[i].Text)
		if len(prev) < cfg.Overlap || len(curr) < cfg.Overlap {
			t.Fatalf("chunk shorter than overlap at pair %d", i)
		}
		tail := string(prev[len(prev)-cfg.Overlap:])
		head := string(curr[:cfg.Overlap])
		if tail != head {
			t.Errorf("pair %d: overlap mismatch, tail %q head %q", i, tail, head)
		}
	}
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	engine := New(testConfig())
	para1 := strings.Repeat("alpha beta gamma. ", 5) // 90 runes
	para2 := strings.Repeat("delta epsilon zeta. ", 8)
	content := schema.ExtractedContent{Text: para1 + "\n\n" + para2}

	chunks := engine.Chunk(content, "doc-1")
	if len(chunks) < 2 {
		t.Fatalf("expected at least two chunks, got %d", len(chunks))
	}
	// The first cut should land just after the blank line, keeping the
	// first paragraph whole.
	if !strings.HasPrefix(chunks[0].Text, "alpha") || !strings.HasSuffix(chunks[0].Text, "\n\n") {
		t.Errorf("expected first chunk to end at the paragraph break, got %q", chunks[0].Text)
	}
}

func TestChunkForcedSplitWithoutBoundary(t *testing.T) {
	cfg := testConfig()
	engine := New(cfg)
	// One unbroken run of letters: no paragraph, sentence or whitespace
	// boundary anywhere.
	content := schema.ExtractedContent{Text: strings.Repeat("x", 400)}

	chunks := engine.Chunk(content, "doc-1")
	if len(chunks) < 2 {
		t.Fatalf("expected forced splits, got %d chunks", len(chunks))
	}
	if got := len([]rune(chunks[0].Text)); got != cfg.MaxSize {
		t.Errorf("expected forced first chunk of %d runes, got %d", cfg.MaxSize, got)
	}
}

func TestChunkKeepsTableIntact(t *testing.T) {
	engine := New(testConfig())
	prose := strings.Repeat("Regular prose sentence here. ", 4)
	table := strings.Repeat("cell-a | cell-b | cell-c\n", 10) // 250 runes, beyond MaxSize
	content := schema.ExtractedContent{
		Text: prose + table,
		Hints: []schema.StructuralHint{
			{Kind: schema.HintTable, Start: len([]rune(prose)), End: len([]rune(prose + table))},
		},
	}

	chunks := engine.Chunk(content, "doc-1")

	var structural []schema.Chunk
	for _, c := range chunks {
		if c.Structural {
			structural = append(structural, c)
		}
	}
	if len(structural) != 1 {
		t.Fatalf("expected exactly one structural chunk, got %d", len(structural))
	}
	if structural[0].Text != table {
		t.Errorf("structural chunk was not kept intact")
	}
}

func TestChunkPageLabels(t *testing.T) {
	engine := New(testConfig())
	page1 := strings.Repeat("First page sentences go here. ", 6)
	page2 := strings.Repeat("Second page content follows on. ", 6)
	content := schema.ExtractedContent{
		Text: page1 + page2,
		Hints: []schema.StructuralHint{
			{Kind: schema.HintPage, Start: 0, Label: "1"},
			{Kind: schema.HintPage, Start: len([]rune(page1)), Label: "2"},
		},
	}

	chunks := engine.Chunk(content, "doc-1")
	if len(chunks) < 2 {
		t.Fatalf("expected at least two chunks, got %d", len(chunks))
	}
	if chunks[0].PageLabel != "1" {
		t.Errorf("expected first chunk on page 1, got %q", chunks[0].PageLabel)
	}
	last := chunks[len(chunks)-1]
	if last.PageLabel != "2" {
		t.Errorf("expected last chunk on page 2, got %q", last.PageLabel)
	}
}

func TestChunkOrdinalsAreSequential(t *testing.T) {
	engine := New(testConfig())
	content := schema.ExtractedContent{
		Text: strings.Repeat("Yet another sentence for the pile. ", 25),
	}

	chunks := engine.Chunk(content, "doc-1")
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, c.Ordinal)
		}
		if c.DocumentID != "doc-1" {
			t.Errorf("chunk %d has document id %q", i, c.DocumentID)
		}
	}
}
