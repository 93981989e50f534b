package assembler

import (
	"strings"
	"testing"

	"docqa/internal/config"
	"docqa/internal/rag/schema"
	"docqa/pkg/logger"
)

func testAssembler() *Assembler {
	return New(CharMeasurer{}, config.AssemblerConfig{
		DefaultBudget: 100,
		DedupOverlap:  0.8,
		SnippetLength: 40,
	}, logger.New("assembler-test"))
}

func result(id string, ordinal int, score float64, text string) schema.SearchResult {
	docID := strings.SplitN(id, ":", 2)[0]
	return schema.SearchResult{
		Chunk: schema.Chunk{
			ID:         id,
			DocumentID: docID,
			Ordinal:    ordinal,
			Text:       text,
			Metadata:   map[string]interface{}{schema.MetadataKeyFileName: docID + ".pdf"},
		},
		Score: score,
	}
}

func TestAssembleAllFit(t *testing.T) {
	a := testAssembler()
	results := []schema.SearchResult{
		result("d1:0", 0, 0.9, strings.Repeat("a", 30)),
		result("d2:0", 0, 0.8, strings.Repeat("b", 30)),
	}

	out := a.Assemble(results, 100)
	if len(out.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(out.Blocks))
	}
	if out.Used != 60 {
		t.Errorf("expected 60 units used, got %d", out.Used)
	}
	for _, block := range out.Blocks {
		if block.Truncated {
			t.Error("nothing should be truncated when everything fits")
		}
	}
}

func TestAssembleSkipsOversizedAndContinues(t *testing.T) {
	a := testAssembler()
	results := []schema.SearchResult{
		result("d1:0", 0, 0.9, strings.Repeat("a", 50)),
		result("d2:0", 0, 0.8, strings.Repeat("b", 80)), // does not fit after the first
		result("d3:0", 0, 0.7, strings.Repeat("c", 40)),
	}

	out := a.Assemble(results, 100)
	if len(out.Blocks) != 2 {
		t.Fatalf("expected the oversized middle result skipped, got %d blocks", len(out.Blocks))
	}
	if out.Citations[0].DocumentID != "d1" || out.Citations[1].DocumentID != "d3" {
		t.Errorf("wrong blocks included: %+v", out.Citations)
	}
}

func TestAssembleTruncatesOnlyFirstChunk(t *testing.T) {
	a := testAssembler()
	results := []schema.SearchResult{
		result("d1:0", 0, 0.9, strings.Repeat("x", 200)),
	}

	out := a.Assemble(results, 100)
	if len(out.Blocks) != 1 {
		t.Fatalf("a top result larger than the whole budget must still yield context")
	}
	if !out.Blocks[0].Truncated {
		t.Error("expected truncated flag")
	}
	if got := len([]rune(out.Blocks[0].Text)); got > 100 {
		t.Errorf("truncated text exceeds budget: %d", got)
	}
}

func TestAssembleTruncationPrefersWordBoundary(t *testing.T) {
	a := testAssembler()
	text := strings.Repeat("word ", 40) // 200 runes
	out := a.Assemble([]schema.SearchResult{result("d1:0", 0, 0.9, text)}, 103)

	got := out.Blocks[0].Text
	if strings.HasSuffix(got, "wor") || strings.HasSuffix(got, "wo") {
		t.Errorf("cut mid-word: %q", got)
	}
}

func TestAssembleStructuralFirstTruncatedToBudget(t *testing.T) {
	a := testAssembler()
	table := schema.SearchResult{
		Chunk: schema.Chunk{
			ID: "d1:0", DocumentID: "d1", Ordinal: 0,
			Text:       strings.Repeat("r|c\n", 60), // 240 runes
			Structural: true,
		},
		Score: 0.9,
	}

	out := a.Assemble([]schema.SearchResult{table}, 10)
	if len(out.Blocks) != 1 {
		t.Fatal("sole structural result must still yield context")
	}
	if !out.Blocks[0].Truncated {
		t.Error("an over-budget structural first chunk must be truncated")
	}
	if out.Used > 10 {
		t.Errorf("assembled context uses %d units against a budget of 10", out.Used)
	}
}

func TestAssembleStructuralSkippedWhenNotFirst(t *testing.T) {
	a := testAssembler()
	results := []schema.SearchResult{
		result("d1:0", 0, 0.9, strings.Repeat("a", 50)),
		{
			Chunk: schema.Chunk{
				ID: "d2:0", DocumentID: "d2",
				Text:       strings.Repeat("r|c\n", 60),
				Structural: true,
			},
			Score: 0.8,
		},
	}

	out := a.Assemble(results, 100)
	for _, block := range out.Blocks {
		if len([]rune(block.Text)) == 240 {
			t.Error("oversized structural chunk must be skipped, not truncated, after the first")
		}
	}
}

func TestAssembleDedupKeepsHigherScored(t *testing.T) {
	a := testAssembler()
	shared := strings.Repeat("same text ", 4)
	results := []schema.SearchResult{
		result("d1:0", 0, 0.9, shared+"tail"),
		result("d1:1", 1, 0.5, shared), // contained in the first
		result("d2:0", 0, 0.4, "unrelated text"),
	}

	out := a.Assemble(results, 1000)
	if len(out.Blocks) != 2 {
		t.Fatalf("expected duplicate dropped, got %d blocks", len(out.Blocks))
	}
	if out.Citations[0].ChunkID != "d1:0" {
		t.Error("the higher-scored duplicate must survive")
	}
	if out.Citations[1].DocumentID != "d2" {
		t.Error("cross-document near-duplicates are not deduplicated")
	}
}

func TestAssembleOverlappingNeighborsDeduped(t *testing.T) {
	a := testAssembler()
	// Adjacent chunks sharing a 90% tail/head overlap.
	base := strings.Repeat("abcdefghij", 10)
	next := base[10:] + "KLMNOPQRST"
	results := []schema.SearchResult{
		result("d1:0", 0, 0.9, base),
		result("d1:1", 1, 0.8, next),
	}

	out := a.Assemble(results, 1000)
	if len(out.Blocks) != 1 {
		t.Fatalf("90%% overlapping neighbours must dedup, got %d blocks", len(out.Blocks))
	}
}

func TestAssembleCitationFields(t *testing.T) {
	a := testAssembler()
	r := result("d1:3", 3, 0.77, "The   quarterly report shows   growth across all regions of the business this year.")
	r.Chunk.PageLabel = "4"

	out := a.Assemble([]schema.SearchResult{r}, 1000)
	if len(out.Citations) != 1 {
		t.Fatal("expected one citation")
	}
	c := out.Citations[0]
	if c.DocumentID != "d1" || c.Filename != "d1.pdf" || c.ChunkID != "d1:3" || c.Ordinal != 3 || c.PageLabel != "4" {
		t.Errorf("citation fields wrong: %+v", c)
	}
	if c.Score != 0.77 {
		t.Errorf("citation must carry the fused score, got %v", c.Score)
	}
	if !strings.HasSuffix(c.Snippet, "...") || len([]rune(c.Snippet)) > 43 {
		t.Errorf("snippet not limited: %q", c.Snippet)
	}
	if strings.Contains(c.Snippet, "  ") {
		t.Errorf("snippet whitespace not collapsed: %q", c.Snippet)
	}
}

func TestAssembleDefaultBudget(t *testing.T) {
	a := testAssembler()
	out := a.Assemble([]schema.SearchResult{result("d1:0", 0, 0.9, strings.Repeat("a", 200))}, 0)
	if got := len([]rune(out.Blocks[0].Text)); got > 100 {
		t.Errorf("default budget not applied: %d", got)
	}
}

func TestAssembleEmptyResults(t *testing.T) {
	a := testAssembler()
	out := a.Assemble(nil, 100)
	if len(out.Blocks) != 0 || len(out.Citations) != 0 || out.Used != 0 {
		t.Errorf("empty input must produce empty context: %+v", out)
	}
}
