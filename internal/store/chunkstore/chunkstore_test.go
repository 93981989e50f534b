package chunkstore

import (
	"context"
	"testing"

	"docqa/internal/models"
	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
)

func chunksFor(docID string, texts ...string) []schema.Chunk {
	out := make([]schema.Chunk, len(texts))
	for i, text := range texts {
		out[i] = schema.Chunk{
			ID:         docID + ":" + string(rune('0'+i)),
			DocumentID: docID,
			Ordinal:    i,
			Text:       text,
			Metadata:   map[string]interface{}{filters.FieldFileType: "txt"},
		}
	}
	return out
}

func TestReplaceForDocumentSwapsWholesale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.ReplaceForDocument(ctx, "d1", chunksFor("d1", "first pass one", "first pass two")); err != nil {
		t.Fatalf("ReplaceForDocument: %v", err)
	}
	if err := s.ReplaceForDocument(ctx, "d1", chunksFor("d1", "second pass only")); err != nil {
		t.Fatalf("ReplaceForDocument: %v", err)
	}

	chunks, err := s.GetByDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetByDocument: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "second pass only" {
		t.Fatalf("old chunk set must be gone: %+v", chunks)
	}
}

func TestGetByDocumentOrdersByOrdinal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	chunks := chunksFor("d1", "zero", "one", "two")
	// insert out of order
	if err := s.ReplaceForDocument(ctx, "d1", []schema.Chunk{chunks[2], chunks[0], chunks[1]}); err != nil {
		t.Fatalf("ReplaceForDocument: %v", err)
	}

	got, err := s.GetByDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetByDocument: %v", err)
	}
	for i, chunk := range got {
		if chunk.Ordinal != i {
			t.Errorf("position %d has ordinal %d", i, chunk.Ordinal)
		}
	}
}

func TestGetByIDsSkipsMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.ReplaceForDocument(ctx, "d1", chunksFor("d1", "alpha"))

	got, err := s.GetByIDs(ctx, []string{"d1:0", "ghost:0"})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 1 || got[0].ID != "d1:0" {
		t.Fatalf("expected only the existing chunk, got %+v", got)
	}
}

func TestKeywordQueryRanksAndFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.ReplaceForDocument(ctx, "d1", chunksFor("d1", "revenue growth in the third quarter was strong"))
	s.ReplaceForDocument(ctx, "d2", chunksFor("d2", "revenue summary"))

	hits, err := s.KeywordQuery(ctx, "revenue", 10, filters.Pushdown{})
	if err != nil {
		t.Fatalf("KeywordQuery: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "d2:0" {
		t.Errorf("denser match must rank first, got %s", hits[0].ChunkID)
	}

	pd, _ := filters.Compile(&models.FilterQuery{})
	pd = pd.RestrictToDocuments([]string{"d1"})
	hits, err = s.KeywordQuery(ctx, "revenue", 10, pd)
	if err != nil {
		t.Fatalf("KeywordQuery: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "d1:0" {
		t.Fatalf("document restriction not applied: %+v", hits)
	}
}

func TestKeywordQueryMatchNone(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.ReplaceForDocument(ctx, "d1", chunksFor("d1", "revenue"))

	hits, err := s.KeywordQuery(ctx, "revenue", 10, filters.Pushdown{MatchNone: true})
	if err != nil || hits != nil {
		t.Fatalf("MatchNone must return nothing, got %v, %v", hits, err)
	}
}

func TestDeleteByDocument(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.ReplaceForDocument(ctx, "d1", chunksFor("d1", "alpha", "beta"))

	if err := s.DeleteByDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	chunks, _ := s.GetByDocument(ctx, "d1")
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks after delete, got %d", len(chunks))
	}
}
