package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
	"docqa/pkg/logger"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeIndex struct {
	semantic    []schema.Hit
	keyword     []schema.Hit
	semanticErr error
	keywordErr  error
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	return f.semantic, f.semanticErr
}

func (f *fakeIndex) KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	return f.keyword, f.keywordErr
}

type fakeChunkStore struct{ chunks map[string]schema.Chunk }

func (f *fakeChunkStore) GetByIDs(ctx context.Context, ids []string) ([]schema.Chunk, error) {
	var out []schema.Chunk
	for _, id := range ids {
		if chunk, ok := f.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

type fakeDocStore struct{ docs map[string]*models.Document }

func (f *fakeDocStore) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	out := make(map[string]*models.Document)
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		SemanticWeight: 0.5,
		KeywordWeight:  0.5,
		PoolFactor:     3,
		DefaultTopK:    10,
		CacheSize:      16,
	}
}

func storesFor(chunks ...schema.Chunk) (*fakeChunkStore, *fakeDocStore) {
	cs := &fakeChunkStore{chunks: make(map[string]schema.Chunk)}
	ds := &fakeDocStore{docs: make(map[string]*models.Document)}
	for _, chunk := range chunks {
		cs.chunks[chunk.ID] = chunk
		if _, ok := ds.docs[chunk.DocumentID]; !ok {
			ds.docs[chunk.DocumentID] = &models.Document{
				ID:       chunk.DocumentID,
				Filename: chunk.DocumentID + ".txt",
				FileType: models.FileTypeTxt,
				Status:   models.StatusCompleted,
			}
		}
	}
	return cs, ds
}

func chunk(id string, ordinal int) schema.Chunk {
	docID := strings.SplitN(id, ":", 2)[0]
	return schema.Chunk{ID: id, DocumentID: docID, Ordinal: ordinal, Text: "text of " + id}
}

func TestSearchFusesWithMinMaxAndWeights(t *testing.T) {
	idx := &fakeIndex{
		semantic: []schema.Hit{{ChunkID: "a:0", Score: 0.9}, {ChunkID: "b:1", Score: 0.5}, {ChunkID: "c:2", Score: 0.1}},
		keyword:  []schema.Hit{{ChunkID: "b:1", Score: 2.0}, {ChunkID: "d:3", Score: 1.0}},
	}
	cs, ds := storesFor(chunk("a:0", 0), chunk("b:1", 1), chunk("c:2", 2), chunk("d:3", 3))
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Degraded {
		t.Error("healthy halves must not report degraded")
	}
	if len(res.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res.Results))
	}

	// Normalized: semantic a=1, b=0.5, c=0; keyword b=1, d=0.
	// Fused at 0.5/0.5: b=0.75, a=0.5, c=0, d=0.
	gotOrder := []string{res.Results[0].Chunk.ID, res.Results[1].Chunk.ID}
	if gotOrder[0] != "b:1" || gotOrder[1] != "a:0" {
		t.Errorf("expected b then a, got %v", gotOrder)
	}
	if got := res.Results[0].Score; math.Abs(got-0.75) > 1e-9 {
		t.Errorf("fused score for b: got %v want 0.75", got)
	}

	// c and d tie on fused 0; c's raw semantic 0.1 beats d's 0.
	if res.Results[2].Chunk.ID != "c:2" || res.Results[3].Chunk.ID != "d:3" {
		t.Errorf("tie-break by raw semantic failed: %s, %s", res.Results[2].Chunk.ID, res.Results[3].Chunk.ID)
	}
}

func TestSearchSingleHalfOnlyChunkScoresZeroForOther(t *testing.T) {
	idx := &fakeIndex{
		semantic: []schema.Hit{{ChunkID: "a:0", Score: 0.8}},
		keyword:  nil,
	}
	cs, ds := storesFor(chunk("a:0", 0))
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	r := res.Results[0]
	if r.KeywordScore != 0 {
		t.Errorf("missing keyword half must score zero, got %v", r.KeywordScore)
	}
	if r.SemanticScore != 0.8 {
		t.Errorf("raw semantic score must be preserved, got %v", r.SemanticScore)
	}
}

func TestSearchDegradesWhenOneHalfFails(t *testing.T) {
	idx := &fakeIndex{
		keyword:     []schema.Hit{{ChunkID: "a:0", Score: 1.0}},
		semanticErr: errors.New("vector backend down"),
	}
	cs, ds := storesFor(chunk("a:0", 0))
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", nil, 5)
	if err != nil {
		t.Fatalf("one failing half must not fail the query: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded flag")
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected keyword-only result, got %d", len(res.Results))
	}
}

func TestSearchFailsWhenBothHalvesFail(t *testing.T) {
	idx := &fakeIndex{
		semanticErr: errors.New("vector down"),
		keywordErr:  errors.New("keyword down"),
	}
	cs, ds := storesFor()
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	if _, err := engine.Search(context.Background(), "query", nil, 5); err == nil {
		t.Fatal("both halves failing must fail the query")
	}
}

func TestSearchEmbeddingFailureDegradesToKeyword(t *testing.T) {
	idx := &fakeIndex{keyword: []schema.Hit{{ChunkID: "a:0", Score: 1.0}}}
	cs, ds := storesFor(chunk("a:0", 0))
	engine := NewEngine(&fakeEmbedder{err: errors.New("provider down")}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Degraded || len(res.Results) != 1 {
		t.Fatalf("expected degraded keyword-only result, got %+v", res)
	}
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	engine := NewEngine(&fakeEmbedder{}, &fakeIndex{}, &fakeChunkStore{}, &fakeDocStore{}, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "   ", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("blank query must return no results")
	}
}

func TestSearchResidualDropsNonMatchingDocuments(t *testing.T) {
	idx := &fakeIndex{
		semantic: []schema.Hit{{ChunkID: "a:0", Score: 0.9}, {ChunkID: "b:0", Score: 0.8}},
	}
	cs, ds := storesFor(chunk("a:0", 0), chunk("b:0", 0))
	ds.docs["b"].Language = "de"
	ds.docs["a"].Language = "en"
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", &models.FilterQuery{Languages: []string{"en"}}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Chunk.DocumentID != "a" {
		t.Fatalf("residual filter failed: %+v", res.Results)
	}
}

func TestSearchTieBreakByOrdinal(t *testing.T) {
	// Same fused and same raw semantic, earlier ordinal wins.
	idx := &fakeIndex{
		semantic: []schema.Hit{{ChunkID: "a:5", Score: 0.7}, {ChunkID: "a:2", Score: 0.7}},
	}
	cs, ds := storesFor(chunk("a:5", 5), chunk("a:2", 2))
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Results[0].Chunk.Ordinal != 2 {
		t.Errorf("expected lower ordinal first, got %d", res.Results[0].Chunk.Ordinal)
	}
}

func TestSearchCachesQueryEmbeddings(t *testing.T) {
	embedder := &fakeEmbedder{}
	idx := &fakeIndex{semantic: []schema.Hit{{ChunkID: "a:0", Score: 1}}}
	cs, ds := storesFor(chunk("a:0", 0))
	engine := NewEngine(embedder, idx, cs, ds, testConfig(), logger.New("search-test"))

	for i := 0; i < 3; i++ {
		if _, err := engine.Search(context.Background(), "same query", nil, 5); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	if embedder.calls != 1 {
		t.Errorf("expected 1 provider call for repeated query, got %d", embedder.calls)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	idx := &fakeIndex{
		semantic: []schema.Hit{
			{ChunkID: "a:0", Score: 0.9}, {ChunkID: "a:1", Score: 0.8}, {ChunkID: "a:2", Score: 0.7},
		},
	}
	cs, ds := storesFor(chunk("a:0", 0), chunk("a:1", 1), chunk("a:2", 2))
	engine := NewEngine(&fakeEmbedder{}, idx, cs, ds, testConfig(), logger.New("search-test"))

	res, err := engine.Search(context.Background(), "query", nil, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected topK=2 results, got %d", len(res.Results))
	}
}
