// Package search implements hybrid retrieval: the semantic and keyword
// halves run in parallel, their scores are normalized into a common range
// and fused with configurable weights. One failing half degrades the query
// instead of failing it.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
	"docqa/pkg/logger"
	"docqa/pkg/util"
)

// Embedder turns the query text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is the slice of the composite index client the engine needs.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int, filter filters.Pushdown) ([]schema.Hit, error)
	KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error)
}

// ChunkStore hydrates hit ids into full chunks.
type ChunkStore interface {
	GetByIDs(ctx context.Context, chunkIDs []string) ([]schema.Chunk, error)
}

// DocStore resolves document records for residual filtering.
type DocStore interface {
	GetByIDs(ctx context.Context, documentIDs []string) (map[string]*models.Document, error)
}

// Engine runs hybrid queries. Stateless apart from the query-embedding
// cache, so one instance serves all callers.
type Engine struct {
	embedder Embedder
	index    Index
	chunks   ChunkStore
	docs     DocStore
	cfg      config.SearchConfig
	log      *logger.Logger

	// embedCache memoizes query embeddings; repeated queries skip the
	// provider round trip. Nil when disabled.
	embedCache *util.LRUCache[string, []float32]
	// flight collapses concurrent identical queries into one provider call.
	flight singleflight.Group
}

// NewEngine wires the hybrid engine.
func NewEngine(embedder Embedder, index Index, chunks ChunkStore, docs DocStore, cfg config.SearchConfig, log *logger.Logger) *Engine {
	var cache *util.LRUCache[string, []float32]
	if cfg.CacheSize > 0 {
		cache, _ = util.NewLRU[string, []float32](util.CacheConfig{Capacity: cfg.CacheSize})
	}
	return &Engine{
		embedder:   embedder,
		index:      index,
		chunks:     chunks,
		docs:       docs,
		cfg:        cfg,
		log:        log,
		embedCache: cache,
	}
}

// Result is the output of one hybrid query.
type Result struct {
	Results []schema.SearchResult
	// Degraded is set when one retrieval half failed and the other served
	// the query alone.
	Degraded bool
}

// Search runs a hybrid query. topK <= 0 falls back to the configured
// default. The filter may be nil.
func (e *Engine) Search(ctx context.Context, query string, filter *models.FilterQuery, topK int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{}, nil
	}
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	pd, residual := filters.Compile(filter)
	if pd.MatchNone {
		e.log.Debug("filter matches no documents, returning empty result")
		return &Result{}, nil
	}

	// The candidate pool is wider than topK so residual filtering and
	// fusion still leave enough survivors.
	pool := e.cfg.PoolFactor * topK

	semantic, keyword, degraded, err := e.retrieveHalves(ctx, query, pd, pool)
	if err != nil {
		return nil, err
	}

	fused := fuse(semantic, keyword, e.cfg.SemanticWeight, e.cfg.KeywordWeight)
	if len(fused) == 0 {
		return &Result{Degraded: degraded}, nil
	}

	results, err := e.hydrate(ctx, fused, residual)
	if err != nil {
		return nil, err
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return &Result{Results: results, Degraded: degraded}, nil
}

// retrieveHalves runs both index halves in parallel. One failing half
// degrades the query; both failing fails it.
func (e *Engine) retrieveHalves(ctx context.Context, query string, pd filters.Pushdown, pool int) (semantic, keyword []schema.Hit, degraded bool, err error) {
	var semanticErr, keywordErr error

	vector, embedErr := e.embedQuery(ctx, query)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if embedErr != nil {
			semanticErr = fmt.Errorf("query embedding: %w", embedErr)
			return
		}
		semantic, semanticErr = e.index.Query(ctx, vector, pool, pd)
	}()

	go func() {
		defer wg.Done()
		keyword, keywordErr = e.index.KeywordQuery(ctx, query, pool, pd)
	}()

	wg.Wait()

	if semanticErr != nil && keywordErr != nil {
		return nil, nil, false, fmt.Errorf("both retrieval halves failed: semantic=%w, keyword=%w", semanticErr, keywordErr)
	}
	if semanticErr != nil {
		e.log.WithError(semanticErr).Warn("semantic half failed, serving keyword results only")
		return nil, keyword, true, nil
	}
	if keywordErr != nil {
		e.log.WithError(keywordErr).Warn("keyword half failed, serving semantic results only")
		return semantic, nil, true, nil
	}
	return semantic, keyword, false, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.embedCache != nil {
		if vector, ok := e.embedCache.Get(query); ok {
			return vector, nil
		}
	}
	v, err, _ := e.flight.Do(query, func() (interface{}, error) {
		vector, err := e.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		if e.embedCache != nil {
			e.embedCache.Put(query, vector, 1)
		}
		return vector, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// fusedHit carries the per-half scores through fusion.
type fusedHit struct {
	chunkID  string
	fused    float64
	semantic float64 // raw semantic score, tie-break key
	keyword  float64
}

// fuse normalizes each hit list to [0,1] with min-max scaling and combines
// them as a weighted sum. A chunk present in only one list contributes zero
// for the missing half.
func fuse(semantic, keyword []schema.Hit, wSem, wKw float64) []fusedHit {
	semNorm := normalize(semantic)
	kwNorm := normalize(keyword)

	merged := make(map[string]*fusedHit)
	for _, hit := range semantic {
		merged[hit.ChunkID] = &fusedHit{chunkID: hit.ChunkID, semantic: hit.Score}
	}
	for _, hit := range keyword {
		if fh, ok := merged[hit.ChunkID]; ok {
			fh.keyword = hit.Score
		} else {
			merged[hit.ChunkID] = &fusedHit{chunkID: hit.ChunkID, keyword: hit.Score}
		}
	}

	out := make([]fusedHit, 0, len(merged))
	for id, fh := range merged {
		fh.fused = wSem*semNorm[id] + wKw*kwNorm[id]
		out = append(out, *fh)
	}
	return out
}

// normalize min-max scales a hit list into [0,1]. A single-element list, or
// one where all scores are equal, maps to 1.0 so the half still
// contributes.
func normalize(hits []schema.Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < lo {
			lo = hit.Score
		}
		if hit.Score > hi {
			hi = hit.Score
		}
	}
	span := hi - lo
	for _, hit := range hits {
		if span == 0 {
			out[hit.ChunkID] = 1.0
		} else {
			out[hit.ChunkID] = (hit.Score - lo) / span
		}
	}
	return out
}

// hydrate loads chunk bodies and document records, applies the residual
// predicate and builds SearchResults.
func (e *Engine) hydrate(ctx context.Context, fused []fusedHit, residual filters.Residual) ([]schema.SearchResult, error) {
	ids := make([]string, len(fused))
	for i, fh := range fused {
		ids[i] = fh.chunkID
	}
	chunks, err := e.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}

	byID := make(map[string]schema.Chunk, len(chunks))
	docIDs := make(map[string]struct{})
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
		docIDs[chunk.DocumentID] = struct{}{}
	}

	docs, err := e.docs.GetByIDs(ctx, keys(docIDs))
	if err != nil {
		return nil, fmt.Errorf("hydrate documents: %w", err)
	}

	var results []schema.SearchResult
	for _, fh := range fused {
		chunk, ok := byID[fh.chunkID]
		if !ok {
			// Index and chunk store drifted, likely mid-reprocess. Skip.
			e.log.WithField("chunk_id", fh.chunkID).Debug("hit without stored chunk, skipping")
			continue
		}
		if !residual(docs[chunk.DocumentID]) {
			continue
		}
		results = append(results, schema.SearchResult{
			Chunk:         chunk,
			Score:         fh.fused,
			SemanticScore: fh.semantic,
			KeywordScore:  fh.keyword,
		})
	}
	return results, nil
}

// sortResults orders by fused score, breaking ties by higher raw semantic
// score, then by lower ordinal so earlier document positions win.
func sortResults(results []schema.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].SemanticScore != results[j].SemanticScore {
			return results[i].SemanticScore > results[j].SemanticScore
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
