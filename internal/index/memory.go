package index

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
)

// MemoryIndex is an in-process VectorIndex and KeywordIndex. It backs tests
// and single-node development runs where fidelity matters more than scale:
// exact cosine similarity and a term-frequency keyword score over the full
// chunk set.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string]schema.Chunk
}

// NewMemoryIndex returns an empty in-process index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string]schema.Chunk)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		m.chunks[chunk.ID] = chunk
	}
	return nil
}

func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, chunk := range m.chunks {
		if chunk.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []schema.Hit
	for _, chunk := range m.chunks {
		if !m.admits(chunk, filter) {
			continue
		}
		hits = append(hits, schema.Hit{ChunkID: chunk.ID, Score: cosine(vector, chunk.Embedding)})
	}
	return topHits(hits, topK), nil
}

func (m *MemoryIndex) KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terms := tokenize(text)
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []schema.Hit
	for _, chunk := range m.chunks {
		if !m.admits(chunk, filter) {
			continue
		}
		score := termFrequency(terms, chunk.Text)
		if score > 0 {
			hits = append(hits, schema.Hit{ChunkID: chunk.ID, Score: score})
		}
	}
	return topHits(hits, topK), nil
}

// admits evaluates the keyword-half pushdown against a chunk's denormalized
// fields. The memory index understands exactly the filter shapes Compile
// produces: field -> {$in: [...]}.
func (m *MemoryIndex) admits(chunk schema.Chunk, filter filters.Pushdown) bool {
	if filter.MatchNone {
		return false
	}
	for field, cond := range filter.Keyword {
		values := inValues(cond)
		var actual string
		switch field {
		case filters.FieldDocumentID:
			actual = chunk.DocumentID
		case filters.FieldFileType:
			actual = metaString(chunk.Metadata, filters.FieldFileType)
		case filters.FieldGroupID:
			actual = metaString(chunk.Metadata, filters.FieldGroupID)
		default:
			continue
		}
		found := false
		for _, v := range values {
			if v == actual {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func inValues(cond interface{}) []string {
	clause, ok := cond.(bson.M)
	if !ok {
		return nil
	}
	switch raw := clause["$in"].(type) {
	case []string:
		return raw
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// termFrequency counts query term occurrences, normalized by chunk length
// so shorter chunks with the same matches rank higher.
func termFrequency(terms []string, text string) float64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}
	count := 0
	for _, word := range words {
		trimmed := strings.Trim(word, ".,;:!?\"'()[]")
		for _, term := range terms {
			if trimmed == term {
				count++
				break
			}
		}
	}
	return float64(count) / float64(len(words))
}

func topHits(hits []schema.Hit, topK int) []schema.Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

var (
	_ VectorIndex  = (*MemoryIndex)(nil)
	_ KeywordIndex = (*MemoryIndex)(nil)
)
