package chunkstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
)

// MemoryStore is an in-process Store for tests and single-node runs. Its
// keyword scoring is a simple normalized term frequency, which preserves
// the ordering properties the search engine relies on.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]schema.Chunk
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]schema.Chunk)}
}

func (s *MemoryStore) ReplaceForDocument(ctx context.Context, documentID string, chunks []schema.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	for _, chunk := range chunks {
		s.chunks[chunk.ID] = chunk
	}
	return nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.ReplaceForDocument(ctx, documentID, nil)
}

func (s *MemoryStore) GetByIDs(ctx context.Context, chunkIDs []string) ([]schema.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.Chunk
	for _, id := range chunkIDs {
		if chunk, ok := s.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetByDocument(ctx context.Context, documentID string) ([]schema.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStore) KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	if filter.MatchNone {
		return nil, nil
	}
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []schema.Hit
	for _, chunk := range s.chunks {
		if !admits(chunk, filter) {
			continue
		}
		score := termFrequency(terms, chunk.Text)
		if score > 0 {
			hits = append(hits, schema.Hit{ChunkID: chunk.ID, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func admits(chunk schema.Chunk, filter filters.Pushdown) bool {
	for field, cond := range filter.Keyword {
		clause, ok := cond.(bson.M)
		if !ok {
			continue
		}
		values, _ := clause["$in"].([]string)
		var actual string
		switch field {
		case filters.FieldDocumentID:
			actual = chunk.DocumentID
		case filters.FieldFileType:
			actual, _ = chunk.Metadata[filters.FieldFileType].(string)
		case filters.FieldGroupID:
			actual, _ = chunk.Metadata[filters.FieldGroupID].(string)
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

func termFrequency(terms []string, text string) float64 {
	words := strings.Fields(strings.ToLower(text))
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

var _ Store = (*MemoryStore)(nil)
