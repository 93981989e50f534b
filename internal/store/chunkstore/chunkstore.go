// Package chunkstore persists chunk text and metadata. The backing Mongo
// collection carries a full-text index, so the store doubles as the keyword
// half of the hybrid index.
package chunkstore

import (
	"context"

	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
)

// Store is the chunk persistence contract. Chunk sets are replaced
// wholesale per document; there is no per-chunk update.
type Store interface {
	// ReplaceForDocument atomically swaps the document's chunk set: the old
	// chunks are removed and the new ones inserted. Callers hold the
	// per-document processing lock around this.
	ReplaceForDocument(ctx context.Context, documentID string, chunks []schema.Chunk) error

	// DeleteByDocument removes every chunk of the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// GetByIDs hydrates chunk ids into full chunks. Missing ids are
	// silently skipped.
	GetByIDs(ctx context.Context, chunkIDs []string) ([]schema.Chunk, error)

	// GetByDocument returns the document's chunks in ordinal order.
	GetByDocument(ctx context.Context, documentID string) ([]schema.Chunk, error)

	// KeywordQuery is the lexical half of hybrid retrieval.
	KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error)
}
