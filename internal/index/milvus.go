package index

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
	"docqa/pkg/logger"
)

// Collection field names. The keyword backend denormalizes the same
// filterable fields so one pushdown serves both halves.
const (
	fieldID         = "id"
	fieldDocumentID = "document_id"
	fieldFileType   = "file_type"
	fieldGroupID    = "group_id"
	fieldEmbedding  = "embedding"
)

// MilvusIndex implements VectorIndex on a Milvus collection. Chunk ids are
// the primary key, so re-upserting a document's chunks after a delete is
// idempotent.
type MilvusIndex struct {
	client     client.Client
	collection string
	dim        int
	log        *logger.Logger
}

// NewMilvusIndex wraps an established Milvus connection. The collection is
// created and loaded on first use if it does not exist.
func NewMilvusIndex(ctx context.Context, c client.Client, collection string, dim int, log *logger.Logger) (*MilvusIndex, error) {
	if c == nil {
		return nil, fmt.Errorf("milvus client is not initialized")
	}
	idx := &MilvusIndex{client: c, collection: collection, dim: dim, log: log}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", m.collection, err)
	}
	if !exists {
		collSchema := entity.NewSchema().
			WithName(m.collection).
			WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldDocumentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldFileType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
			WithField(entity.NewField().WithName(fieldGroupID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.dim)))
		if err := m.client.CreateCollection(ctx, collSchema, 1); err != nil {
			return fmt.Errorf("create collection %q: %w", m.collection, err)
		}
		vectorIdx, err := entity.NewIndexIvfFlat(entity.IP, 128)
		if err != nil {
			return fmt.Errorf("build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, fieldEmbedding, vectorIdx, false); err != nil {
			return fmt.Errorf("create vector index: %w", err)
		}
		m.log.Info(fmt.Sprintf("created milvus collection %q (dim=%d)", m.collection, m.dim))
	}
	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("load collection %q: %w", m.collection, err)
	}
	return nil
}

// Upsert inserts chunk vectors as columns. Chunks without an embedding are
// skipped; the embedding coordinator reports those separately.
func (m *MilvusIndex) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	var ids, docIDs, fileTypes, groupIDs []string
	var embeddings [][]float32

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		ids = append(ids, chunk.ID)
		docIDs = append(docIDs, chunk.DocumentID)
		fileTypes = append(fileTypes, metaString(chunk.Metadata, filters.FieldFileType))
		groupIDs = append(groupIDs, metaString(chunk.Metadata, filters.FieldGroupID))
		embeddings = append(embeddings, chunk.Embedding)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := m.client.Insert(ctx, m.collection, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldDocumentID, docIDs),
		entity.NewColumnVarChar(fieldFileType, fileTypes),
		entity.NewColumnVarChar(fieldGroupID, groupIDs),
		entity.NewColumnFloatVector(fieldEmbedding, m.dim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("insert %d vectors: %w", len(ids), err)
	}
	m.log.Debug(fmt.Sprintf("inserted %d vectors into %q", len(ids), m.collection))
	return nil
}

// DeleteByDocument drops every vector owned by the document.
func (m *MilvusIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf("%s == %q", fieldDocumentID, documentID)
	if err := m.client.Delete(ctx, m.collection, "", expr); err != nil {
		return fmt.Errorf("delete vectors for document %s: %w", documentID, err)
	}
	return nil
}

// Query searches the collection and returns hits best first. Scores are
// inner-product similarities; callers normalize before fusing.
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(10)

	results, err := m.client.Search(
		ctx, m.collection, []string{}, filter.VectorExpr, []string{fieldID},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding, entity.IP, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var hits []schema.Hit
	for _, res := range results {
		var idCol *entity.ColumnVarChar
		for _, field := range res.Fields {
			if field.Name() == fieldID {
				idCol, _ = field.(*entity.ColumnVarChar)
			}
		}
		if idCol == nil {
			m.log.Warn("search result missing id column, skipping")
			continue
		}
		idData := idCol.Data()
		for i := 0; i < res.ResultCount; i++ {
			hits = append(hits, schema.Hit{ChunkID: idData[i], Score: float64(res.Scores[i])})
		}
	}
	return hits, nil
}

func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

var _ VectorIndex = (*MilvusIndex)(nil)
