package chunkstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa/internal/rag/filters"
	"docqa/internal/rag/schema"
	"docqa/pkg/logger"
)

// chunkRecord is the Mongo document shape. Filterable document fields are
// denormalized so keyword queries need no join.
type chunkRecord struct {
	ID         string                 `bson:"_id"`
	DocumentID string                 `bson:"document_id"`
	Ordinal    int                    `bson:"ordinal"`
	Text       string                 `bson:"text"`
	Structural bool                   `bson:"structural"`
	PageLabel  string                 `bson:"page_label,omitempty"`
	FileType   string                 `bson:"file_type,omitempty"`
	GroupID    string                 `bson:"group_id,omitempty"`
	Metadata   map[string]interface{} `bson:"metadata,omitempty"`
}

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
	log        *logger.Logger
}

// NewMongoStore wraps the collection and ensures its indexes: a text index
// over chunk text for keyword search and a document_id index for the
// replace and fetch paths.
func NewMongoStore(ctx context.Context, db *mongo.Database, collectionName string, log *logger.Logger) (*MongoStore, error) {
	collection := db.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "text", Value: "text"}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure chunk indexes: %w", err)
	}
	return &MongoStore{collection: collection, log: log}, nil
}

func (s *MongoStore) ReplaceForDocument(ctx context.Context, documentID string, chunks []schema.Chunk) error {
	if err := s.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	records := make([]interface{}, len(chunks))
	for i, chunk := range chunks {
		records[i] = toRecord(chunk)
	}
	if _, err := s.collection.InsertMany(ctx, records); err != nil {
		return fmt.Errorf("insert %d chunks for document %s: %w", len(chunks), documentID, err)
	}
	s.log.WithDocument(documentID).Debug(fmt.Sprintf("replaced chunk set with %d chunks", len(chunks)))
	return nil
}

func (s *MongoStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

func (s *MongoStore) GetByIDs(ctx context.Context, chunkIDs []string) ([]schema.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": chunkIDs}})
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	return decodeChunks(ctx, cursor)
}

func (s *MongoStore) GetByDocument(ctx context.Context, documentID string) ([]schema.Chunk, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("get chunks for document %s: %w", documentID, err)
	}
	return decodeChunks(ctx, cursor)
}

// KeywordQuery runs a $text search, merges in the pushdown constraints and
// returns hits ordered by text score.
func (s *MongoStore) KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	if filter.MatchNone {
		return nil, nil
	}

	match := bson.M{"$text": bson.M{"$search": text}}
	for field, cond := range filter.Keyword {
		match[field] = cond
	}

	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(int64(topK))

	cursor, err := s.collection.Find(ctx, match, opts)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []schema.Hit
	for cursor.Next(ctx) {
		var scored struct {
			ID    string  `bson:"_id"`
			Score float64 `bson:"score"`
		}
		if err := cursor.Decode(&scored); err != nil {
			return nil, fmt.Errorf("decode keyword hit: %w", err)
		}
		hits = append(hits, schema.Hit{ChunkID: scored.ID, Score: scored.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("keyword cursor: %w", err)
	}
	return hits, nil
}

func toRecord(chunk schema.Chunk) chunkRecord {
	record := chunkRecord{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		Ordinal:    chunk.Ordinal,
		Text:       chunk.Text,
		Structural: chunk.Structural,
		PageLabel:  chunk.PageLabel,
		Metadata:   chunk.Metadata,
	}
	if v, ok := chunk.Metadata[filters.FieldFileType].(string); ok {
		record.FileType = v
	}
	if v, ok := chunk.Metadata[filters.FieldGroupID].(string); ok {
		record.GroupID = v
	}
	return record
}

func fromRecord(record chunkRecord) schema.Chunk {
	return schema.Chunk{
		ID:         record.ID,
		DocumentID: record.DocumentID,
		Ordinal:    record.Ordinal,
		Text:       record.Text,
		Structural: record.Structural,
		PageLabel:  record.PageLabel,
		Metadata:   record.Metadata,
	}
}

func decodeChunks(ctx context.Context, cursor *mongo.Cursor) ([]schema.Chunk, error) {
	defer cursor.Close(ctx)
	var chunks []schema.Chunk
	for cursor.Next(ctx) {
		var record chunkRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		chunks = append(chunks, fromRecord(record))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("chunk cursor: %w", err)
	}
	return chunks, nil
}

var _ Store = (*MongoStore)(nil)
