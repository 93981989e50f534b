// Package index abstracts the two retrieval backends: a vector index for
// semantic similarity and a keyword index for lexical matching. The
// composite Client fronts both with circuit breakers so a sick backend
// degrades queries instead of hanging them.
package index

import (
	"context"
	"errors"
	"fmt"

	"docqa/internal/rag/filters"
	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
	"docqa/pkg/circuitbreaker"
	"docqa/pkg/logger"
)

// VectorIndex stores chunk embeddings and answers nearest-neighbour
// queries. Implementations must apply the pushdown's vector expression.
type VectorIndex interface {
	// Upsert writes chunks with their embeddings. Chunks without an
	// embedding are skipped.
	Upsert(ctx context.Context, chunks []schema.Chunk) error

	// DeleteByDocument removes every vector belonging to the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Query returns the topK nearest chunks by similarity, best first.
	Query(ctx context.Context, vector []float32, topK int, filter filters.Pushdown) ([]schema.Hit, error)
}

// KeywordIndex answers lexical queries over chunk text.
type KeywordIndex interface {
	// KeywordQuery returns the topK best lexical matches, best first.
	KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error)
}

// Client is the composite the search engine and the ingestion orchestrator
// talk to. Write failures and breaker rejections surface as
// ragerr.ErrIndexUnavailable so callers can decide between retrying and
// degrading.
type Client struct {
	vector  VectorIndex
	keyword KeywordIndex

	vectorBreaker  circuitbreaker.CircuitBreaker
	keywordBreaker circuitbreaker.CircuitBreaker
	log            *logger.Logger
}

// NewClient assembles the composite over concrete backends.
func NewClient(vector VectorIndex, keyword KeywordIndex, vb, kb circuitbreaker.CircuitBreaker, log *logger.Logger) *Client {
	return &Client{
		vector:         vector,
		keyword:        keyword,
		vectorBreaker:  vb,
		keywordBreaker: kb,
		log:            log,
	}
}

// Upsert writes chunks into the vector index through its breaker.
func (c *Client) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	_, err := c.vectorBreaker.Execute(func() (interface{}, error) {
		return nil, c.vector.Upsert(ctx, chunks)
	})
	return c.indexErr("upsert", err)
}

// DeleteByDocument removes the document's vectors through the breaker.
func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := c.vectorBreaker.Execute(func() (interface{}, error) {
		return nil, c.vector.DeleteByDocument(ctx, documentID)
	})
	return c.indexErr("delete", err)
}

// Query runs the semantic half of a hybrid query.
func (c *Client) Query(ctx context.Context, vector []float32, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	if filter.MatchNone {
		return nil, nil
	}
	res, err := c.vectorBreaker.Execute(func() (interface{}, error) {
		return c.vector.Query(ctx, vector, topK, filter)
	})
	if err != nil {
		return nil, c.indexErr("vector query", err)
	}
	return res.([]schema.Hit), nil
}

// KeywordQuery runs the lexical half of a hybrid query.
func (c *Client) KeywordQuery(ctx context.Context, text string, topK int, filter filters.Pushdown) ([]schema.Hit, error) {
	if filter.MatchNone {
		return nil, nil
	}
	res, err := c.keywordBreaker.Execute(func() (interface{}, error) {
		return c.keyword.KeywordQuery(ctx, text, topK, filter)
	})
	if err != nil {
		return nil, c.indexErr("keyword query", err)
	}
	return res.([]schema.Hit), nil
}

func (c *Client) indexErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.log.Warn(op + " rejected, circuit open")
	}
	return fmt.Errorf("%s: %w: %w", op, ragerr.ErrIndexUnavailable, err)
}
