package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqa/internal/embedding"
	"docqa/internal/rag/ragerr"
	"docqa/pkg/logger"
	"docqa/pkg/ratelimiter"
)

// Config tunes the embedding coordinator.
type Config struct {
	// MaxBatchSize caps how many texts go into one provider request.
	// Oversized inputs are split and submitted sequentially.
	MaxBatchSize int
	// MaxAttempts is the ceiling for transient-failure retries, the first
	// attempt included.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

// FailedItem records one input the coordinator could not embed.
type FailedItem struct {
	Index  int
	Reason error
}

// BatchResult is the partial-success outcome of EmbedBatch. Vectors is
// aligned with the input; failed positions are nil.
type BatchResult struct {
	Vectors [][]float32
	Failed  []FailedItem
}

// SucceededCount returns how many inputs embedded successfully.
func (r *BatchResult) SucceededCount() int {
	return len(r.Vectors) - len(r.Failed)
}

// Coordinator turns chunk or query texts into vectors. It owns batching,
// rate limiting, transient-failure retries and per-item failure isolation.
// It keeps no state between calls.
type Coordinator struct {
	provider embedding.Embedding
	limiter  ratelimiter.RateLimiter
	cfg      Config
	log      *logger.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New creates a Coordinator. The limiter may be nil when the provider is
// not metered.
func New(provider embedding.Embedding, limiter ratelimiter.RateLimiter, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	return &Coordinator{
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		log:      log,
		sleep:    time.Sleep,
	}
}

// EmbedQuery embeds a single query text, retrying transient failures.
func (c *Coordinator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := c.withRetry(ctx, func() error {
		var embedErr error
		vector, embedErr = c.provider.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vector, nil
}

// EmbedBatch embeds a batch of chunk texts. Inputs beyond MaxBatchSize are
// split into sequential sub-batches. A failing sub-batch falls back to
// per-item embedding so one bad input cannot sink its neighbours; the
// result reports which items failed and why.
func (c *Coordinator) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	result := &BatchResult{Vectors: make([][]float32, len(texts))}

	for start := 0; start < len(texts); start += c.cfg.MaxBatchSize {
		end := min(start+c.cfg.MaxBatchSize, len(texts))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.embedSubBatch(ctx, texts[start:end], start, result)
	}

	return result, nil
}

func (c *Coordinator) embedSubBatch(ctx context.Context, texts []string, offset int, result *BatchResult) {
	var vectors [][]float32
	err := c.withRetry(ctx, func() error {
		var embedErr error
		vectors, embedErr = c.provider.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err == nil {
		copy(result.Vectors[offset:], vectors)
		return
	}

	c.log.WithError(err).Warn("batch embedding failed, isolating items individually")

	// Per-item fallback: one malformed input must not discard the batch.
	for i, text := range texts {
		var vector []float32
		itemErr := c.withRetry(ctx, func() error {
			var embedErr error
			vector, embedErr = c.provider.Embed(ctx, text)
			return embedErr
		})
		if itemErr != nil {
			result.Failed = append(result.Failed, FailedItem{Index: offset + i, Reason: itemErr})
			continue
		}
		result.Vectors[offset+i] = vector
	}
}

// withRetry runs fn, retrying transient failures with exponential backoff
// up to the attempt ceiling. Permanent failures return immediately.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	backoff := c.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.waitForSlot(ctx); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ragerr.ErrEmbeddingPermanent) {
			return lastErr
		}
		if !ragerr.Transient(lastErr) && !errors.Is(lastErr, context.DeadlineExceeded) {
			// Unclassified errors are retried like transient ones; the
			// attempt ceiling still bounds them.
			c.log.WithError(lastErr).Debug("retrying unclassified embedding error")
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.sleep(backoff)
		backoff *= 2
	}

	return fmt.Errorf("attempts exhausted: %w", lastErr)
}

// waitForSlot blocks until the rate limiter admits one provider call.
func (c *Coordinator) waitForSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for !c.limiter.Allow() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.sleep(10 * time.Millisecond)
	}
	return nil
}
