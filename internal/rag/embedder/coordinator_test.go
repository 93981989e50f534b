package embedder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"docqa/internal/rag/ragerr"
	"docqa/pkg/logger"
)

// fakeProvider scripts per-call behavior for the coordinator tests.
type fakeProvider struct {
	batchCalls  int
	singleCalls int

	// batchFail makes the first n EmbedBatch calls fail with err.
	batchFailCount int
	batchErr       error

	// singleFailTexts maps a text to the error its Embed call returns.
	singleFailTexts map[string]error
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.singleCalls++
	if err, ok := f.singleFailTexts[text]; ok {
		return nil, err
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.batchCalls <= f.batchFailCount {
		return nil, f.batchErr
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text))}
	}
	return vectors, nil
}

func newTestCoordinator(provider *fakeProvider, cfg Config) *Coordinator {
	c := New(provider, nil, cfg, logger.New("embedder-test"))
	c.sleep = func(time.Duration) {}
	return c
}

func TestEmbedBatchAligned(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestCoordinator(provider, Config{MaxBatchSize: 10})

	texts := []string{"a", "bb", "ccc"}
	result, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(result.Vectors) != 3 || len(result.Failed) != 0 {
		t.Fatalf("got %d vectors, %d failed", len(result.Vectors), len(result.Failed))
	}
	for i, text := range texts {
		if result.Vectors[i][0] != float32(len(text)) {
			t.Errorf("vector %d misaligned: got %v", i, result.Vectors[i])
		}
	}
}

func TestEmbedBatchSplitsOversizedInput(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestCoordinator(provider, Config{MaxBatchSize: 2})

	texts := []string{"a", "b", "c", "d", "e"}
	result, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if provider.batchCalls != 3 {
		t.Errorf("expected 3 sub-batches, provider saw %d", provider.batchCalls)
	}
	if result.SucceededCount() != 5 {
		t.Errorf("expected 5 succeeded, got %d", result.SucceededCount())
	}
}

func TestEmbedBatchRetriesTransient(t *testing.T) {
	provider := &fakeProvider{
		batchFailCount: 2,
		batchErr:       fmt.Errorf("rate limited: %w", ragerr.ErrEmbeddingTransient),
	}
	c := newTestCoordinator(provider, Config{MaxBatchSize: 10, MaxAttempts: 3})

	result, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if provider.batchCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.batchCalls)
	}
	if len(result.Failed) != 0 {
		t.Errorf("expected no failures after retry, got %v", result.Failed)
	}
}

func TestEmbedBatchIsolatesPermanentFailure(t *testing.T) {
	provider := &fakeProvider{
		batchFailCount: 1,
		batchErr:       fmt.Errorf("bad input: %w", ragerr.ErrEmbeddingPermanent),
		singleFailTexts: map[string]error{
			"poison": fmt.Errorf("bad input: %w", ragerr.ErrEmbeddingPermanent),
		},
	}
	c := newTestCoordinator(provider, Config{MaxBatchSize: 10, MaxAttempts: 3})

	texts := []string{"good", "poison", "fine"}
	result, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(result.Failed))
	}
	failed := result.Failed[0]
	if failed.Index != 1 {
		t.Errorf("expected index 1 failed, got %d", failed.Index)
	}
	if !errors.Is(failed.Reason, ragerr.ErrEmbeddingPermanent) {
		t.Errorf("expected permanent reason, got %v", failed.Reason)
	}
	if result.Vectors[0] == nil || result.Vectors[2] == nil {
		t.Error("healthy neighbours should still embed")
	}
	if result.Vectors[1] != nil {
		t.Error("failed position must stay nil")
	}
}

func TestEmbedBatchPermanentBatchNoRetry(t *testing.T) {
	provider := &fakeProvider{
		batchFailCount: 10,
		batchErr:       fmt.Errorf("bad batch: %w", ragerr.ErrEmbeddingPermanent),
	}
	c := newTestCoordinator(provider, Config{MaxBatchSize: 10, MaxAttempts: 3})

	if _, err := c.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	// Permanent batch error: one batch attempt, then straight to items.
	if provider.batchCalls != 1 {
		t.Errorf("permanent error must not be retried, got %d batch calls", provider.batchCalls)
	}
}

func TestEmbedQueryExhaustsAttempts(t *testing.T) {
	provider := &fakeProvider{
		singleFailTexts: map[string]error{
			"q": fmt.Errorf("timeout: %w", ragerr.ErrEmbeddingTransient),
		},
	}
	c := newTestCoordinator(provider, Config{MaxAttempts: 3})

	_, err := c.EmbedQuery(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if !errors.Is(err, ragerr.ErrEmbeddingTransient) {
		t.Errorf("expected transient kind to survive wrapping, got %v", err)
	}
	if provider.singleCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.singleCalls)
	}
}

func TestEmbedBatchHonorsContextCancel(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestCoordinator(provider, Config{MaxBatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.EmbedBatch(ctx, []string{"a", "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
