package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gorm.io/datatypes"

	"docqa/internal/config"
	"docqa/internal/extract"
	"docqa/internal/models"
	"docqa/internal/rag/chunker"
	"docqa/internal/rag/embedder"
	"docqa/internal/rag/filters"
	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
	"docqa/internal/store/chunkstore"
	"docqa/internal/store/metastore"
	"docqa/pkg/logger"
)

// Indexer is the slice of the index client the orchestrator writes through.
type Indexer interface {
	Upsert(ctx context.Context, chunks []schema.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Orchestrator runs the ingestion pipeline for one document at a time:
// fetch, extract, chunk, embed, index, commit. Each pass replaces the
// document's chunk set wholesale under a per-document lock.
type Orchestrator struct {
	meta      metastore.Store
	chunks    chunkstore.Store
	index     Indexer
	objects   ObjectStore
	extractor *extract.Registry
	chunker   *chunker.Engine
	embedder  *embedder.Coordinator
	locker    Locker
	cfg       config.IngestConfig
	log       *logger.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

func NewOrchestrator(
	meta metastore.Store,
	chunks chunkstore.Store,
	index Indexer,
	objects ObjectStore,
	extractor *extract.Registry,
	ch *chunker.Engine,
	emb *embedder.Coordinator,
	locker Locker,
	cfg config.IngestConfig,
	log *logger.Logger,
) *Orchestrator {
	if cfg.IndexAttempts <= 0 {
		cfg.IndexAttempts = 1
	}
	return &Orchestrator{
		meta:      meta,
		chunks:    chunks,
		index:     index,
		objects:   objects,
		extractor: extractor,
		chunker:   ch,
		embedder:  emb,
		locker:    locker,
		cfg:       cfg,
		log:       log,
		sleep:     time.Sleep,
	}
}

func lockKey(documentID string) string {
	return "ingest:lock:" + documentID
}

// Process runs one ingestion pass. A document already being processed
// returns ragerr.ErrAlreadyProcessing. A failed pass over a previously
// completed document keeps the old chunks searchable and records the
// failure on the record.
func (o *Orchestrator) Process(ctx context.Context, documentID string) error {
	doc, err := o.meta.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	token, ok, err := o.locker.Acquire(ctx, lockKey(documentID), o.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire processing lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, ragerr.ErrAlreadyProcessing)
	}
	defer func() {
		if releaseErr := o.locker.Release(context.Background(), lockKey(documentID), token); releaseErr != nil {
			o.log.WithDocument(documentID).WithError(releaseErr).Warn("failed to release processing lock")
		}
	}()

	// prevStatus decides failure semantics: a document that was already
	// searchable stays searchable on its old chunks when a reprocess fails.
	prevStatus := doc.Status
	log := o.log.WithDocument(documentID)

	if err := o.meta.UpdateStatus(ctx, documentID, models.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	data, err := o.fetchSource(ctx, doc.ObjectKey)
	if err != nil {
		return o.fail(ctx, documentID, prevStatus, fmt.Errorf("fetch source: %w", err))
	}

	content, err := o.extractor.Extract(ctx, doc.FileType, data)
	if err != nil {
		return o.fail(ctx, documentID, prevStatus, err)
	}

	chunks := o.chunker.Chunk(*content, documentID)
	o.attachMetadata(chunks, doc)

	kept, dropped, err := o.embedChunks(ctx, chunks)
	if err != nil {
		return o.fail(ctx, documentID, prevStatus, err)
	}

	if err := o.replaceIndexed(ctx, documentID, kept); err != nil {
		return o.fail(ctx, documentID, prevStatus, err)
	}
	if err := o.chunks.ReplaceForDocument(ctx, documentID, kept); err != nil {
		return o.fail(ctx, documentID, prevStatus, fmt.Errorf("store chunks: %w", err))
	}

	status := models.StatusCompleted
	if len(dropped) > 0 {
		status = models.StatusCompletedWithWarnings
	}
	if err := o.commit(ctx, documentID, content, kept, dropped, status); err != nil {
		return o.fail(ctx, documentID, prevStatus, fmt.Errorf("commit document: %w", err))
	}

	log.WithField("chunks", len(kept)).WithField("dropped", len(dropped)).
		WithField("status", string(status)).Info("ingestion pass finished")
	return nil
}

// Remove deletes a document everywhere: index, chunk store, object storage
// and the metadata record. It takes the processing lock so a concurrent
// pass cannot resurrect chunks.
func (o *Orchestrator) Remove(ctx context.Context, documentID string) error {
	doc, err := o.meta.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	token, ok, err := o.locker.Acquire(ctx, lockKey(documentID), o.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire processing lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, ragerr.ErrAlreadyProcessing)
	}
	defer func() {
		_ = o.locker.Release(context.Background(), lockKey(documentID), token)
	}()

	if err := o.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("remove from index: %w", err)
	}
	if err := o.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("remove chunks: %w", err)
	}
	if doc.ObjectKey != "" {
		if err := o.objects.Delete(ctx, doc.ObjectKey); err != nil {
			o.log.WithDocument(documentID).WithError(err).Warn("failed to remove stored object")
		}
	}
	return o.meta.DeleteDocument(ctx, documentID)
}

// Chunks returns a document's stored chunk set in ordinal order.
func (o *Orchestrator) Chunks(ctx context.Context, documentID string) ([]schema.Chunk, error) {
	return o.chunks.GetByDocument(ctx, documentID)
}

func (o *Orchestrator) fetchSource(ctx context.Context, objectKey string) ([]byte, error) {
	reader, err := o.objects.Get(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// attachMetadata denormalizes document fields onto each chunk so index
// pushdown filters and citations work without a metadata join.
func (o *Orchestrator) attachMetadata(chunks []schema.Chunk, doc *models.Document) {
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]interface{})
		}
		chunks[i].Metadata[schema.MetadataKeyFileName] = doc.Filename
		chunks[i].Metadata[filters.FieldFileType] = string(doc.FileType)
		if doc.GroupID != nil {
			chunks[i].Metadata[filters.FieldGroupID] = *doc.GroupID
		}
	}
}

// embedChunks runs the embedding pass and applies the drop policy: failed
// chunks are dropped as long as the failed fraction stays at or below the
// configured threshold, above it the whole pass fails.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []schema.Chunk) ([]schema.Chunk, []int, error) {
	if len(chunks) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	result, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embed chunks: %w", err)
	}

	failedFraction := float64(len(result.Failed)) / float64(len(chunks))
	if len(result.Failed) == len(chunks) || failedFraction > o.cfg.DropThreshold {
		reasons := result.Failed[0].Reason
		return nil, nil, fmt.Errorf("embedding failed for %d of %d chunks: %w",
			len(result.Failed), len(chunks), reasons)
	}

	kept := make([]schema.Chunk, 0, len(chunks))
	var dropped []int
	for i := range chunks {
		if result.Vectors[i] == nil {
			dropped = append(dropped, chunks[i].Ordinal)
			continue
		}
		chunks[i].Embedding = result.Vectors[i]
		kept = append(kept, chunks[i])
	}
	return kept, dropped, nil
}

// replaceIndexed swaps the document's vectors, retrying when the index is
// temporarily unavailable.
func (o *Orchestrator) replaceIndexed(ctx context.Context, documentID string, chunks []schema.Chunk) error {
	var lastErr error
	for attempt := 0; attempt < o.cfg.IndexAttempts; attempt++ {
		if attempt > 0 {
			o.sleep(time.Duration(attempt) * time.Second)
		}
		if err := o.index.DeleteByDocument(ctx, documentID); err != nil {
			lastErr = err
			if errors.Is(err, ragerr.ErrIndexUnavailable) {
				continue
			}
			return fmt.Errorf("clear index: %w", err)
		}
		if err := o.index.Upsert(ctx, chunks); err != nil {
			lastErr = err
			if errors.Is(err, ragerr.ErrIndexUnavailable) {
				continue
			}
			return fmt.Errorf("index chunks: %w", err)
		}
		return nil
	}
	return fmt.Errorf("index replace exhausted %d attempts: %w", o.cfg.IndexAttempts, lastErr)
}

// commit writes the pass outcome onto the document record.
func (o *Orchestrator) commit(ctx context.Context, documentID string, content *schema.ExtractedContent, kept []schema.Chunk, dropped []int, status models.DocumentStatus) error {
	doc, err := o.meta.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	doc.Status = status
	doc.FailReason = ""
	doc.ChunkCount = len(kept)
	doc.DroppedChunks = datatypes.JSONSlice[int](dropped)
	doc.Pages = content.Pages
	doc.Words = content.Words
	if content.Title != "" {
		doc.Title = content.Title
	}
	if content.Author != "" {
		doc.Author = content.Author
	}
	if content.Language != "" {
		doc.Language = content.Language
	}
	return o.meta.UpdateDocument(ctx, doc)
}

// fail records a pass failure. A document that was searchable before the
// pass keeps its status and old chunks; the failure lands in FailReason.
func (o *Orchestrator) fail(ctx context.Context, documentID string, prevStatus models.DocumentStatus, cause error) error {
	status := models.StatusFailed
	if prevStatus.Searchable() {
		status = prevStatus
	}
	if err := o.meta.UpdateStatus(ctx, documentID, status, cause.Error()); err != nil {
		o.log.WithDocument(documentID).WithError(err).Error("failed to record ingestion failure")
	}
	o.log.WithDocument(documentID).WithError(cause).Warn("ingestion pass failed")
	return cause
}
