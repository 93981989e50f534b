package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"docqa/internal/config"
	"docqa/internal/extract"
	"docqa/internal/index"
	"docqa/internal/models"
	"docqa/internal/rag/chunker"
	"docqa/internal/rag/embedder"
	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
	"docqa/internal/store/chunkstore"
	"docqa/internal/store/metastore"
	"docqa/pkg/logger"
)

// fakeProvider embeds by text length and fails any text containing a
// poison marker, mirroring a provider that rejects individual inputs.
type fakeProvider struct {
	poison string
	calls  int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.poison != "" && strings.Contains(text, f.poison) {
		return nil, fmt.Errorf("input rejected: %w", ragerr.ErrEmbeddingPermanent)
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.poison != "" {
		for _, t := range texts {
			if strings.Contains(t, f.poison) {
				return nil, fmt.Errorf("batch rejected: %w", ragerr.ErrEmbeddingPermanent)
			}
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

// flakyIndexer fails its first n calls with an unavailable index.
type flakyIndexer struct {
	*index.MemoryIndex
	failures int
}

func (f *flakyIndexer) DeleteByDocument(ctx context.Context, documentID string) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("delete: %w", ragerr.ErrIndexUnavailable)
	}
	return f.MemoryIndex.DeleteByDocument(ctx, documentID)
}

type fixture struct {
	meta    *metastore.MemoryStore
	chunks  *chunkstore.MemoryStore
	index   *index.MemoryIndex
	objects *MemoryObjectStore
	queue   *MemoryQueue
	locker  *MemoryLocker
	sub     *Submitter
	orch    *Orchestrator
}

func newFixture(t *testing.T, provider *fakeProvider, idx Indexer) *fixture {
	t.Helper()
	log := logger.New("ingest-test")
	f := &fixture{
		meta:    metastore.NewMemoryStore(),
		chunks:  chunkstore.NewMemoryStore(),
		index:   index.NewMemoryIndex(),
		objects: NewMemoryObjectStore(),
		queue:   NewMemoryQueue(),
		locker:  NewMemoryLocker(),
	}
	if idx == nil {
		idx = f.index
	}
	f.sub = NewSubmitter(f.meta, f.objects, f.queue, log)
	coordinator := embedder.New(provider, nil, embedder.Config{
		MaxBatchSize: 8,
		MaxAttempts:  1,
		BaseBackoff:  time.Millisecond,
	}, log)
	engine := chunker.New(chunker.Config{TargetSize: 60, MinSize: 10, MaxSize: 120, Overlap: 0})
	f.orch = NewOrchestrator(f.meta, f.chunks, idx, f.objects, extract.NewRegistry(), engine, coordinator, f.locker,
		config.IngestConfig{DropThreshold: 0.5, LockTTL: time.Minute, IndexAttempts: 3}, log)
	f.orch.sleep = func(time.Duration) {}
	return f
}

func (f *fixture) submitText(t *testing.T, text string) *models.Document {
	t.Helper()
	doc, err := f.sub.Submit(context.Background(), Submission{
		Filename: "notes.txt",
		FileType: models.FileTypeTxt,
		Size:     int64(len(text)),
		Reader:   strings.NewReader(text),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return doc
}

const sampleText = "The quarterly revenue grew in every region.\n\n" +
	"Engineering headcount stayed flat through the period.\n\n" +
	"Customer churn dropped after the support changes landed."

func TestSubmitCreatesPendingAndEnqueues(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)

	if doc.Status != models.StatusPending {
		t.Fatalf("status = %q, want pending", doc.Status)
	}
	if doc.ObjectKey == "" {
		t.Fatal("expected object key to be set")
	}
	published := f.queue.Published()
	if len(published) != 1 || published[0] != doc.ID {
		t.Fatalf("published = %v, want [%s]", published, doc.ID)
	}
	if _, err := f.objects.Get(context.Background(), doc.ObjectKey); err != nil {
		t.Fatalf("stored object missing: %v", err)
	}
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	_, err := f.sub.Submit(context.Background(), Submission{
		Filename: "app.exe",
		FileType: models.FileType("exe"),
		Size:     10,
		Reader:   strings.NewReader("MZbinary..."),
	})
	if err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestProcessCompletesDocument(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)
	ctx := context.Background()

	if err := f.orch.Process(ctx, doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := f.meta.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed (reason %q)", got.Status, got.FailReason)
	}
	if got.ChunkCount == 0 {
		t.Fatal("expected a nonzero chunk count")
	}
	if got.Words == 0 {
		t.Fatal("expected word count from extraction")
	}

	chunks, err := f.chunks.GetByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByDocument: %v", err)
	}
	if len(chunks) != got.ChunkCount {
		t.Fatalf("stored %d chunks, record says %d", len(chunks), got.ChunkCount)
	}
	if name := chunks[0].Metadata[schema.MetadataKeyFileName]; name != "notes.txt" {
		t.Fatalf("chunk file_name = %v, want notes.txt", name)
	}
}

func TestProcessParseFailureMarksFailed(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, "stub")
	ctx := context.Background()

	// Overwrite the stored object with bytes no text extractor accepts.
	if err := f.objects.Put(ctx, doc.ObjectKey, strings.NewReader("\xff\xfe\xfd"), 3); err != nil {
		t.Fatalf("Put: %v", err)
	}

	err := f.orch.Process(ctx, doc.ID)
	if !errors.Is(err, ragerr.ErrParseFailure) {
		t.Fatalf("err = %v, want ErrParseFailure", err)
	}

	got, _ := f.meta.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.FailReason == "" {
		t.Fatal("expected fail reason to be recorded")
	}
	chunks, _ := f.chunks.GetByDocument(ctx, doc.ID)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for a failed first pass, got %d", len(chunks))
	}
}

func TestReprocessFailureKeepsOldChunksSearchable(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)
	ctx := context.Background()

	if err := f.orch.Process(ctx, doc.ID); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	before, _ := f.chunks.GetByDocument(ctx, doc.ID)

	if err := f.objects.Put(ctx, doc.ObjectKey, strings.NewReader("\xff\xfe\xfd"), 3); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := f.orch.Process(ctx, doc.ID); err == nil {
		t.Fatal("expected reprocess to fail")
	}

	got, _ := f.meta.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed preserved", got.Status)
	}
	if got.FailReason == "" {
		t.Fatal("expected reprocess failure to be recorded")
	}
	after, _ := f.chunks.GetByDocument(ctx, doc.ID)
	if len(after) != len(before) {
		t.Fatalf("chunk set changed: %d -> %d", len(before), len(after))
	}
}

func TestProcessHeldLockReturnsAlreadyProcessing(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)
	ctx := context.Background()

	if _, ok, err := f.locker.Acquire(ctx, lockKey(doc.ID), time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}

	err := f.orch.Process(ctx, doc.ID)
	if !errors.Is(err, ragerr.ErrAlreadyProcessing) {
		t.Fatalf("err = %v, want ErrAlreadyProcessing", err)
	}
}

func TestProcessDropsFailedChunksBelowThreshold(t *testing.T) {
	f := newFixture(t, &fakeProvider{poison: "zebra"}, nil)
	text := "The quarterly revenue grew in every region.\n\n" +
		"A zebra wandered into the data.\n\n" +
		"Customer churn dropped after the support changes landed."
	doc := f.submitText(t, text)
	ctx := context.Background()

	if err := f.orch.Process(ctx, doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := f.meta.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusCompletedWithWarnings {
		t.Fatalf("status = %q, want completed_with_warnings", got.Status)
	}
	if len(got.DroppedChunks) == 0 {
		t.Fatal("expected dropped ordinals to be recorded")
	}
	chunks, _ := f.chunks.GetByDocument(ctx, doc.ID)
	for _, c := range chunks {
		if strings.Contains(c.Text, "zebra") {
			t.Fatal("dropped chunk text still stored")
		}
	}
}

func TestProcessFailsAboveDropThreshold(t *testing.T) {
	f := newFixture(t, &fakeProvider{poison: "the"}, nil)
	doc := f.submitText(t, "the first part talks about the plan.\n\nthe second part repeats the plan.")
	ctx := context.Background()

	if err := f.orch.Process(ctx, doc.ID); err == nil {
		t.Fatal("expected pass to fail when every chunk is dropped")
	}
	got, _ := f.meta.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestProcessRetriesUnavailableIndex(t *testing.T) {
	flaky := &flakyIndexer{MemoryIndex: index.NewMemoryIndex(), failures: 2}
	f := newFixture(t, &fakeProvider{}, flaky)
	doc := f.submitText(t, sampleText)
	ctx := context.Background()

	if err := f.orch.Process(ctx, doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := f.meta.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed after retries", got.Status)
	}
}

func TestProcessExhaustedIndexRetriesFails(t *testing.T) {
	flaky := &flakyIndexer{MemoryIndex: index.NewMemoryIndex(), failures: 10}
	f := newFixture(t, &fakeProvider{}, flaky)
	doc := f.submitText(t, sampleText)
	ctx := context.Background()

	err := f.orch.Process(ctx, doc.ID)
	if !errors.Is(err, ragerr.ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}
	got, _ := f.meta.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestRemoveDeletesEverywhere(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)
	ctx := context.Background()

	if err := f.orch.Process(ctx, doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := f.orch.Remove(ctx, doc.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := f.meta.GetDocument(ctx, doc.ID); !errors.Is(err, ragerr.ErrNotFound) {
		t.Fatalf("GetDocument err = %v, want ErrNotFound", err)
	}
	chunks, _ := f.chunks.GetByDocument(ctx, doc.ID)
	if len(chunks) != 0 {
		t.Fatalf("expected chunks removed, got %d", len(chunks))
	}
	if _, err := f.objects.Get(ctx, doc.ObjectKey); err == nil {
		t.Fatal("expected stored object removed")
	}
}

// commitFailStore refuses the document update that commits a pass.
type commitFailStore struct {
	*metastore.MemoryStore
}

func (s *commitFailStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	return errors.New("metastore write refused")
}

func TestProcessCommitFailureMarksFailed(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)
	f.orch.meta = &commitFailStore{MemoryStore: f.meta}

	err := f.orch.Process(context.Background(), doc.ID)
	if err == nil || !strings.Contains(err.Error(), "commit document") {
		t.Fatalf("Process error = %v, want a commit failure", err)
	}

	got, getErr := f.meta.GetDocument(context.Background(), doc.ID)
	if getErr != nil {
		t.Fatalf("GetDocument: %v", getErr)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed after a first-pass commit failure", got.Status)
	}
	if got.FailReason == "" {
		t.Fatal("commit failure must be recorded on the document")
	}
}

// scriptedReader serves a fixed message list, then io.EOF.
type scriptedReader struct {
	messages  []kafka.Message
	committed int
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed += len(msgs)
	return nil
}

func TestWorkerProcessesAndCommits(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)

	task, _ := json.Marshal(Task{DocumentID: doc.ID})
	reader := &scriptedReader{messages: []kafka.Message{
		{Value: task},
		{Value: []byte("not json")},
	}}
	worker := NewWorker(reader, f.orch, nil, logger.New("worker-test"))

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reader.committed != 2 {
		t.Fatalf("committed %d messages, want 2", reader.committed)
	}
	got, _ := f.meta.GetDocument(context.Background(), doc.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestWorkerRequeuesLockedDocument(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)

	ctx := context.Background()
	if _, ok, err := f.locker.Acquire(ctx, lockKey(doc.ID), time.Minute); err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}

	requeue := NewMemoryQueue()
	task, _ := json.Marshal(Task{DocumentID: doc.ID})
	reader := &scriptedReader{messages: []kafka.Message{{Value: task}}}
	worker := NewWorker(reader, f.orch, requeue, logger.New("worker-test"))

	if err := worker.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The locked task goes back on the queue and its message commits, so
	// a later commit on the partition cannot swallow it.
	if reader.committed != 1 {
		t.Fatalf("committed %d messages, want 1", reader.committed)
	}
	published := requeue.Published()
	if len(published) != 1 || published[0] != doc.ID {
		t.Fatalf("requeued %v, want [%s]", published, doc.ID)
	}
}

func TestResubmitEnqueuesExistingDocument(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, nil)
	doc := f.submitText(t, sampleText)

	if err := f.sub.Resubmit(context.Background(), doc.ID); err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if got := f.queue.Published(); len(got) != 2 {
		t.Fatalf("published %d tasks, want 2", len(got))
	}

	err := f.sub.Resubmit(context.Background(), "missing-id")
	if !errors.Is(err, ragerr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
