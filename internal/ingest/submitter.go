package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"docqa/internal/models"
	"docqa/internal/store/metastore"
	"docqa/pkg/logger"
)

// Submission is one upload request.
type Submission struct {
	Filename string
	FileType models.FileType
	Size     int64
	Reader   io.Reader

	GroupID  *string
	Tags     []string
	Metadata map[string]interface{}
}

// Submitter accepts uploads: it stores the raw bytes, creates the pending
// document record and enqueues the ingestion task. Parsing and indexing
// happen later, in the worker.
type Submitter struct {
	meta    metastore.Store
	objects ObjectStore
	queue   Publisher
	log     *logger.Logger
}

func NewSubmitter(meta metastore.Store, objects ObjectStore, queue Publisher, log *logger.Logger) *Submitter {
	return &Submitter{meta: meta, objects: objects, queue: queue, log: log}
}

// Submit validates and registers an upload, returning the pending document.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*models.Document, error) {
	if sub.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if !supportedType(sub.FileType) {
		return nil, fmt.Errorf("unsupported file type %q", sub.FileType)
	}
	if sub.Size <= 0 {
		return nil, fmt.Errorf("file is empty")
	}
	if sub.GroupID != nil {
		if _, err := s.meta.GetGroup(ctx, *sub.GroupID); err != nil {
			return nil, fmt.Errorf("resolve group: %w", err)
		}
	}

	doc := &models.Document{
		ID:       uuid.New().String(),
		Filename: sub.Filename,
		FileType: sub.FileType,
		Status:   models.StatusPending,
		Size:     sub.Size,
		GroupID:  sub.GroupID,
		Metadata: datatypes.JSONMap(sub.Metadata),
	}
	doc.ObjectKey = fmt.Sprintf("documents/%s/%s", doc.ID, sub.Filename)

	for _, name := range sub.Tags {
		tag, err := s.meta.GetOrCreateTag(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve tag %q: %w", name, err)
		}
		doc.Tags = append(doc.Tags, *tag)
	}

	if err := s.objects.Put(ctx, doc.ObjectKey, sub.Reader, sub.Size); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.meta.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := s.queue.Publish(ctx, doc.ID); err != nil {
		// The record stays pending; a retry request can re-enqueue it.
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}

	s.log.WithDocument(doc.ID).WithField("filename", doc.Filename).Info("document submitted")
	return doc, nil
}

// Resubmit re-enqueues an existing document for processing, used by the
// retry endpoint after a failed pass.
func (s *Submitter) Resubmit(ctx context.Context, documentID string) error {
	if _, err := s.meta.GetDocument(ctx, documentID); err != nil {
		return err
	}
	if err := s.queue.Publish(ctx, documentID); err != nil {
		return fmt.Errorf("enqueue ingestion: %w", err)
	}
	s.log.WithDocument(documentID).Info("document re-enqueued")
	return nil
}

func supportedType(ft models.FileType) bool {
	for _, t := range models.SupportedFileTypes {
		if t == ft {
			return true
		}
	}
	return false
}
