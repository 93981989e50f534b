package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"

	"docqa/internal/rag/ragerr"
	"docqa/pkg/logger"
)

// MessageReader is the slice of kafka.Reader the worker consumes through.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker consumes ingestion tasks and drives the orchestrator. Pass
// failures are recorded on the document record, so every message commits.
// Lock conflicts are requeued through the publisher before committing;
// committing a later offset would otherwise drop the skipped message.
type Worker struct {
	reader  MessageReader
	orch    *Orchestrator
	requeue Publisher
	log     *logger.Logger
}

func NewWorker(reader MessageReader, orch *Orchestrator, requeue Publisher, log *logger.Logger) *Worker {
	return &Worker{reader: reader, orch: orch, requeue: requeue, log: log}
}

// Run consumes until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := w.handle(ctx, msg); err != nil {
			// Leaving the message uncommitted is only safe while no later
			// offset on the partition commits, so handle keeps this path
			// for the rare case the requeue itself fails.
			if errors.Is(err, ragerr.ErrAlreadyProcessing) {
				continue
			}
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.log.WithError(err).Error("failed to commit ingestion message")
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	var task Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		w.log.WithError(err).Error("discarding malformed ingestion message")
		return nil
	}
	if task.DocumentID == "" {
		w.log.Error("discarding ingestion message without document id")
		return nil
	}

	if err := w.orch.Process(ctx, task.DocumentID); err != nil {
		if errors.Is(err, ragerr.ErrAlreadyProcessing) {
			if w.requeue != nil {
				if pubErr := w.requeue.Publish(ctx, task.DocumentID); pubErr != nil {
					w.log.WithDocument(task.DocumentID).WithError(pubErr).Error("failed to requeue locked document")
					return err
				}
				w.log.WithDocument(task.DocumentID).Warn("document locked by another worker, requeued task")
				return nil
			}
			w.log.WithDocument(task.DocumentID).Warn("document locked by another worker, leaving message for redelivery")
			return err
		}
		w.log.WithDocument(task.DocumentID).WithError(err).Warn("ingestion task failed")
	}
	return nil
}
