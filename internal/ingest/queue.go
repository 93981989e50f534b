package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Task is the message carried on the ingestion topic. Messages are keyed by
// document id so reprocess requests for one document land on one partition
// in order.
type Task struct {
	DocumentID string `json:"document_id"`
}

// Publisher enqueues ingestion tasks.
type Publisher interface {
	Publish(ctx context.Context, documentID string) error
}

// KafkaPublisher produces tasks onto the ingestion topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, documentID string) error {
	payload, err := json.Marshal(Task{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(documentID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish task for document %s: %w", documentID, err)
	}
	return nil
}

// MemoryQueue is an in-process Publisher for tests; published ids are
// retrievable in order.
type MemoryQueue struct {
	mu  sync.Mutex
	ids []string
}

var _ Publisher = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Publish(ctx context.Context, documentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, documentID)
	return nil
}

// Published returns the ids enqueued so far.
func (q *MemoryQueue) Published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
