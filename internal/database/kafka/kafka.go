// Package kafka owns the ingestion queue connections.
package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"docqa/internal/config"
)

var (
	writer  *kafka.Writer
	once    sync.Once
	initErr error
)

// EnsureTopic creates the ingestion topic if it does not exist yet.
func EnsureTopic(cfg *config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve kafka controller: %w", err)
	}
	ctrlConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer ctrlConn.Close()

	partitions, err := ctrlConn.ReadPartitions(cfg.IngestTopic)
	if err == nil && len(partitions) > 0 {
		return nil
	}
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.IngestTopic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("create topic %q: %w", cfg.IngestTopic, err)
	}
	return nil
}

// GetWriter initializes and returns the shared producer for the
// ingestion topic.
func GetWriter(cfg *config.KafkaConfig) (*kafka.Writer, error) {
	once.Do(func() {
		if err := EnsureTopic(cfg); err != nil {
			initErr = err
			return
		}
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.IngestTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
			RequiredAcks: kafka.RequireOne,
		}
	})
	return writer, initErr
}

// NewReader builds a consumer for the ingestion topic. Each worker gets
// its own reader; the consumer group coordinates partition assignment.
func NewReader(cfg *config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.IngestTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// Close flushes and shuts down the shared writer.
func Close() error {
	if writer == nil {
		return nil
	}
	return writer.Close()
}

// HealthCheck dials the first broker.
func HealthCheck(ctx context.Context, cfg *config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	dialer := &kafka.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka health check: %w", err)
	}
	return conn.Close()
}
