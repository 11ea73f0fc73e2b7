// Package stream wraps kafka-go for the pipeline's append-only logs: consumer
// group readers, keyed writers, idempotent topic creation and dead letters.
package stream

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/logger"
)

// Reader is the subset of *kafka.Reader the consumers use.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Writer is the subset of *kafka.Writer the producers use.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader joins topic as consumer group. A new group starts at the end of
// the log; offsets are committed on the reader's interval, independent of what
// the handler does with each message.
func NewReader(brokers []string, topic, group string, log *zap.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		Logger:         kafka.LoggerFunc(logger.Printf(log)),
		ErrorLogger:    kafka.LoggerFunc(logger.ErrorPrintf(log)),
	})
}

// NewWriter produces to topic. Messages are partitioned by key hash so all
// messages for one tx_id land on the same partition.
func NewWriter(brokers []string, topic string, log *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger:  kafka.LoggerFunc(logger.ErrorPrintf(log)),
	}
}
