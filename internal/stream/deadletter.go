package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
)

// Dead-letter header keys.
const (
	HeaderSourceTopic     = "source_topic"
	HeaderSourcePartition = "source_partition"
	HeaderSourceOffset    = "source_offset"
	HeaderConsumerGroup   = "consumer_group"
	HeaderError           = "error"
)

// DeadLetterSink parks messages a consumer cannot process.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg kafka.Message, group string, cause error) error
}

// DeadLetters forwards unprocessable messages to a dedicated topic, keeping
// the original key and value and recording the origin in headers.
type DeadLetters struct {
	w Writer
}

// NewDeadLetters wraps a writer bound to the dead-letter topic.
func NewDeadLetters(w Writer) *DeadLetters {
	return &DeadLetters{w: w}
}

func (d *DeadLetters) DeadLetter(ctx context.Context, msg kafka.Message, group string, cause error) error {
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
			{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: HeaderConsumerGroup, Value: []byte(group)},
			{Key: HeaderError, Value: []byte(cause.Error())},
		},
	}
	if err := d.w.WriteMessages(ctx, out); err != nil {
		metrics.DeadLetters.WithLabelValues(msg.Topic, "error").Inc()
		return fmt.Errorf("dead-letter %s@%d: %w", msg.Topic, msg.Offset, err)
	}
	metrics.DeadLetters.WithLabelValues(msg.Topic, "ok").Inc()
	return nil
}
