package stream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
)

// Consumer reads one topic as one consumer group and hands each decoded
// message to Handle, in log order. A message that fails to decode is
// dead-lettered and skipped; it is never redelivered.
type Consumer[T any] struct {
	Reader     Reader
	Topic      string
	Group      string
	Decode     func([]byte) (T, error)
	Handle     func(ctx context.Context, v T, msg kafka.Message)
	DeadLetter DeadLetterSink // optional
	Log        *zap.Logger

	// MaxReadBackoff caps the wait between failed reads. Zero means 30s.
	MaxReadBackoff time.Duration

	failing atomic.Bool
}

// Healthy is false from a failed read until the next successful one.
func (c *Consumer[T]) Healthy() bool {
	return !c.failing.Load()
}

// Run blocks until ctx is cancelled or the reader is closed.
func (c *Consumer[T]) Run(ctx context.Context) error {
	log := c.Log.With(zap.String("topic", c.Topic), zap.String("group", c.Group))
	log.Info("consumer started")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	if c.MaxReadBackoff > 0 {
		b.MaxInterval = c.MaxReadBackoff
		b.InitialInterval = min(b.InitialInterval, c.MaxReadBackoff)
	}
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info("consumer stopped")
				return nil
			}
			metrics.StreamReadErrors.WithLabelValues(c.Topic, c.Group).Inc()
			c.setFailing(true)
			wait := b.NextBackOff()
			log.Warn("read failed, backing off", zap.Duration("backoff", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
		c.setFailing(false)
		c.dispatch(ctx, log, msg)
	}
}

func (c *Consumer[T]) setFailing(v bool) {
	c.failing.Store(v)
	up := 1.0
	if v {
		up = 0
	}
	metrics.StreamConsumerUp.WithLabelValues(c.Topic, c.Group).Set(up)
}

func (c *Consumer[T]) dispatch(ctx context.Context, log *zap.Logger, msg kafka.Message) {
	v, err := c.Decode(msg.Value)
	if err != nil {
		metrics.StreamMessages.WithLabelValues(c.Topic, c.Group, "malformed").Inc()
		log.Error("malformed message skipped",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		if c.DeadLetter != nil {
			if err := c.DeadLetter.DeadLetter(ctx, msg, c.Group, err); err != nil {
				log.Error("dead-letter failed", zap.Error(err))
			}
		}
		return
	}
	metrics.StreamMessages.WithLabelValues(c.Topic, c.Group, "ok").Inc()
	c.Handle(ctx, v, msg)
}
