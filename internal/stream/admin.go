package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ConnectAttempts bounds startup retries before a broker is considered unreachable.
const ConnectAttempts = 10

// EnsureTopic creates topic if it does not exist. An existing topic is not an
// error. Broker connection failures are retried with exponential backoff.
func EnsureTopic(ctx context.Context, brokers []string, topic string, log *zap.Logger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("ensure topic %s: no brokers configured", topic)
	}

	op := func() error {
		conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return fmt.Errorf("dial %s: %w", brokers[0], err)
		}
		defer conn.Close()

		controller, err := conn.Controller()
		if err != nil {
			return fmt.Errorf("find controller: %w", err)
		}
		ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
		if err != nil {
			return fmt.Errorf("dial controller: %w", err)
		}
		defer ctrl.Close()

		err = ctrl.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
		switch {
		case err == nil:
			log.Info("topic created", zap.String("topic", topic))
			return nil
		case errors.Is(err, kafka.TopicAlreadyExists):
			return nil
		}
		return fmt.Errorf("create topic: %w", err)
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("kafka not ready, retrying", zap.String("topic", topic), zap.Duration("backoff", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, connectBackOff(ctx), notify); err != nil {
		return fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	return nil
}

func connectBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, ConnectAttempts-1), ctx)
}
