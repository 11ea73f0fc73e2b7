// Package queue holds a supervised RabbitMQ connection: durable queue
// declaration, per-channel prefetch, and reconnect on broker or channel loss.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
)

// ErrNotConnected is returned when no open channel is available.
var ErrNotConnected = errors.New("queue: channel not open")

// DialAttempts bounds the initial connection attempts; reconnects retry forever.
const DialAttempts = 10

// Options describes what a connection sets up on every (re)connect.
type Options struct {
	URL  string
	Name string // connection_name shown in the management UI
	// Queues are declared durable on every (re)connect.
	Queues []string
	// Prefetch is applied with basic.qos to the channel. Zero leaves it unlimited.
	Prefetch int
}

// Connection manages one AMQP connection and channel with automatic recovery.
type Connection struct {
	opts Options
	log  *zap.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects, retrying with exponential backoff up to DialAttempts, then
// starts monitoring the connection.
func Dial(ctx context.Context, opts Options, log *zap.Logger) (*Connection, error) {
	cctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		opts:   opts,
		log:    log.With(zap.String("broker", "rabbitmq")),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b := backoff.WithContext(backoff.WithMaxRetries(initialBackOff(), DialAttempts-1), ctx)
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return c.connect()
	}, b, func(err error, wait time.Duration) {
		c.log.Warn("connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", DialAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", attempt, err)
	}
	c.log.Info("connected", zap.Int("attempt", attempt), zap.Strings("queues", opts.Queues))

	go c.monitor()
	return c, nil
}

func initialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// connect dials and prepares a fresh channel, replacing any previous one.
func (c *Connection) connect() error {
	conn, err := amqp.DialConfig(c.opts.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": c.opts.Name,
		},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	for _, q := range c.opts.Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	if c.opts.Prefetch > 0 {
		if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
			conn.Close()
			return fmt.Errorf("set qos: %w", err)
		}
	}

	c.mu.Lock()
	old := c.conn
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	if old != nil && !old.IsClosed() {
		old.Close()
	}
	metrics.BrokerUp.WithLabelValues("rabbitmq").Set(1)
	return nil
}

// monitor waits for the connection or channel to close and reconnects.
func (c *Connection) monitor() {
	defer close(c.done)
	for {
		c.mu.RLock()
		connClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))
		chClose := c.ch.NotifyClose(make(chan *amqp.Error, 1))
		c.mu.RUnlock()

		var cause *amqp.Error
		select {
		case <-c.ctx.Done():
			return
		case cause = <-connClose:
		case cause = <-chClose:
		}
		metrics.BrokerUp.WithLabelValues("rabbitmq").Set(0)
		if cause != nil {
			c.log.Error("connection lost, reconnecting", zap.String("reason", cause.Reason), zap.Int("code", cause.Code))
		} else {
			c.log.Warn("connection closed, reconnecting")
		}
		if !c.reconnect() {
			return
		}
	}
}

// reconnect retries until it succeeds or the connection is closed.
func (c *Connection) reconnect() bool {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return c.connect()
	}, backoff.WithContext(initialBackOff(), c.ctx), func(err error, wait time.Duration) {
		c.log.Warn("reconnect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return false
	}
	c.log.Info("reconnected", zap.Int("attempt", attempt))
	return true
}

func (c *Connection) channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ch == nil || c.ch.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.ch, nil
}

// Publish sends msg to queue through the default exchange. While the channel
// is being replaced it retries briefly before giving up.
func (c *Connection) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Reset()
	return backoff.Retry(func() error {
		ch, err := c.channel()
		if err != nil {
			return err
		}
		if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
			if ch.IsClosed() {
				return err
			}
			return backoff.Permanent(fmt.Errorf("publish to %s: %w", queue, err))
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
}

// Consume registers a manual-ack consumer on queue. The returned channel is
// closed when the underlying channel dies; callers consume again once
// IsHealthy reports true.
func (c *Connection) Consume(queue, tag string) (<-chan amqp.Delivery, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// IsHealthy reports whether the connection and channel are open.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// Close stops reconnecting and closes the connection.
func (c *Connection) Close() error {
	c.cancel()
	<-c.done
	c.mu.Lock()
	conn := c.conn
	c.conn, c.ch = nil, nil
	c.mu.Unlock()
	metrics.BrokerUp.WithLabelValues("rabbitmq").Set(0)
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
