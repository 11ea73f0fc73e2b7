// Package mailer consumes the email queue and delivers each task over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/engine"
	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
)

// Dead-letter headers on email_queue.dead.
const (
	HeaderDeathReason = "x-death-reason"
	HeaderAttempts    = "x-attempts"
)

// Broker is the part of a queue connection the worker needs.
type Broker interface {
	Consume(queue, tag string) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
	IsHealthy() bool
}

type Options struct {
	From string
	// Prefetch is both the broker prefetch and the number of concurrent sends.
	Prefetch int
	// MaxAttempts dead-letters a message after that many failed sends.
	// Zero requeues forever.
	MaxAttempts int
	// ResubscribeInterval is the wait before consuming again after the
	// delivery channel closes. Zero means 2s.
	ResubscribeInterval time.Duration
}

// Worker processes email tasks with at most Prefetch sends in flight.
// A message is acked only after a successful send.
type Worker struct {
	broker   Broker
	sender   Sender
	attempts AttemptTracker
	opts     Options
	log      *zap.Logger
}

func NewWorker(b Broker, s Sender, a AttemptTracker, opts Options, log *zap.Logger) *Worker {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 5
	}
	if opts.ResubscribeInterval <= 0 {
		opts.ResubscribeInterval = 2 * time.Second
	}
	if opts.From == "" {
		opts.From = fallbackFrom
	}
	return &Worker{broker: b, sender: s, attempts: a, opts: opts, log: log.With(zap.String("queue", model.QueueEmail))}
}

// Run consumes until ctx is cancelled, resubscribing whenever the delivery
// channel closes. Sends already in flight finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	pool := engine.NewPool(context.WithoutCancel(ctx), w.opts.Prefetch, 0, w.handle)
	defer pool.Drain()

	tag := "email-worker-" + uuid.NewString()
	w.log.Info("worker started", zap.String("consumer_tag", tag), zap.Int("prefetch", w.opts.Prefetch), zap.Int("max_attempts", w.opts.MaxAttempts))

	for {
		deliveries, err := w.broker.Consume(model.QueueEmail, tag)
		if err != nil {
			w.log.Warn("consume failed, will retry", zap.Error(err))
		} else if !w.pump(ctx, pool, deliveries) {
			w.log.Info("worker stopping", zap.Int("in_flight", pool.InFlight()))
			return nil
		} else {
			w.log.Warn("delivery channel closed, resubscribing")
		}

		if !w.waitHealthy(ctx) {
			return nil
		}
	}
}

// pump feeds deliveries to the pool. It returns false when ctx ends and true
// when the delivery channel closes.
func (w *Worker) pump(ctx context.Context, pool *engine.Pool[amqp.Delivery], deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			// Unsubmitted deliveries stay unacked and return to the queue
			// when the channel closes.
			if err := pool.SubmitWait(ctx, d); err != nil {
				return false
			}
		}
	}
}

func (w *Worker) waitHealthy(ctx context.Context) bool {
	t := time.NewTicker(w.opts.ResubscribeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if w.broker.IsHealthy() {
				return true
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	metrics.EmailInFlight.Inc()
	defer metrics.EmailInFlight.Dec()

	log := w.log.With(zap.Uint64("delivery_tag", d.DeliveryTag), zap.String("message_id", d.MessageId))

	var task model.EmailTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		log.Error("malformed email task", zap.Error(err))
		w.deadLetter(ctx, log, d, fmt.Sprintf("malformed payload: %v", err), 0)
		return
	}
	log = log.With(zap.String("tx_id", task.TxID), zap.String("to", task.To))

	start := time.Now()
	err := w.sender.Send(ctx, w.compose(task, d.Body))
	metrics.EmailSendDuration.Observe(float64(time.Since(start).Milliseconds()))

	key := attemptKey(d)
	if err == nil {
		if w.opts.MaxAttempts > 0 {
			if err := w.attempts.Clear(ctx, key); err != nil {
				log.Warn("clear attempts failed", zap.Error(err))
			}
		}
		w.ack(log, d)
		metrics.EmailDeliveries.WithLabelValues("sent").Inc()
		log.Info("email sent")
		return
	}

	log.Error("send failed", zap.Error(err))
	if w.opts.MaxAttempts > 0 {
		n, terr := w.attempts.Incr(ctx, key)
		if terr != nil {
			log.Warn("attempt tracking failed, requeueing", zap.Error(terr))
		} else if n >= w.opts.MaxAttempts {
			if w.deadLetter(ctx, log, d, err.Error(), n) {
				if err := w.attempts.Clear(ctx, key); err != nil {
					log.Warn("clear attempts failed", zap.Error(err))
				}
			}
			return
		}
	}
	w.requeue(log, d)
}

// compose fills subject and body defaults from the raw payload.
func (w *Worker) compose(task model.EmailTask, raw []byte) Mail {
	m := Mail{From: w.opts.From, To: task.To, Subject: task.Subject, Body: task.Body}
	if m.Subject == "" {
		m.Subject = "Transaction notification " + task.TxID
	}
	if m.Body == "" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err == nil {
			m.Body = buf.String()
		} else {
			m.Body = string(raw)
		}
	}
	return m
}

// deadLetter parks d on the dead-letter queue and acks it. If parking fails
// d is requeued instead. It reports whether d was parked.
func (w *Worker) deadLetter(ctx context.Context, log *zap.Logger, d amqp.Delivery, reason string, attempts int) bool {
	err := w.broker.Publish(ctx, model.QueueEmailDeadLetter, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			HeaderDeathReason: reason,
			HeaderAttempts:    int32(attempts),
		},
		Body: d.Body,
	})
	if err != nil {
		metrics.DeadLetters.WithLabelValues(model.QueueEmail, "error").Inc()
		log.Error("dead-letter publish failed, requeueing", zap.Error(err))
		w.requeue(log, d)
		return false
	}
	metrics.DeadLetters.WithLabelValues(model.QueueEmail, "ok").Inc()
	metrics.EmailDeliveries.WithLabelValues("dead_lettered").Inc()
	log.Warn("email task dead-lettered", zap.String("reason", reason), zap.Int("attempts", attempts))
	w.ack(log, d)
	return true
}

func (w *Worker) ack(log *zap.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
}

func (w *Worker) requeue(log *zap.Logger, d amqp.Delivery) {
	metrics.EmailDeliveries.WithLabelValues("requeued").Inc()
	if err := d.Nack(false, true); err != nil {
		log.Error("nack failed", zap.Error(err))
	}
}

// attemptKey identifies a message across redeliveries.
func attemptKey(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	sum := sha256.Sum256(d.Body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
