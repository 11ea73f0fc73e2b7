// Package router turns terminal transaction events into email tasks.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

// Publisher sends a message to a named durable queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
}

type Router struct {
	pub   Publisher
	log   *zap.Logger
	newID func() string
	now   func() time.Time
}

func New(pub Publisher, log *zap.Logger) *Router {
	return &Router{pub: pub, log: log, newID: uuid.NewString, now: time.Now}
}

// Handle enqueues one email task for a COMPLETED or FAILED event and ignores
// every other status. Publish failures are logged; the event is not retried.
func (r *Router) Handle(ctx context.Context, ev model.TransactionEvent, _ kafka.Message) {
	if !ev.IsTerminal() {
		return
	}
	task := BuildTask(ev)
	body, err := json.Marshal(task)
	if err != nil {
		r.log.Error("marshal email task", zap.String("tx_id", ev.TxID), zap.Error(err))
		return
	}

	id := r.newID()
	err = r.pub.Publish(ctx, model.QueueEmail, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    r.now(),
		Body:         body,
	})
	if err != nil {
		metrics.EmailTasksEnqueued.WithLabelValues(ev.Status, "error").Inc()
		r.log.Error("enqueue email task failed", zap.String("tx_id", ev.TxID), zap.Error(err))
		return
	}
	metrics.EmailTasksEnqueued.WithLabelValues(ev.Status, "ok").Inc()
	r.log.Info("email task enqueued",
		zap.String("tx_id", ev.TxID),
		zap.String("status", ev.Status),
		zap.String("to", task.To),
		zap.String("message_id", id),
	)
}

// BuildTask renders the notification for a terminal event.
func BuildTask(ev model.TransactionEvent) model.EmailTask {
	var b strings.Builder
	b.WriteString("Details:\n")
	fmt.Fprintf(&b, "From: %s\n", ev.FromUser)
	fmt.Fprintf(&b, "To: %s\n", ev.ToUser)
	fmt.Fprintf(&b, "Amount: $%s\n", ev.Amount.String())
	fmt.Fprintf(&b, "Status: %s\n", ev.Status)
	fmt.Fprintf(&b, "ID: %s", ev.TxID)

	return model.EmailTask{
		To:      ev.Recipient(),
		Subject: fmt.Sprintf("Transaction %s %s", ev.TxID, ev.Status),
		Body:    b.String(),
		TxID:    ev.TxID,
	}
}

// Consumer wires the router to the transactions_log stream.
func (r *Router) Consumer(rd stream.Reader, dl stream.DeadLetterSink) *stream.Consumer[model.TransactionEvent] {
	return &stream.Consumer[model.TransactionEvent]{
		Reader:     rd,
		Topic:      model.TopicTransactions,
		Group:      model.GroupNotificationRouter,
		Decode:     model.DecodeTransaction,
		Handle:     r.Handle,
		DeadLetter: dl,
		Log:        r.log,
	}
}
