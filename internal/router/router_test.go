package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/queue/queuetest"
	"github.com/gyaneshwarpardhi/txmon/internal/stream/streamtest"
)

func event(id, status, email string) model.TransactionEvent {
	return model.TransactionEvent{
		TxID:     id,
		FromUser: "ana",
		ToUser:   "bo",
		Amount:   decimal.RequireFromString("125.50"),
		Status:   status,
		Email:    email,
	}
}

func run(t *testing.T, r *Router, events ...model.TransactionEvent) {
	t.Helper()
	reader := streamtest.NewReader(model.TopicTransactions)
	for _, ev := range events {
		reader.AddJSON(ev)
	}
	require.NoError(t, r.Consumer(reader, nil).Run(context.Background()))
}

func decodeTasks(t *testing.T, msgs []amqp.Publishing) []model.EmailTask {
	t.Helper()
	tasks := make([]model.EmailTask, 0, len(msgs))
	for _, m := range msgs {
		var task model.EmailTask
		require.NoError(t, json.Unmarshal(m.Body, &task))
		tasks = append(tasks, task)
	}
	return tasks
}

func TestRouter_OnlyTerminalStatusesEnqueue(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{model.StatusCompleted, 1},
		{model.StatusFailed, 1},
		{model.StatusPending, 0},
		{"REVERSED", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			broker := queuetest.NewBroker()
			run(t, New(broker, zap.NewNop()), event("t1", tt.status, ""))
			assert.Len(t, broker.Published(model.QueueEmail), tt.want)
		})
	}
}

func TestRouter_TaskContentAndDelivery(t *testing.T) {
	broker := queuetest.NewBroker()
	r := New(broker, zap.NewNop())
	r.newID = func() string { return "msg-1" }
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return at }

	run(t, r, event("t1", model.StatusCompleted, "ana@example.com"))

	msgs := broker.Published(model.QueueEmail)
	require.Len(t, msgs, 1)
	assert.Equal(t, amqp.Persistent, msgs[0].DeliveryMode)
	assert.Equal(t, "application/json", msgs[0].ContentType)
	assert.Equal(t, "msg-1", msgs[0].MessageId)
	assert.Equal(t, at, msgs[0].Timestamp)

	task := decodeTasks(t, msgs)[0]
	assert.Equal(t, "ana@example.com", task.To)
	assert.Equal(t, "Transaction t1 COMPLETED", task.Subject)
	assert.Equal(t, "t1", task.TxID)
	assert.Equal(t, "Details:\nFrom: ana\nTo: bo\nAmount: $125.5\nStatus: COMPLETED\nID: t1", task.Body)
}

func TestRouter_RecipientFallback(t *testing.T) {
	broker := queuetest.NewBroker()
	run(t, New(broker, zap.NewNop()), event("t2", model.StatusFailed, ""))

	tasks := decodeTasks(t, broker.Published(model.QueueEmail))
	require.Len(t, tasks, 1)
	assert.Equal(t, "ana@mail.local", tasks[0].To)
	assert.Equal(t, "Transaction t2 FAILED", tasks[0].Subject)
}

func TestRouter_FreshMessageIDPerTask(t *testing.T) {
	broker := queuetest.NewBroker()
	ev := event("t1", model.StatusCompleted, "")
	run(t, New(broker, zap.NewNop()), ev, ev)

	msgs := broker.Published(model.QueueEmail)
	require.Len(t, msgs, 2, "redelivered events produce another task")
	assert.NotEmpty(t, msgs[0].MessageId)
	assert.NotEqual(t, msgs[0].MessageId, msgs[1].MessageId)
}

func TestRouter_PublishErrorIsSwallowed(t *testing.T) {
	broker := queuetest.NewBroker()
	broker.FailPublish(model.QueueEmail, errors.New("channel closed"))
	r := New(broker, zap.NewNop())

	run(t, r, event("t1", model.StatusCompleted, ""))

	broker.FailPublish(model.QueueEmail, nil)
	run(t, r, event("t2", model.StatusCompleted, ""))

	tasks := decodeTasks(t, broker.Published(model.QueueEmail))
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].TxID)
}
