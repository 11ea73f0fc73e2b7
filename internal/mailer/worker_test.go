package mailer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/queue/queuetest"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Mail
	err  error

	block         chan struct{}
	current, peak atomic.Int64
}

func (f *fakeSender) Send(_ context.Context, m Mail) error {
	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) Sent() []Mail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Mail(nil), f.sent...)
}

const settleTimeout = 2 * time.Second

// startWorker runs w until the test ends.
func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newTestWorker(b *queuetest.Broker, s Sender, maxAttempts int) *Worker {
	return NewWorker(b, s, NewMemoryAttempts(), Options{
		From:                "alerts@ledger.local",
		Prefetch:            5,
		MaxAttempts:         maxAttempts,
		ResubscribeInterval: 5 * time.Millisecond,
	}, zap.NewNop())
}

func TestWorker_AcksAfterSuccessfulSend(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{}
	startWorker(t, newTestWorker(broker, sender, 0))

	tag := broker.Deliver([]byte(`{"to":"ana@mail.local","subject":"Transaction t1 COMPLETED","body":"done","tx_id":"t1"}`), "m1")
	require.True(t, broker.WaitSettled(1, settleTimeout))

	outcome, _ := broker.Outcome(tag)
	assert.Equal(t, queuetest.Acked, outcome)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, Mail{From: "alerts@ledger.local", To: "ana@mail.local", Subject: "Transaction t1 COMPLETED", Body: "done"}, sent[0])
}

func TestWorker_DefaultsSubjectAndBody(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{}
	startWorker(t, newTestWorker(broker, sender, 0))

	broker.Deliver([]byte(`{"to":"bo@mail.local","tx_id":"t7"}`), "m1")
	require.True(t, broker.WaitSettled(1, settleTimeout))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Transaction notification t7", sent[0].Subject)
	assert.Equal(t, "{\n  \"to\": \"bo@mail.local\",\n  \"tx_id\": \"t7\"\n}", sent[0].Body)
}

func TestWorker_FailedSendRequeuesForeverWithoutLimit(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{err: errors.New("454 try again later")}
	startWorker(t, newTestWorker(broker, sender, 0))

	for i := 1; i <= 10; i++ {
		tag := broker.Deliver([]byte(`{"to":"x@mail.local","tx_id":"t1"}`), "m1")
		require.True(t, broker.WaitSettled(i, settleTimeout))
		outcome, _ := broker.Outcome(tag)
		assert.Equal(t, queuetest.Requeued, outcome, "delivery %d", i)
	}
	assert.Empty(t, broker.Published(model.QueueEmailDeadLetter))
}

func TestWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{err: errors.New("550 mailbox unavailable")}
	startWorker(t, newTestWorker(broker, sender, 3))

	body := []byte(`{"to":"gone@mail.local","tx_id":"t1"}`)
	var outcomes []queuetest.Outcome
	for i := 1; i <= 3; i++ {
		tag := broker.Deliver(body, "m1")
		require.True(t, broker.WaitSettled(i, settleTimeout))
		o, _ := broker.Outcome(tag)
		outcomes = append(outcomes, o)
	}
	assert.Equal(t, []queuetest.Outcome{queuetest.Requeued, queuetest.Requeued, queuetest.Acked}, outcomes)

	parked := broker.Published(model.QueueEmailDeadLetter)
	require.Len(t, parked, 1)
	assert.Equal(t, body, parked[0].Body)
	assert.Equal(t, "m1", parked[0].MessageId)
	assert.Equal(t, amqp.Persistent, parked[0].DeliveryMode)
	assert.Equal(t, int32(3), parked[0].Headers[HeaderAttempts])
	assert.Contains(t, parked[0].Headers[HeaderDeathReason], "550")
}

func TestWorker_CounterResetsAfterSuccess(t *testing.T) {
	broker := queuetest.NewBroker()
	attempts := NewMemoryAttempts()
	sender := &fakeSender{err: errors.New("timeout")}
	w := NewWorker(broker, sender, attempts, Options{Prefetch: 1, MaxAttempts: 5, ResubscribeInterval: time.Millisecond}, zap.NewNop())
	startWorker(t, w)

	broker.Deliver([]byte(`{"to":"a@mail.local"}`), "m1")
	require.True(t, broker.WaitSettled(1, settleTimeout))

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	broker.Deliver([]byte(`{"to":"a@mail.local"}`), "m1")
	require.True(t, broker.WaitSettled(2, settleTimeout))

	n, err := attempts.Incr(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "success clears the counter")
}

func TestWorker_MalformedPayloadIsDeadLettered(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{}
	startWorker(t, newTestWorker(broker, sender, 0))

	tag := broker.Deliver([]byte(`{not json`), "")
	require.True(t, broker.WaitSettled(1, settleTimeout))

	outcome, _ := broker.Outcome(tag)
	assert.Equal(t, queuetest.Acked, outcome)
	assert.Empty(t, sender.Sent())

	parked := broker.Published(model.QueueEmailDeadLetter)
	require.Len(t, parked, 1)
	assert.Contains(t, parked[0].Headers[HeaderDeathReason], "malformed payload")
}

func TestWorker_MalformedPayloadRequeuedWhenDeadLetterFails(t *testing.T) {
	broker := queuetest.NewBroker()
	broker.FailPublish(model.QueueEmailDeadLetter, errors.New("channel closed"))
	startWorker(t, newTestWorker(broker, &fakeSender{}, 0))

	tag := broker.Deliver([]byte(`nope`), "")
	require.True(t, broker.WaitSettled(1, settleTimeout))

	outcome, _ := broker.Outcome(tag)
	assert.Equal(t, queuetest.Requeued, outcome)
}

func TestWorker_AtMostPrefetchInFlight(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{block: make(chan struct{})}
	startWorker(t, newTestWorker(broker, sender, 0))

	tags := make([]uint64, 20)
	for i := range tags {
		tags[i] = broker.Deliver([]byte(`{"to":"a@mail.local","tx_id":"t"}`), "")
	}

	deadline := time.Now().Add(settleTimeout)
	for sender.current.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(5), sender.current.Load())
	assert.Zero(t, broker.Settlements(), "nothing is acked before its send completes")

	close(sender.block)
	require.True(t, broker.WaitSettled(20, settleTimeout))
	assert.LessOrEqual(t, sender.peak.Load(), int64(5))
	for _, tag := range tags {
		o, _ := broker.Outcome(tag)
		assert.Equal(t, queuetest.Acked, o)
	}
}

func TestWorker_ResubscribesAfterChannelLoss(t *testing.T) {
	broker := queuetest.NewBroker()
	sender := &fakeSender{}
	startWorker(t, newTestWorker(broker, sender, 0))

	broker.Deliver([]byte(`{"to":"a@mail.local"}`), "m1")
	require.True(t, broker.WaitSettled(1, settleTimeout))

	broker.Drop()
	broker.Deliver([]byte(`{"to":"b@mail.local"}`), "m2")
	require.True(t, broker.WaitSettled(2, settleTimeout))

	assert.GreaterOrEqual(t, broker.Consumes(), 2)
	assert.Len(t, sender.Sent(), 2)
}

func TestAttemptKey(t *testing.T) {
	withID := amqp.Delivery{MessageId: "abc", Body: []byte("x")}
	assert.Equal(t, "abc", attemptKey(withID))

	a := attemptKey(amqp.Delivery{Body: []byte(`{"to":"a"}`)})
	b := attemptKey(amqp.Delivery{Body: []byte(`{"to":"a"}`)})
	c := attemptKey(amqp.Delivery{Body: []byte(`{"to":"b"}`)})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
