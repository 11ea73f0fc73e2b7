// Package queuetest provides an in-memory broker standing in for a RabbitMQ
// connection in tests.
package queuetest

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome is how a delivery was settled.
type Outcome string

const (
	Acked    Outcome = "ack"
	Requeued Outcome = "nack_requeue"
	Dropped  Outcome = "nack_drop"
)

// Broker records publishes and hands out deliveries whose acks it tracks.
// The zero value is not usable; call NewBroker.
type Broker struct {
	mu         sync.Mutex
	published  map[string][]amqp.Publishing
	publishErr map[string]error
	deliveries chan amqp.Delivery
	nextTag    uint64
	settled    map[uint64]Outcome
	order      []uint64
	unhealthy  bool
	consumes   int
	changed    chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		published:  map[string][]amqp.Publishing{},
		publishErr: map[string]error{},
		deliveries: make(chan amqp.Delivery, 1024),
		settled:    map[uint64]Outcome{},
		changed:    make(chan struct{}),
	}
}

// FailPublish makes every publish to queue return err. A nil err clears it.
func (b *Broker) FailPublish(queue string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr[queue] = err
}

func (b *Broker) Publish(_ context.Context, queue string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.publishErr[queue]; err != nil {
		return err
	}
	b.published[queue] = append(b.published[queue], msg)
	return nil
}

// Published returns a copy of what was published to queue.
func (b *Broker) Published(queue string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Publishing(nil), b.published[queue]...)
}

func (b *Broker) Consume(string, string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unhealthy {
		return nil, errors.New("queuetest: broker down")
	}
	b.consumes++
	return b.deliveries, nil
}

// Consumes returns how many times Consume succeeded.
func (b *Broker) Consumes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumes
}

// Drop closes the current delivery channel, as a lost AMQP channel does, and
// prepares a fresh one for the next Consume.
func (b *Broker) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.deliveries)
	b.deliveries = make(chan amqp.Delivery, 1024)
}

func (b *Broker) SetHealthy(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unhealthy = !ok
}

func (b *Broker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.unhealthy
}

// Deliver queues body for the consumer and returns its delivery tag.
func (b *Broker) Deliver(body []byte, messageID string) uint64 {
	b.mu.Lock()
	b.nextTag++
	d := amqp.Delivery{
		Acknowledger: b,
		DeliveryTag:  b.nextTag,
		MessageId:    messageID,
		ContentType:  "application/json",
		Body:         body,
	}
	ch := b.deliveries
	b.mu.Unlock()
	ch <- d
	return d.DeliveryTag
}

func (b *Broker) Ack(tag uint64, _ bool) error {
	b.settle(tag, Acked)
	return nil
}

func (b *Broker) Nack(tag uint64, _ bool, requeue bool) error {
	if requeue {
		b.settle(tag, Requeued)
	} else {
		b.settle(tag, Dropped)
	}
	return nil
}

func (b *Broker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

func (b *Broker) settle(tag uint64, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settled[tag] = o
	b.order = append(b.order, tag)
	close(b.changed)
	b.changed = make(chan struct{})
}

// Outcome returns how tag was settled, if it was.
func (b *Broker) Outcome(tag uint64) (Outcome, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.settled[tag]
	return o, ok
}

// Settlements returns how many ack/nack calls have been made in total.
func (b *Broker) Settlements() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// WaitSettled blocks until at least n settlements happened or timeout passes.
func (b *Broker) WaitSettled(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		b.mu.Lock()
		done := len(b.order) >= n
		changed := b.changed
		b.mu.Unlock()
		if done {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}
